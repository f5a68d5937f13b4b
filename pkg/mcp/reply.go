package mcp

import (
	"encoding/json"
	"strings"

	"github.com/igorsilveira/parley/pkg/conversation"
)

type IDRule string

const (
	IDRuleContentText IDRule = "content[0].text"
	IDRuleTopLevel    IDRule = "conversationId"
	IDRuleNone        IDRule = "none"
)

var idRules = []struct {
	rule    IDRule
	extract func(map[string]any) string
}{
	{IDRuleContentText, func(m map[string]any) string {
		content, _ := m["content"].([]any)
		if len(content) == 0 {
			return ""
		}
		first, _ := content[0].(map[string]any)
		text, _ := first["text"].(string)
		var payload BeginPayload
		if json.Unmarshal([]byte(text), &payload) != nil {
			return ""
		}
		return payload.ConversationID
	}},
	{IDRuleTopLevel, func(m map[string]any) string {
		id, _ := m["conversationId"].(string)
		return id
	}},
}

// ExtractConversationID reads the conversation id out of a begin_chat_thread reply.
func ExtractConversationID(body map[string]any) (string, IDRule) {
	for _, r := range idRules {
		if id := strings.TrimSpace(r.extract(body)); id != "" {
			return id, r.rule
		}
	}
	return "", IDRuleNone
}

var textFields = []string{"text", "content", "message"}

// ReplyText returns the textual payload of one reply entry, checking text, content and
// message in that order. Bare strings are their own text.
func ReplyText(entry any) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]any:
		for _, f := range textFields {
			if s, ok := v[f].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

type PollResult struct {
	Status    string
	Messages  []conversation.Message
	Artifacts []conversation.Artifact
	Continue  bool
}

func parsePoll(body map[string]any) *PollResult {
	status, _ := body["status"].(string)
	res := &PollResult{
		Status:   status,
		Continue: status == StatusActive || status == StatusPending,
	}
	entries, _ := body["messages"].([]any)
	for _, e := range entries {
		text := ReplyText(e)
		if text == "" {
			continue
		}
		role := "agent"
		if m, ok := e.(map[string]any); ok {
			if r, _ := m["role"].(string); r != "" {
				role = r
			}
		}
		res.Messages = append(res.Messages, conversation.NewMessage(role, text, conversation.OriginRemote))
	}
	arts, _ := body["artifacts"].([]any)
	for _, a := range arts {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		res.Artifacts = append(res.Artifacts, conversation.Artifact{
			Name:     stringField(m, "name", "title"),
			MimeType: stringField(m, "mimeType", "type"),
			Locator:  stringField(m, "locator", "uri", "url"),
		})
	}
	return res
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, _ := m[k].(string); s != "" {
			return s
		}
	}
	return ""
}
