package a2a

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/igorsilveira/parley/pkg/conversation"
)

type ContinuityField string

const (
	FieldTaskID    ContinuityField = "taskId"
	FieldContextID ContinuityField = "contextId"
)

type Continuity struct {
	Field ContinuityField
	ID    string
}

func (c Continuity) Empty() bool {
	return c.ID == ""
}

var continuityRules = []struct {
	field ContinuityField
	path  []string
}{
	{FieldTaskID, []string{"id"}},
	{FieldTaskID, []string{"taskId"}},
	{FieldContextID, []string{"taskSnapshot", "contextId"}},
}

// ExtractContinuity returns the first task or context id the result carries.
func ExtractContinuity(result map[string]any) (Continuity, bool) {
	for _, r := range continuityRules {
		if id := lookupString(result, r.path...); id != "" {
			return Continuity{Field: r.field, ID: id}, true
		}
	}
	return Continuity{}, false
}

type ReplyRule string

const (
	ReplyHistory       ReplyRule = "history"
	ReplyMessageParts  ReplyRule = "message.parts"
	ReplyDirectMessage ReplyRule = "parts"
	ReplyFileArtifacts ReplyRule = "artifacts.file"
	ReplyNone          ReplyRule = "none"
)

type Reply struct {
	Rule  ReplyRule
	Texts []string
}

var replyRules = []struct {
	rule    ReplyRule
	extract func(map[string]any) []string
}{
	{ReplyHistory, historyReply},
	{ReplyMessageParts, func(r map[string]any) []string {
		msg, _ := r["message"].(map[string]any)
		return nonEmpty(partsText(msg["parts"]))
	}},
	{ReplyDirectMessage, func(r map[string]any) []string {
		if kind, _ := r["kind"].(string); kind != KindMessage {
			return nil
		}
		return nonEmpty(partsText(r["parts"]))
	}},
	{ReplyFileArtifacts, fileArtifactReplies},
}

func ExtractReply(result map[string]any) Reply {
	for _, r := range replyRules {
		if texts := r.extract(result); len(texts) > 0 {
			return Reply{Rule: r.rule, Texts: texts}
		}
	}
	return Reply{Rule: ReplyNone}
}

// historyReply joins the text of agent entries that follow the most recent user entry,
// so replies from earlier turns of the same task are not repeated.
func historyReply(result map[string]any) []string {
	history, _ := result["history"].([]any)
	start := 0
	for i, h := range history {
		m, _ := h.(map[string]any)
		if role, _ := m["role"].(string); role == RoleUser {
			start = i + 1
		}
	}
	var texts []string
	for _, h := range history[start:] {
		m, _ := h.(map[string]any)
		if role, _ := m["role"].(string); role != RoleAgent {
			continue
		}
		if t := partsText(m["parts"]); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	return []string{strings.Join(texts, "\n")}
}

func fileArtifactReplies(result map[string]any) []string {
	artifacts, _ := result["artifacts"].([]any)
	var out []string
	for _, a := range artifacts {
		am, _ := a.(map[string]any)
		parts, _ := am["parts"].([]any)
		for _, p := range parts {
			pm, _ := p.(map[string]any)
			if kind, _ := pm["kind"].(string); kind != PartFile {
				continue
			}
			file, _ := pm["file"].(map[string]any)
			content, _ := file["bytes"].(string)
			if content == "" {
				continue
			}
			out = append(out, fence(decodeMaybeBase64(content)))
		}
	}
	return out
}

func decodeMaybeBase64(s string) string {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(b)
	}
	return s
}

func fence(s string) string {
	return "```\n" + strings.TrimRight(s, "\n") + "\n```"
}

func partsText(v any) string {
	parts, _ := v.([]any)
	var texts []string
	for _, p := range parts {
		pm, _ := p.(map[string]any)
		kind, _ := pm["kind"].(string)
		if kind == "" {
			kind, _ = pm["type"].(string)
		}
		if kind != PartText {
			continue
		}
		if t, _ := pm["text"].(string); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// ConvertArtifacts maps wire artifacts to timeline artifacts, one per file part. Items
// without parts are read as flat {name, mimeType, uri|url|locator} records.
func ConvertArtifacts(v any) []conversation.Artifact {
	list, _ := v.([]any)
	var out []conversation.Artifact
	for _, item := range list {
		am, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := firstString(am, "name", "artifactId")
		parts, hasParts := am["parts"].([]any)
		if !hasParts {
			out = append(out, conversation.Artifact{
				Name:     name,
				MimeType: firstString(am, "mimeType"),
				Locator:  firstString(am, "locator", "uri", "url"),
			})
			continue
		}
		for _, p := range parts {
			pm, _ := p.(map[string]any)
			art := conversation.Artifact{Name: name, MimeType: "text/plain"}
			if file, ok := pm["file"].(map[string]any); ok {
				if n := firstString(file, "name"); n != "" {
					art.Name = n
				}
				if mt := firstString(file, "mimeType"); mt != "" {
					art.MimeType = mt
				}
				art.Locator = firstString(file, "uri")
				if art.Locator == "" {
					if b := firstString(file, "bytes"); b != "" {
						art.Locator = fmt.Sprintf("data:%s;base64,%s", art.MimeType, b)
					}
				}
			}
			if art.Locator == "" {
				art.Locator = "artifact:" + firstString(am, "artifactId", "name")
			}
			out = append(out, art)
		}
	}
	return out
}

type EventKind int

const (
	EventChat EventKind = iota
	EventArtifacts
	EventResult
	EventStatus
)

// Event is one tagged stream payload.
type Event struct {
	Kind      EventKind
	Role      string
	Content   string
	Artifacts []conversation.Artifact
	Result    map[string]any
	Raw       string
}

// ParseEvent tags a stream payload. JSON-RPC envelopes are unwrapped first; anything
// that is not a chat message, artifact batch or task/message result is a status frame.
func ParseEvent(data []byte) (Event, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Event{Kind: EventStatus, Raw: string(data)}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		if s, isString := v.(string); isString {
			return Event{Kind: EventStatus, Raw: s}, nil
		}
		return Event{Kind: EventStatus, Raw: string(data)}, nil
	}

	if _, isRPC := m["jsonrpc"]; isRPC {
		if e, ok := m["error"].(map[string]any); ok {
			return Event{}, rpcError(e)
		}
		if r, ok := m["result"].(map[string]any); ok {
			m = r
			data, _ = json.Marshal(r)
		}
	}

	role, hasRole := m["role"].(string)
	content, hasContent := m["content"].(string)
	if hasRole && hasContent {
		return Event{Kind: EventChat, Role: role, Content: content, Raw: string(data)}, nil
	}
	if list, ok := m["artifacts"].([]any); ok && m["kind"] == nil {
		return Event{Kind: EventArtifacts, Artifacts: ConvertArtifacts(list), Raw: string(data)}, nil
	}
	switch kind, _ := m["kind"].(string); kind {
	case KindArtifact:
		return Event{Kind: EventArtifacts, Artifacts: ConvertArtifacts([]any{m["artifact"]}), Raw: string(data)}, nil
	case KindTask, KindMessage:
		return Event{Kind: EventResult, Result: m, Raw: string(data)}, nil
	}
	return Event{Kind: EventStatus, Result: m, Raw: string(data)}, nil
}

func lookupString(m map[string]any, path ...string) string {
	cur := m
	for i, key := range path {
		if i == len(path)-1 {
			s, _ := cur[key].(string)
			return s
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, _ := m[k].(string); s != "" {
			return s
		}
	}
	return ""
}
