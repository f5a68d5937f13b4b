package mcp

import "encoding/json"

const (
	ToolBegin = "begin_chat_thread"
	ToolSend  = "send_message_to_chat_thread"
	ToolCheck = "check_replies"

	PathPrefix = "/api/mcp/"

	DefaultWaitMs = 2000
)

const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusSent      = "sent"
	StatusError     = "error"
)

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BeginResult carries the conversation id JSON-encoded inside content[0].text.
type BeginResult struct {
	Content []ContentItem `json:"content"`
}

type BeginPayload struct {
	ConversationID string `json:"conversationId"`
}

type SendRequest struct {
	ConversationID string `json:"conversationId" jsonschema:"conversation id returned by begin_chat_thread"`
	Message        string `json:"message" jsonschema:"message text"`
}

type SendResult struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationId"`
}

type CheckRequest struct {
	ConversationID string `json:"conversationId" jsonschema:"conversation id returned by begin_chat_thread"`
	WaitMs         int    `json:"waitMs,omitempty" jsonschema:"how long the server may wait for replies, in milliseconds"`
}

type ReplyMessage struct {
	Role    string `json:"role,omitempty"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

type ReplyArtifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Locator  string `json:"locator"`
}

type CheckResult struct {
	Status    string          `json:"status"`
	Messages  []ReplyMessage  `json:"messages"`
	Artifacts []ReplyArtifact `json:"artifacts,omitempty"`
}

func NewBeginResult(conversationID string) BeginResult {
	payload, _ := json.Marshal(BeginPayload{ConversationID: conversationID})
	return BeginResult{Content: []ContentItem{{Type: "text", Text: string(payload)}}}
}
