package conversation

import (
	"slices"
	"sync"
	"time"
)

type Transport string

const (
	TransportA2A Transport = "a2a"
	TransportMCP Transport = "mcp"
)

func ParseTransport(s string) (Transport, bool) {
	switch Transport(s) {
	case TransportA2A, TransportMCP:
		return Transport(s), true
	}
	return "", false
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusPolling    Status = "polling"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Origin    Origin    `json:"origin"`
}

func NewMessage(role, content string, origin Origin) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now(), Origin: origin}
}

type Artifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Locator  string `json:"locator"`
}

// Conversation is the transport-neutral timeline. Artifacts are concatenated as
// received, so the same reference may appear more than once.
type Conversation struct {
	mu        sync.RWMutex
	messages  []Message
	artifacts []Artifact
}

func New() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
}

func (c *Conversation) AppendArtifacts(list []Artifact) {
	if len(list) == 0 {
		return
	}
	c.mu.Lock()
	c.artifacts = append(c.artifacts, list...)
	c.mu.Unlock()
}

func (c *Conversation) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.artifacts = nil
	c.mu.Unlock()
}

func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.messages)
}

func (c *Conversation) Artifacts() []Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.artifacts)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
