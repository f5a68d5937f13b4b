package mockagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/igorsilveira/parley/pkg/mcp"
)

type thread struct {
	id        string
	pending   []mcp.ReplyMessage
	artifacts []mcp.ReplyArtifact
	readyAt   time.Time
	ready     chan struct{}
	lastUsed  time.Time
}

// Threads is an in-memory chat thread store serving the MCP triplet. Each message sent to
// a thread queues one echo reply, released by the next check_replies once ready.
type Threads struct {
	mu      sync.Mutex
	threads map[string]*thread
	delay   time.Duration
}

func NewThreads(delay time.Duration) *Threads {
	return &Threads{threads: make(map[string]*thread), delay: delay}
}

func (t *Threads) BeginChatThread(ctx context.Context) (json.RawMessage, error) {
	id := uuid.NewString()
	t.mu.Lock()
	t.threads[id] = &thread{id: id, ready: make(chan struct{}), lastUsed: time.Now()}
	t.mu.Unlock()
	return json.Marshal(mcp.NewBeginResult(id))
}

func (t *Threads) SendMessage(ctx context.Context, req mcp.SendRequest) (json.RawMessage, error) {
	t.mu.Lock()
	th, ok := t.threads[req.ConversationID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", mcp.ErrUnknownConversation, req.ConversationID)
	}
	th.lastUsed = time.Now()
	th.pending = append(th.pending, mcp.ReplyMessage{Role: "agent", Text: echo(req.Message)})
	if wantsArtifact(req.Message) {
		th.artifacts = append(th.artifacts, mcp.ReplyArtifact{
			Name:     "echo.txt",
			MimeType: "text/plain",
			Locator:  "data:text/plain;base64," + encodeBase64(req.Message),
		})
	}
	th.readyAt = time.Now().Add(t.delay)
	ready := th.ready
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		time.AfterFunc(delay, func() { t.signal(req.ConversationID, ready) })
	} else {
		t.signal(req.ConversationID, ready)
	}
	return json.Marshal(mcp.SendResult{Status: mcp.StatusSent, ConversationID: req.ConversationID})
}

// CheckReplies waits up to waitMs for queued replies. Without any it reports active so the
// caller polls again.
func (t *Threads) CheckReplies(ctx context.Context, req mcp.CheckRequest) (json.RawMessage, error) {
	t.mu.Lock()
	th, ok := t.threads[req.ConversationID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", mcp.ErrUnknownConversation, req.ConversationID)
	}
	th.lastUsed = time.Now()
	ready := th.ready
	waiting := len(th.pending) > 0 && time.Now().Before(th.readyAt)
	t.mu.Unlock()

	if waiting && req.WaitMs > 0 {
		timer := time.NewTimer(time.Duration(req.WaitMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ready:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	res := mcp.CheckResult{Status: mcp.StatusActive, Messages: []mcp.ReplyMessage{}}
	if len(th.pending) > 0 && !time.Now().Before(th.readyAt) {
		res.Status = mcp.StatusCompleted
		res.Messages = th.pending
		res.Artifacts = th.artifacts
		th.pending = nil
		th.artifacts = nil
		th.ready = make(chan struct{})
	} else if len(th.pending) == 0 {
		res.Status = mcp.StatusCompleted
	}
	return json.Marshal(res)
}

func (t *Threads) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.threads)
}

// Expire drops threads untouched for longer than idle and reports how many went.
func (t *Threads) Expire(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, th := range t.threads {
		if th.lastUsed.Before(cutoff) {
			delete(t.threads, id)
			n++
		}
	}
	return n
}

func (t *Threads) signal(id string, ready chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	th, ok := t.threads[id]
	if !ok || th.ready != ready {
		return
	}
	select {
	case <-ready:
	default:
		close(ready)
	}
}

func echo(text string) string {
	return "echo: " + strings.TrimSpace(text)
}

func wantsArtifact(text string) bool {
	return strings.Contains(strings.ToLower(text), "artifact")
}
