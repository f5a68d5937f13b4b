package mockagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/igorsilveira/parley/pkg/mcp"
)

func beginThread(t *testing.T, th *Threads) string {
	t.Helper()
	raw, err := th.BeginChatThread(context.Background())
	if err != nil {
		t.Fatalf("BeginChatThread: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	id, rule := mcp.ExtractConversationID(body)
	if rule != mcp.IDRuleContentText {
		t.Fatalf("id rule = %q, want content text", rule)
	}
	return id
}

func check(t *testing.T, th *Threads, id string, waitMs int) mcp.CheckResult {
	t.Helper()
	raw, err := th.CheckReplies(context.Background(), mcp.CheckRequest{ConversationID: id, WaitMs: waitMs})
	if err != nil {
		t.Fatalf("CheckReplies: %v", err)
	}
	var res mcp.CheckResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatal(err)
	}
	return res
}

func TestThreadsEcho(t *testing.T) {
	th := NewThreads(0)
	id := beginThread(t, th)

	if _, err := th.SendMessage(context.Background(), mcp.SendRequest{ConversationID: id, Message: "ping"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	res := check(t, th, id, 0)
	if res.Status != mcp.StatusCompleted {
		t.Errorf("Status = %q, want completed", res.Status)
	}
	if len(res.Messages) != 1 || res.Messages[0].Text != "echo: ping" {
		t.Errorf("Messages = %+v", res.Messages)
	}

	drained := check(t, th, id, 0)
	if len(drained.Messages) != 0 {
		t.Errorf("replies delivered twice: %+v", drained.Messages)
	}
}

func TestThreadsDelayedReply(t *testing.T) {
	th := NewThreads(200 * time.Millisecond)
	id := beginThread(t, th)
	if _, err := th.SendMessage(context.Background(), mcp.SendRequest{ConversationID: id, Message: "slow"}); err != nil {
		t.Fatal(err)
	}

	early := check(t, th, id, 1)
	if early.Status != mcp.StatusActive || len(early.Messages) != 0 {
		t.Errorf("early check = %+v, want active and empty", early)
	}

	late := check(t, th, id, 2000)
	if late.Status != mcp.StatusCompleted || len(late.Messages) != 1 {
		t.Errorf("long-poll check = %+v, want completed with one reply", late)
	}
}

func TestThreadsArtifact(t *testing.T) {
	th := NewThreads(0)
	id := beginThread(t, th)
	th.SendMessage(context.Background(), mcp.SendRequest{ConversationID: id, Message: "an artifact please"})

	res := check(t, th, id, 0)
	if len(res.Artifacts) != 1 || res.Artifacts[0].MimeType != "text/plain" {
		t.Errorf("Artifacts = %+v", res.Artifacts)
	}
}

func TestThreadsUnknownConversation(t *testing.T) {
	th := NewThreads(0)
	_, err := th.SendMessage(context.Background(), mcp.SendRequest{ConversationID: "nope", Message: "x"})
	if !errors.Is(err, mcp.ErrUnknownConversation) {
		t.Errorf("SendMessage err = %v, want ErrUnknownConversation", err)
	}
	_, err = th.CheckReplies(context.Background(), mcp.CheckRequest{ConversationID: "nope"})
	if !errors.Is(err, mcp.ErrUnknownConversation) {
		t.Errorf("CheckReplies err = %v, want ErrUnknownConversation", err)
	}
}

func TestTripletHTTP(t *testing.T) {
	h := testAgent(t)

	post := func(tool string, body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest("POST", mcp.PathPrefix+tool, bytes.NewReader(b))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := post(mcp.ToolSend, mcp.SendRequest{ConversationID: "missing", Message: "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = post(mcp.ToolSend, map[string]string{"message": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing conversationId status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = post(mcp.ToolBegin, map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("begin status = %d, want %d", w.Code, http.StatusOK)
	}
	if h.Threads().Len() != 1 {
		t.Errorf("threads = %d, want 1", h.Threads().Len())
	}
}

func TestThreadsExpire(t *testing.T) {
	th := NewThreads(0)
	ctx := context.Background()
	if _, err := th.BeginChatThread(ctx); err != nil {
		t.Fatalf("BeginChatThread: %v", err)
	}

	if n := th.Expire(time.Hour); n != 0 {
		t.Errorf("Expire(1h) = %d, want 0", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := th.Expire(time.Millisecond); n != 1 {
		t.Errorf("Expire(1ms) = %d, want 1", n)
	}
	if th.Len() != 0 {
		t.Errorf("Len = %d, want 0", th.Len())
	}
}
