package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/transport"
)

type recorder struct {
	mu      sync.Mutex
	updates []conversation.Update
}

func (r *recorder) emit(u conversation.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) messages() []conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Message
	for _, u := range r.updates {
		if u.Kind == conversation.UpdateMessage {
			out = append(out, u.Message)
		}
	}
	return out
}

func (r *recorder) artifacts() []conversation.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Artifact
	for _, u := range r.updates {
		if u.Kind == conversation.UpdateArtifacts {
			out = append(out, u.Artifacts...)
		}
	}
	return out
}

type capturedRequest struct {
	Method string `json:"method"`
	Params struct {
		Message Message `json:"message"`
	} `json:"params"`
}

func TestSessionContinuityCarriesTaskID(t *testing.T) {
	var (
		mu       sync.Mutex
		received []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		received = append(received, req)
		n := len(received)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":"1","result":{"kind":"task","id":"T1","contextId":"ctx","history":[{"role":"user","parts":[{"kind":"text","text":"q"}]},{"role":"agent","parts":[{"kind":"text","text":"reply %d"}]}]}}`, n)
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Director: transport.New(transport.Config{})})
	rec := &recorder{}
	if err := s.Send(context.Background(), "first", rec.emit); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if s.ContinuityID() != "T1" {
		t.Fatalf("ContinuityID = %q, want T1", s.ContinuityID())
	}
	if err := s.Send(context.Background(), "second", rec.emit); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("requests = %d, want 2", len(received))
	}
	if received[0].Params.Message.TaskID != "" {
		t.Errorf("first envelope taskId = %q, want empty", received[0].Params.Message.TaskID)
	}
	second := received[1]
	if second.Method != MethodSend {
		t.Errorf("method = %q, want %q", second.Method, MethodSend)
	}
	if second.Params.Message.TaskID != "T1" {
		t.Errorf("second envelope taskId = %q, want T1", second.Params.Message.TaskID)
	}
	if got := second.Params.Message.Parts; len(got) != 1 || got[0].Kind != PartText || got[0].Text != "second" {
		t.Errorf("parts = %+v", got)
	}
	if second.Params.Message.Role != RoleUser || second.Params.Message.MessageID == "" {
		t.Errorf("message = %+v", second.Params.Message)
	}

	msgs := rec.messages()
	if len(msgs) != 2 || msgs[0].Content != "reply 1" || msgs[1].Content != "reply 2" {
		t.Errorf("messages = %+v", msgs)
	}
	if s.State() != StateActive {
		t.Errorf("State = %q, want active", s.State())
	}
}

func TestSessionContextIDContinuity(t *testing.T) {
	var (
		mu   sync.Mutex
		last capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		last = capturedRequest{}
		json.NewDecoder(r.Body).Decode(&last)
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"taskSnapshot":{"contextId":"CX"},"message":{"parts":[{"kind":"text","text":"ok"}]}}}`))
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Director: transport.New(transport.Config{})})
	rec := &recorder{}
	s.Send(context.Background(), "a", rec.emit)
	if err := s.Send(context.Background(), "b", rec.emit); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if last.Params.Message.ContextID != "CX" || last.Params.Message.TaskID != "" {
		t.Errorf("message = %+v, want contextId CX", last.Params.Message)
	}
	if c := s.Continuity(); c.Field != FieldContextID {
		t.Errorf("Field = %q, want contextId", c.Field)
	}
}

func TestSessionStreamingStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != MethodStream {
			t.Errorf("method = %q, want %q", req.Method, MethodStream)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"kind\":\"status-update\",\"taskId\":\"T9\",\"status\":{\"state\":\"working\"}}\n\n")
		fmt.Fprint(w, "data: {\"role\":\"agent\",\"content\":\"hello\"}\n\n")
		fmt.Fprint(w, "data: {\"artifacts\":[{\"name\":\"notes.md\",\"mimeType\":\"text/markdown\",\"url\":\"https://x/notes.md\"}]}\n\n")
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Streaming: true, Director: transport.New(transport.Config{})})
	rec := &recorder{}
	if err := s.Send(context.Background(), "hi", rec.emit); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := rec.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want status frame and chat", msgs)
	}
	if msgs[0].Role != "status" {
		t.Errorf("first role = %q, want status", msgs[0].Role)
	}
	if msgs[1].Role != "agent" || msgs[1].Content != "hello" {
		t.Errorf("chat = %+v", msgs[1])
	}
	arts := rec.artifacts()
	if len(arts) != 1 || arts[0].Locator != "https://x/notes.md" || arts[0].MimeType != "text/markdown" {
		t.Errorf("artifacts = %+v", arts)
	}
	if s.ContinuityID() != "T9" {
		t.Errorf("ContinuityID = %q, want T9", s.ContinuityID())
	}
}

func TestSessionStreamLocator(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a2a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"id":"T2","streamUrl":"/events/T2"}}`))
	})
	mux.HandleFunc("/events/T2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"role\":\"agent\",\"content\":\"streamed\"}\n\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL + "/a2a", Director: transport.New(transport.Config{})})
	rec := &recorder{}
	if err := s.Send(context.Background(), "hi", rec.emit); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := rec.messages()
	if len(msgs) != 1 || msgs[0].Content != "streamed" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestSessionRelayCollectedStream(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":200,"body":[{"jsonrpc":"2.0","id":"1","result":{"kind":"task","id":"T5","history":[{"role":"agent","parts":[{"kind":"text","text":"via relay"}]}]}},"plain text frame"]}`))
	}))
	defer relay.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL
	dead.Close()

	s := NewSession(SessionConfig{
		Endpoint:  target,
		Streaming: true,
		Director:  transport.New(transport.Config{RelayURL: relay.URL}),
	})
	rec := &recorder{}
	if err := s.Send(context.Background(), "hi", rec.emit); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := rec.messages()
	if len(msgs) != 2 || msgs[0].Content != "via relay" || msgs[1].Content != "plain text frame" {
		t.Errorf("messages = %+v", msgs)
	}
	if s.ContinuityID() != "T5" {
		t.Errorf("ContinuityID = %q, want T5", s.ContinuityID())
	}
}

func TestSessionJSONRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Director: transport.New(transport.Config{})})
	err := s.Send(context.Background(), "hi", (&recorder{}).emit)
	var pe *transport.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *transport.ProtocolError", err)
	}
	if pe.Code != ErrCodeNotFound {
		t.Errorf("Code = %d, want %d", pe.Code, ErrCodeNotFound)
	}
	if s.State() != StateError {
		t.Errorf("State = %q, want error", s.State())
	}
}

func TestSessionStreamErrorNoReconnect(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"id\":\"1\",\"error\":{\"code\":-32603,\"message\":\"agent crashed\"}}\n\n")
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Streaming: true, Director: transport.New(transport.Config{})})
	if err := s.Send(context.Background(), "hi", (&recorder{}).emit); err == nil {
		t.Fatal("expected stream error")
	}
	if s.State() != StateError {
		t.Errorf("State = %q, want error", s.State())
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestSessionTransport(t *testing.T) {
	s := NewSession(SessionConfig{})
	if s.Transport() != conversation.TransportA2A {
		t.Errorf("Transport = %q", s.Transport())
	}
	if err := s.Open(context.Background(), nil); err != nil {
		t.Errorf("Open: %v", err)
	}
	if s.ContinuityID() != "" {
		t.Errorf("fresh session continuity = %q, want empty", s.ContinuityID())
	}
}

func TestSessionCloseIgnoresLateResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"kind":"task","id":"T9","status":{"state":"completed"}}}`))
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{Endpoint: srv.URL, Director: transport.New(transport.Config{})})
	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "hello", (&recorder{}).emit) }()
	<-entered
	s.Close()
	close(release)

	if err := <-done; err != nil {
		t.Errorf("Send err = %v, want nil", err)
	}
	if s.ContinuityID() != "" {
		t.Errorf("ContinuityID = %q after Close, want empty", s.ContinuityID())
	}
	if s.State() != StateClosed {
		t.Errorf("State = %q, want %q", s.State(), StateClosed)
	}
}
