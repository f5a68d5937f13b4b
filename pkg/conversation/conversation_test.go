package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestConversationAppendOrder(t *testing.T) {
	c := New()
	c.Append(NewMessage("user", "one", OriginLocal))
	c.Append(Message{Role: "agent", Content: "two", Origin: OriginRemote})

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Errorf("order = %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[1].Timestamp.IsZero() {
		t.Error("Append should stamp messages without a timestamp")
	}

	msgs[0].Content = "mutated"
	if c.Messages()[0].Content != "one" {
		t.Error("Messages should return a copy")
	}
}

func TestConversationArtifactsKeepDuplicates(t *testing.T) {
	c := New()
	a := Artifact{Name: "report.txt", MimeType: "text/plain", Locator: "file://r"}
	c.AppendArtifacts([]Artifact{a})
	c.AppendArtifacts([]Artifact{a})
	if got := len(c.Artifacts()); got != 2 {
		t.Errorf("artifacts = %d, want 2", got)
	}

	c.Reset()
	if c.Len() != 0 || len(c.Artifacts()) != 0 {
		t.Error("Reset should clear messages and artifacts")
	}
}

type fakeSession struct {
	transport  Transport
	continuity string
	openErr    error
	reply      string
	block      chan struct{}
	started    chan struct{}
	sends      int
	closed     atomic.Int32
}

func (f *fakeSession) Transport() Transport { return f.transport }
func (f *fakeSession) ContinuityID() string { return f.continuity }

func (f *fakeSession) Open(ctx context.Context, emit Emit) error {
	if f.openErr != nil {
		return f.openErr
	}
	if f.transport == TransportMCP {
		f.continuity = "C1"
	}
	return nil
}

func (f *fakeSession) Close() { f.closed.Add(1) }

func (f *fakeSession) Exchange(ctx context.Context, text string, emit Emit) error {
	f.sends++
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	f.continuity = "T1"
	emit(MessageUpdate(NewMessage("agent", f.reply, OriginRemote)))
	emit(ArtifactsUpdate([]Artifact{{Name: "a"}}))
	return nil
}

func TestControllerConnectAndSend(t *testing.T) {
	c := NewController(nil)
	s := &fakeSession{transport: TransportA2A, reply: "echo: hi"}

	if err := c.Connect(context.Background(), s); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if snap := c.Snapshot(); snap.Status != StatusActive || snap.ContinuityID != "" {
		t.Errorf("after connect = %+v", snap)
	}

	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	snap := c.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(snap.Messages))
	}
	if snap.Messages[0].Origin != OriginLocal || snap.Messages[1].Content != "echo: hi" {
		t.Errorf("messages = %+v", snap.Messages)
	}
	if len(snap.Artifacts) != 1 {
		t.Errorf("artifacts = %d, want 1", len(snap.Artifacts))
	}
	if snap.ContinuityID != "T1" {
		t.Errorf("ContinuityID = %q, want T1", snap.ContinuityID)
	}
	if snap.Busy {
		t.Error("Busy = true after send completed")
	}
}

func TestControllerSendWithoutSession(t *testing.T) {
	c := NewController(nil)
	if err := c.Send(context.Background(), "hi"); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestControllerConnectError(t *testing.T) {
	c := NewController(nil)
	boom := errors.New("boom")
	err := c.Connect(context.Background(), &fakeSession{transport: TransportMCP, openErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if snap := c.Snapshot(); snap.Status != StatusError {
		t.Errorf("Status = %q, want error", snap.Status)
	}
}

func TestControllerBusy(t *testing.T) {
	c := NewController(nil)
	s := &fakeSession{transport: TransportA2A, reply: "r", block: make(chan struct{}), started: make(chan struct{})}
	if err := c.Connect(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.Send(context.Background(), "first"); err != nil {
			t.Errorf("first Send: %v", err)
		}
	}()
	<-s.started

	if err := c.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if !c.Snapshot().Busy {
		t.Error("Busy = false while a send is pending")
	}

	close(s.block)
	wg.Wait()
	if s.sends != 1 {
		t.Errorf("sends = %d, want 1", s.sends)
	}
}

func TestControllerResetDropsLateReply(t *testing.T) {
	c := NewController(nil)
	s := &fakeSession{transport: TransportA2A, reply: "late", block: make(chan struct{}), started: make(chan struct{})}
	if err := c.Connect(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), "hi") }()
	<-s.started

	c.Reset()
	close(s.block)
	if err := <-done; err != nil {
		t.Errorf("stale Send returned %v, want nil", err)
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 0 || len(snap.Artifacts) != 0 {
		t.Errorf("late reply leaked into conversation: %+v", snap)
	}
	if snap.Status != StatusIdle || snap.Busy {
		t.Errorf("snapshot = %+v, want idle and not busy", snap)
	}
}

func TestControllerResetClosesSession(t *testing.T) {
	c := NewController(nil)
	first := &fakeSession{transport: TransportMCP}
	if err := c.Connect(context.Background(), first); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	second := &fakeSession{transport: TransportA2A}
	if err := c.Connect(context.Background(), second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := first.closed.Load(); got != 1 {
		t.Errorf("replaced session closed %d times, want 1", got)
	}

	c.Reset()
	if got := second.closed.Load(); got != 1 {
		t.Errorf("reset session closed %d times, want 1", got)
	}
	c.Close()
	if got := second.closed.Load(); got != 1 {
		t.Errorf("Close after Reset closed the old session again: %d", got)
	}
}

func TestControllerProtocolSwitchStartsFresh(t *testing.T) {
	c := NewController(nil)
	a2a := &fakeSession{transport: TransportA2A, reply: "x"}
	if err := c.Connect(context.Background(), a2a); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}

	mcp := &fakeSession{transport: TransportMCP}
	if err := c.Connect(context.Background(), mcp); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if snap.Transport != TransportMCP {
		t.Errorf("Transport = %q, want mcp", snap.Transport)
	}
	if snap.ContinuityID != "C1" {
		t.Errorf("ContinuityID = %q, want C1", snap.ContinuityID)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("messages carried across transports: %d", len(snap.Messages))
	}
}

func TestControllerOnChange(t *testing.T) {
	c := NewController(nil)
	var n int
	c.OnChange(func() { n++ })
	c.Reset()
	if n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestParseTransport(t *testing.T) {
	if tr, ok := ParseTransport("mcp"); !ok || tr != TransportMCP {
		t.Errorf("ParseTransport(mcp) = %q, %v", tr, ok)
	}
	if _, ok := ParseTransport("grpc"); ok {
		t.Error("ParseTransport(grpc) should fail")
	}
}
