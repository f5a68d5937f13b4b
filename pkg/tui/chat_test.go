package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/igorsilveira/parley/pkg/conversation"
)

type echoSession struct {
	opened int
}

func (s *echoSession) Transport() conversation.Transport { return conversation.TransportMCP }
func (s *echoSession) ContinuityID() string              { return "C1" }
func (s *echoSession) Close()                            {}

func (s *echoSession) Open(ctx context.Context, emit conversation.Emit) error {
	s.opened++
	return nil
}

func (s *echoSession) Exchange(ctx context.Context, text string, emit conversation.Emit) error {
	emit(conversation.MessageUpdate(conversation.NewMessage("agent", "echo: "+text, conversation.OriginRemote)))
	emit(conversation.ArtifactsUpdate([]conversation.Artifact{{Name: "echo.txt"}}))
	return nil
}

func newTestModel(t *testing.T) (Model, *conversation.Controller, *int) {
	t.Helper()
	ctrl := conversation.NewController(nil)
	sessions := 0
	factory := func() (conversation.Session, error) {
		sessions++
		return &echoSession{}, nil
	}
	m := NewModel(context.Background(), ctrl, factory, "parley")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)

	msg := m.Init()()
	next, _ = m.Update(msg)
	return next.(Model), ctrl, &sessions
}

func typeText(m Model, s string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(Model)
}

func TestModelSendAndRender(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = typeText(m, "hi")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("enter should return a send command")
	}
	if !m.busy() {
		t.Error("model should be busy while the send is in flight")
	}
	if !strings.Contains(m.View(), "waiting for the agent") {
		t.Error("input should be replaced while busy")
	}

	next, _ = m.Update(cmd())
	m = next.(Model)
	if m.busy() {
		t.Error("model still busy after send completed")
	}

	view := m.View()
	for _, want := range []string{"You: ", "hi", "echo: hi", "1 artifact(s): echo.txt", "transport: mcp", "continuity: C1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelIgnoresEnterWhileBusy(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = typeText(m, "one")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)

	m = typeText(m, "two")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("enter while busy should not send")
	}
}

func TestModelResetReconnects(t *testing.T) {
	m, ctrl, sessions := newTestModel(t)
	m = typeText(m, "hi")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	m = next.(Model)
	if len(m.snap.Messages) != 0 {
		t.Errorf("messages after reset = %d, want 0", len(m.snap.Messages))
	}
	if cmd == nil {
		t.Fatal("reset should reconnect")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)

	if *sessions != 2 {
		t.Errorf("sessions built = %d, want 2", *sessions)
	}
	if ctrl.Snapshot().Status != conversation.StatusActive {
		t.Errorf("Status = %q, want active", ctrl.Snapshot().Status)
	}
}

func TestModelConnectError(t *testing.T) {
	ctrl := conversation.NewController(nil)
	boom := errors.New("no agent")
	m := NewModel(context.Background(), ctrl, func() (conversation.Session, error) { return nil, boom }, "parley")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	m = next.(Model)
	next, _ = m.Update(m.Init()())
	m = next.(Model)

	if !strings.Contains(m.View(), "no agent") {
		t.Errorf("view should show the connect error:\n%s", m.View())
	}
}

func TestModelQuit(t *testing.T) {
	m, _, _ := newTestModel(t)
	for _, k := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		if cmd == nil {
			t.Fatalf("%v should quit", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%v did not produce QuitMsg", k)
		}
	}
}

func TestModelBackspace(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = typeText(m, "héllo")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = next.(Model)
	if m.input != "héll" {
		t.Errorf("input = %q, want %q", m.input, "héll")
	}
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"http://127.0.0.1:18790", false},
		{"https://agent.example/.well-known/agent-card.json", false},
		{"", true},
		{"agent.example", true},
		{"ftp://agent.example", true},
		{"http://", true},
	}
	for _, tt := range tests {
		if err := ValidateTarget(tt.in); (err != nil) != tt.wantErr {
			t.Errorf("ValidateTarget(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestConnectOptionsNeedsForm(t *testing.T) {
	if !(ConnectOptions{Protocol: "a2a"}).NeedsForm() {
		t.Error("missing target should need the form")
	}
	if (ConnectOptions{Protocol: "mcp", Target: "http://x"}).NeedsForm() {
		t.Error("complete options should not need the form")
	}
}
