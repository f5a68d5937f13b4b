package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/igorsilveira/parley/pkg/conversation"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	inputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
)

// SessionFactory builds a fresh session for the initial connect and for every reset.
type SessionFactory func() (conversation.Session, error)

type Controller interface {
	Connect(ctx context.Context, s conversation.Session) error
	Send(ctx context.Context, text string) error
	Reset()
	Snapshot() conversation.Snapshot
}

type Model struct {
	ctx        context.Context
	ctrl       Controller
	newSession SessionFactory
	title      string

	snap    conversation.Snapshot
	input   string
	pending bool
	width   int
	height  int
	scroll  int
	err     error
}

func NewModel(ctx context.Context, ctrl Controller, newSession SessionFactory, title string) Model {
	return Model{
		ctx:        ctx,
		ctrl:       ctrl,
		newSession: newSession,
		title:      title,
		snap:       ctrl.Snapshot(),
	}
}

// changedMsg asks the model to re-read the controller snapshot.
type changedMsg struct{}

type connectedMsg struct {
	err error
}

type sentMsg struct {
	err error
}

func (m Model) Init() tea.Cmd {
	return m.connect()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			m.ctrl.Reset()
			m.pending = false
			m.err = nil
			m.scroll = 0
			m.snap = m.ctrl.Snapshot()
			return m, m.connect()
		case "enter":
			if m.busy() || strings.TrimSpace(m.input) == "" {
				return m, nil
			}
			return m.submitInput()
		case "backspace":
			if len(m.input) > 0 {
				r := []rune(m.input)
				m.input = string(r[:len(r)-1])
			}
		case "pgup":
			m.scroll++
		case "pgdown":
			if m.scroll > 0 {
				m.scroll--
			}
		default:
			if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace {
				m.input += string(msg.Runes)
				if msg.Type == tea.KeySpace && len(msg.Runes) == 0 {
					m.input += " "
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case changedMsg:
		m.snap = m.ctrl.Snapshot()

	case connectedMsg:
		m.err = msg.err
		m.snap = m.ctrl.Snapshot()

	case sentMsg:
		m.pending = false
		m.err = msg.err
		m.snap = m.ctrl.Snapshot()
	}

	return m, nil
}

// busy reports whether input is locked while a send is in flight.
func (m Model) busy() bool {
	return m.pending || m.snap.Busy
}

func (m Model) connect() tea.Cmd {
	ctx, ctrl, newSession := m.ctx, m.ctrl, m.newSession
	return func() tea.Msg {
		s, err := newSession()
		if err != nil {
			return connectedMsg{err: err}
		}
		return connectedMsg{err: ctrl.Connect(ctx, s)}
	}
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input)
	m.input = ""
	m.pending = true
	m.err = nil

	ctx, ctrl := m.ctx, m.ctrl
	return m, func() tea.Msg {
		return sentMsg{err: ctrl.Send(ctx, text)}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(dimStyle.Render(fmt.Sprintf("%s (Enter send, Ctrl+R reset, Ctrl+C quit)", m.title)))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(statusLine(m.snap)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n\n")

	lines := transcript(m.snap.Messages)
	if m.scroll > 0 && m.scroll < len(lines) {
		lines = lines[:len(lines)-m.scroll]
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}

	if n := len(m.snap.Artifacts); n > 0 {
		names := make([]string, 0, n)
		for _, a := range m.snap.Artifacts {
			names = append(names, a.Name)
		}
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d artifact(s): %s", n, strings.Join(names, ", "))))
		b.WriteString("\n\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "))
		b.WriteString(m.err.Error())
		b.WriteString("\n\n")
	}

	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	if m.busy() {
		b.WriteString(dimStyle.Render("waiting for the agent..."))
	} else {
		b.WriteString(inputStyle.Render("> "+m.input) + dimStyle.Render("█"))
	}

	return b.String()
}

func statusLine(s conversation.Snapshot) string {
	transport := string(s.Transport)
	if transport == "" {
		transport = "-"
	}
	id := s.ContinuityID
	if id == "" {
		id = "none"
	}
	return fmt.Sprintf("transport: %s · status: %s · continuity: %s", transport, s.Status, id)
}

func transcript(msgs []conversation.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		switch {
		case msg.Origin == conversation.OriginLocal:
			out = append(out, userStyle.Render("You: ")+msg.Content)
		case msg.Role == "status":
			out = append(out, statusStyle.Render("· "+msg.Content))
		default:
			out = append(out, agentStyle.Render("Agent: ")+msg.Content)
		}
	}
	return out
}

// Run starts the chat UI and pushes controller changes into it until the user quits.
func Run(ctx context.Context, ctrl *conversation.Controller, newSession SessionFactory, title string) error {
	p := tea.NewProgram(NewModel(ctx, ctrl, newSession, title), tea.WithAltScreen(), tea.WithContext(ctx))
	// Changes can fire from inside Update, so they are delivered off the event loop.
	ctrl.OnChange(func() {
		go p.Send(changedMsg{})
	})
	defer ctrl.OnChange(nil)
	_, err := p.Run()
	return err
}
