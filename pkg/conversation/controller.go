package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/transport"
)

var (
	ErrBusy      = errors.New("conversation: a message is already in flight")
	ErrNoSession = errors.New("conversation: not connected")
	ErrEmpty     = errors.New("conversation: empty message")
)

type Snapshot struct {
	Transport    Transport
	Status       Status
	ContinuityID string
	Busy         bool
	Err          error
	Messages     []Message
	Artifacts    []Artifact
}

// Controller owns the single active session and its conversation. Reset and Connect
// bump a generation counter; updates produced under an older generation are dropped.
type Controller struct {
	mu         sync.Mutex
	conv       *Conversation
	session    Session
	status     Status
	lastErr    error
	busy       bool
	generation uint64
	onChange   func()
	logger     *slog.Logger
}

func NewController(logger *slog.Logger) *Controller {
	return &Controller{
		conv:   New(),
		status: StatusIdle,
		logger: telemetry.Component(logger, "conversation"),
	}
}

// OnChange registers fn to be called after every visible state change.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) Connect(ctx context.Context, s Session) error {
	c.mu.Lock()
	old := c.discardLocked()
	c.session = s
	c.status = StatusConnecting
	gen := c.generation
	c.mu.Unlock()
	closeSession(old)
	c.notify()

	telemetry.Metrics.SessionsStarted.WithLabelValues(string(s.Transport())).Inc()
	telemetry.Metrics.ActiveSessions.Inc()
	c.logger.Info("session connecting", slog.String("transport", string(s.Transport())))

	err := s.Open(ctx, c.emitter(gen))

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(s)
		return nil
	}
	if err != nil {
		c.status = StatusError
		c.lastErr = err
	} else {
		c.status = StatusActive
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("conversation").Inc()
		return fmt.Errorf("conversation: opening %s session: %w", s.Transport(), err)
	}
	c.logger.Info("session active", slog.String("transport", string(s.Transport())), slog.String("continuity_id", s.ContinuityID()))
	return nil
}

func (c *Controller) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmpty
	}

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.lastErr = nil
	gen := c.generation
	s := c.session
	c.conv.Append(NewMessage("user", text, OriginLocal))
	c.mu.Unlock()
	telemetry.Metrics.MessagesAppended.WithLabelValues(string(s.Transport()), string(OriginLocal)).Inc()
	c.notify()

	err := s.Exchange(ctx, text, c.emitter(gen))

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.dropStale(s)
		return nil
	}
	c.busy = false
	if err != nil {
		c.status = StatusError
		c.lastErr = err
	} else {
		c.status = StatusActive
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		telemetry.Metrics.ErrorsTotal.WithLabelValues("conversation").Inc()
		c.logger.Warn("send failed", slog.String("transport", string(s.Transport())), slog.String("error", err.Error()))
	}
	return err
}

// Reset closes the session and discards its continuity id. A request already on the
// wire is not aborted, but polling stops and late results are ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	old := c.discardLocked()
	c.status = StatusIdle
	c.mu.Unlock()
	closeSession(old)
	c.notify()
}

func (c *Controller) Close() {
	c.mu.Lock()
	old := c.discardLocked()
	c.status = StatusClosed
	c.mu.Unlock()
	closeSession(old)
	c.notify()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Status:    c.status,
		Busy:      c.busy,
		Err:       c.lastErr,
		Messages:  c.conv.Messages(),
		Artifacts: c.conv.Artifacts(),
	}
	if c.session != nil {
		snap.Transport = c.session.Transport()
		snap.ContinuityID = c.session.ContinuityID()
	}
	return snap
}

// discardLocked detaches the current session and returns it so the caller can close it
// once c.mu is released.
func (c *Controller) discardLocked() Session {
	old := c.session
	if old != nil {
		telemetry.Metrics.ActiveSessions.Dec()
	}
	c.generation++
	c.session = nil
	c.busy = false
	c.lastErr = nil
	c.conv.Reset()
	return old
}

func closeSession(s Session) {
	if s != nil {
		s.Close()
	}
}

func (c *Controller) emitter(gen uint64) Emit {
	return func(u Update) {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			telemetry.Metrics.StaleResponses.Inc()
			c.logger.Debug("dropping update for discarded session", slog.Uint64("generation", gen))
			return
		}
		transportName := ""
		if c.session != nil {
			transportName = string(c.session.Transport())
		}
		switch u.Kind {
		case UpdateMessage:
			c.conv.Append(u.Message)
		case UpdateArtifacts:
			c.conv.AppendArtifacts(u.Artifacts)
		case UpdateStatus:
			c.status = u.Status
		}
		c.mu.Unlock()
		if u.Kind == UpdateMessage {
			telemetry.Metrics.MessagesAppended.WithLabelValues(transportName, string(u.Message.Origin)).Inc()
		}
		c.notify()
	}
}

func (c *Controller) dropStale(s Session) {
	c.mu.Lock()
	expected := ""
	if c.session != nil {
		expected = c.session.ContinuityID()
	}
	c.mu.Unlock()
	err := &transport.StaleResponseError{Expected: expected, Got: s.ContinuityID()}
	telemetry.Metrics.StaleResponses.Inc()
	c.logger.Info("discarding late response", slog.String("error", err.Error()))
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
