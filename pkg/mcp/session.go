package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/transport"
)

var (
	ErrNoConversation = errors.New("mcp: no conversation, call begin first")
	ErrPollLimit      = errors.New("mcp: polling limit reached")
)

type State string

const (
	StateIdle      State = "idle"
	StateBeginning State = "beginning"
	StateReady     State = "ready"
	StateSending   State = "sending"
	StatePolling   State = "polling"
	StateError     State = "error"
	StateClosed    State = "closed"
)

type Executor interface {
	Execute(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// PollLimits bounds PollUntilDone. Zero values fall back to the defaults.
type PollLimits struct {
	MaxPolls int
	Deadline time.Duration
	Interval time.Duration
}

var DefaultPollLimits = PollLimits{MaxPolls: 30, Deadline: 2 * time.Minute}

type SessionConfig struct {
	BaseURL string
	WaitMs  int
	Limits  PollLimits
	// Header is sent with every triplet call, e.g. the relay's bearer token.
	Header   http.Header
	Director Executor
	Logger   *slog.Logger
}

// Session drives the begin/send/check triplet against a base URL serving /api/mcp/*.
type Session struct {
	baseURL  string
	waitMs   int
	limits   PollLimits
	header   http.Header
	director Executor
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	conversationID string
	// epoch changes on every Reset and Close; abandon is closed at the same moment.
	epoch   uint64
	abandon chan struct{}
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.WaitMs <= 0 {
		cfg.WaitMs = DefaultWaitMs
	}
	if cfg.Limits.MaxPolls <= 0 {
		cfg.Limits.MaxPolls = DefaultPollLimits.MaxPolls
	}
	if cfg.Limits.Deadline <= 0 {
		cfg.Limits.Deadline = DefaultPollLimits.Deadline
	}
	return &Session{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		waitMs:   cfg.WaitMs,
		limits:   cfg.Limits,
		header:   cfg.Header,
		director: cfg.Director,
		logger:   telemetry.Component(cfg.Logger, "mcp"),
		state:    StateIdle,
		abandon:  make(chan struct{}),
	}
}

func (s *Session) Transport() conversation.Transport {
	return conversation.TransportMCP
}

func (s *Session) ContinuityID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Open(ctx context.Context, emit conversation.Emit) error {
	_, err := s.Begin(ctx)
	return err
}

// Exchange sends text and polls until the agent stops reporting active or pending.
func (s *Session) Exchange(ctx context.Context, text string, emit conversation.Emit) error {
	if err := s.Send(ctx, text); err != nil {
		return err
	}
	emit(conversation.StatusUpdate(conversation.StatusPolling))
	return s.PollUntilDone(ctx, s.limits, func(res *PollResult) {
		for _, m := range res.Messages {
			emit(conversation.MessageUpdate(m))
		}
		if len(res.Artifacts) > 0 {
			emit(conversation.ArtifactsUpdate(res.Artifacts))
		}
	})
}

func (s *Session) Begin(ctx context.Context) (string, error) {
	_, epoch, _ := s.current()
	s.setState(epoch, StateBeginning)
	body, err := s.call(ctx, ToolBegin, map[string]any{})
	if err != nil {
		s.setState(epoch, StateError)
		return "", err
	}
	id, rule := ExtractConversationID(body)
	if rule == IDRuleNone {
		s.setState(epoch, StateError)
		return "", &transport.ProtocolError{Reason: ToolBegin + " returned no conversationId"}
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return "", &transport.StaleResponseError{Got: id}
	}
	s.conversationID = id
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Info("conversation started", slog.String("conversation_id", id), slog.String("rule", string(rule)))
	return id, nil
}

func (s *Session) Send(ctx context.Context, text string) error {
	id, epoch, _ := s.current()
	if id == "" {
		return ErrNoConversation
	}
	s.setState(epoch, StateSending)
	_, err := s.call(ctx, ToolSend, SendRequest{ConversationID: id, Message: text})
	if stale := s.staleSince(epoch, id); stale != nil {
		return stale
	}
	if err != nil {
		s.setState(epoch, StateError)
		return err
	}
	return nil
}

// Poll makes one check_replies call. waitMs is a server-side hint. A reply that lands
// after Reset or Close is reported as a StaleResponseError and changes nothing.
func (s *Session) Poll(ctx context.Context) (*PollResult, error) {
	id, epoch, _ := s.current()
	if id == "" {
		return nil, ErrNoConversation
	}
	s.setState(epoch, StatePolling)
	body, err := s.call(ctx, ToolCheck, CheckRequest{ConversationID: id, WaitMs: s.waitMs})
	if stale := s.staleSince(epoch, id); stale != nil {
		return nil, stale
	}
	if err != nil {
		s.setState(epoch, StateError)
		return nil, err
	}

	res := parsePoll(body)
	telemetry.Metrics.MCPPolls.WithLabelValues(res.Status).Inc()
	if !res.Continue {
		s.setState(epoch, StateReady)
	}
	return res, nil
}

// PollUntilDone polls until a reply is final, the context ends, limits run out, or the
// session is reset or closed. Abandoned polling returns nil.
func (s *Session) PollUntilDone(ctx context.Context, limits PollLimits, fn func(*PollResult)) error {
	_, epoch, abandon := s.current()
	if limits.MaxPolls <= 0 {
		limits.MaxPolls = DefaultPollLimits.MaxPolls
	}
	pollCtx := ctx
	if limits.Deadline > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, limits.Deadline)
		defer cancel()
	}

	for i := 0; i < limits.MaxPolls; i++ {
		select {
		case <-abandon:
			s.logger.Info("abandoning poll for discarded conversation")
			return nil
		default:
		}
		res, err := s.Poll(pollCtx)
		if err != nil {
			var stale *transport.StaleResponseError
			if errors.As(err, &stale) {
				s.logger.Info("abandoning poll for discarded conversation", slog.String("error", err.Error()))
				return nil
			}
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return fmt.Errorf("%w: deadline %s exceeded after %d polls", ErrPollLimit, limits.Deadline, i)
			}
			return err
		}
		fn(res)
		if !res.Continue {
			return nil
		}
		if limits.Interval > 0 {
			select {
			case <-abandon:
				s.logger.Info("abandoning poll for discarded conversation")
				return nil
			case <-pollCtx.Done():
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: deadline %s exceeded after %d polls", ErrPollLimit, limits.Deadline, i+1)
			case <-time.After(limits.Interval):
			}
		}
	}
	s.setState(epoch, StateReady)
	return fmt.Errorf("%w: %d polls", ErrPollLimit, limits.MaxPolls)
}

// Reset forgets the conversation id. Polling in progress stops and replies still in
// flight for the old id are discarded.
func (s *Session) Reset() {
	s.discard(StateIdle)
}

func (s *Session) Close() {
	s.discard(StateClosed)
}

func (s *Session) discard(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.state = st
	s.epoch++
	close(s.abandon)
	s.abandon = make(chan struct{})
}

func (s *Session) current() (id string, epoch uint64, abandon <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID, s.epoch, s.abandon
}

// staleSince reports a StaleResponseError when the session was reset or closed after
// epoch was read.
func (s *Session) staleSince(epoch uint64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		return nil
	}
	return &transport.StaleResponseError{Expected: s.conversationID, Got: id}
}

func (s *Session) call(ctx context.Context, tool string, payload any) (map[string]any, error) {
	ctx, span := telemetry.StartSpan(ctx, "mcp."+tool,
		telemetry.AttrTransport.String("mcp"),
		telemetry.AttrContinuity.String(s.ContinuityID()),
	)
	body, err := s.post(ctx, tool, payload)
	telemetry.EndSpan(span, err)
	return body, err
}

func (s *Session) post(ctx context.Context, tool string, payload any) (map[string]any, error) {
	resp, err := s.director.Execute(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + PathPrefix + tool,
		Header: s.header,
		Body:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: %w", tool, err)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, &transport.ParseError{URL: s.baseURL + PathPrefix + tool, Err: err}
	}
	if msg, ok := body["error"].(string); ok && msg != "" {
		return nil, &transport.ProtocolError{Reason: fmt.Sprintf("%s: %s", tool, msg)}
	}
	return body, nil
}

// setState records st unless the session was reset or closed since epoch.
func (s *Session) setState(epoch uint64, st State) {
	s.mu.Lock()
	if s.epoch == epoch {
		s.state = st
	}
	s.mu.Unlock()
}
