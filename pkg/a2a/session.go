package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/transport"
)

type State string

const (
	StateIdle           State = "idle"
	StateSending        State = "sending"
	StateStreaming      State = "streaming"
	StateAwaitingResult State = "awaiting_result"
	StateActive         State = "active"
	StateError          State = "error"
	StateClosed         State = "closed"
)

type Director interface {
	Execute(ctx context.Context, req *transport.Request) (*transport.Response, error)
	Stream(ctx context.Context, target string, header http.Header) (io.ReadCloser, error)
}

type SessionConfig struct {
	Endpoint  string
	Streaming bool
	Header    http.Header
	Director  Director
	Logger    *slog.Logger
}

// Session is a client conversation with one A2A agent endpoint.
type Session struct {
	endpoint  string
	streaming bool
	header    http.Header
	director  Director
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	continuity Continuity
	turns      int
}

func NewSession(cfg SessionConfig) *Session {
	return &Session{
		endpoint:  cfg.Endpoint,
		streaming: cfg.Streaming,
		header:    cfg.Header,
		director:  cfg.Director,
		logger:    telemetry.Component(cfg.Logger, "a2a").With(slog.String("endpoint", cfg.Endpoint)),
		state:     StateIdle,
	}
}

func (s *Session) Transport() conversation.Transport {
	return conversation.TransportA2A
}

func (s *Session) ContinuityID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuity.ID
}

func (s *Session) Continuity() Continuity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continuity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open is a no-op; A2A conversations start with the first message.
func (s *Session) Open(ctx context.Context, emit conversation.Emit) error {
	s.setState(StateIdle)
	return nil
}

// Send starts the conversation with message/stream when streaming is enabled and this is
// the first turn, and continues it with message/send otherwise.
func (s *Session) Send(ctx context.Context, text string, emit conversation.Emit) error {
	s.mu.Lock()
	first := s.turns == 0
	s.turns++
	s.mu.Unlock()

	if first && s.streaming {
		return s.Start(ctx, text, emit)
	}
	return s.call(ctx, MethodSend, text, emit)
}

func (s *Session) Exchange(ctx context.Context, text string, emit conversation.Emit) error {
	return s.Send(ctx, text, emit)
}

func (s *Session) Start(ctx context.Context, text string, emit conversation.Emit) error {
	method := MethodSend
	if s.streaming {
		method = MethodStream
	}
	return s.call(ctx, method, text, emit)
}

// Close discards the continuity id. A stream still being read stops at its next event
// and results arriving afterwards are not adopted.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.continuity = Continuity{}
	s.mu.Unlock()
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

func (s *Session) call(ctx context.Context, method, text string, emit conversation.Emit) error {
	ctx, span := telemetry.StartSpan(ctx, "a2a."+method,
		telemetry.AttrTransport.String("a2a"),
		telemetry.AttrContinuity.String(s.ContinuityID()),
	)
	err := s.roundTrip(ctx, method, text, emit)
	telemetry.EndSpan(span, err)
	if err != nil {
		s.setState(StateError)
		return err
	}
	s.setState(StateActive)
	return nil
}

func (s *Session) roundTrip(ctx context.Context, method, text string, emit conversation.Emit) error {
	env, err := s.envelope(method, text)
	if err != nil {
		return err
	}

	s.setState(StateSending)
	resp, err := s.director.Execute(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    s.endpoint,
		Header: s.header,
		Body:   env,
		Stream: method == MethodStream,
	})
	if err != nil {
		return fmt.Errorf("a2a: %s: %w", method, err)
	}

	if resp.IsEventStream() {
		return s.consumeStream(ctx, resp.Stream, emit)
	}

	s.setState(StateAwaitingResult)
	body := strings.TrimSpace(string(resp.Body))
	if strings.HasPrefix(body, "[") {
		return s.consumeCollected(resp.Body, emit)
	}

	result, err := decodeResult(resp.Body)
	if err != nil {
		return err
	}
	s.applyResult(result, emit)

	if locator := streamLocator(result); locator != "" {
		rc, err := s.director.Stream(ctx, s.resolve(locator), s.header)
		if err != nil {
			return fmt.Errorf("a2a: opening stream: %w", err)
		}
		return s.consumeStream(ctx, rc, emit)
	}
	return nil
}

// envelope builds the JSON-RPC request, attaching the continuity id under the field the
// agent used for it.
func (s *Session) envelope(method, text string) (JSONRPCRequest, error) {
	msg := Message{
		Kind:      KindMessage,
		MessageID: uuid.NewString(),
		Role:      RoleUser,
		Parts:     []Part{TextPart(text)},
	}
	c := s.Continuity()
	switch c.Field {
	case FieldTaskID:
		msg.TaskID = c.ID
	case FieldContextID:
		msg.ContextID = c.ID
	}
	return NewJSONRPCRequest(method, MessageSendParams{Message: msg})
}

func (s *Session) consumeStream(ctx context.Context, rc io.ReadCloser, emit conversation.Emit) error {
	defer rc.Close()
	s.setState(StateStreaming)
	err := transport.ReadEvents(ctx, rc, func(ev transport.Event) error {
		return s.handleEvent([]byte(ev.Data), emit)
	})
	if err != nil {
		s.logger.Warn("stream ended with error", slog.String("error", err.Error()))
		return fmt.Errorf("a2a: stream: %w", err)
	}
	return nil
}

// consumeCollected handles a stream the relay buffered into a JSON array of event payloads.
func (s *Session) consumeCollected(body []byte, emit conversation.Emit) error {
	var events []json.RawMessage
	if err := json.Unmarshal(body, &events); err != nil {
		return &transport.ParseError{URL: s.endpoint, Err: err}
	}
	for _, raw := range events {
		if err := s.handleEvent(raw, emit); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Session) handleEvent(data []byte, emit conversation.Emit) error {
	if s.closed() {
		return io.EOF
	}
	ev, err := ParseEvent(data)
	if err != nil {
		return err
	}
	switch ev.Kind {
	case EventChat:
		emit(conversation.MessageUpdate(conversation.NewMessage(ev.Role, ev.Content, conversation.OriginRemote)))
	case EventArtifacts:
		emit(conversation.ArtifactsUpdate(ev.Artifacts))
	case EventResult:
		s.applyResult(ev.Result, emit)
	case EventStatus:
		if ev.Result != nil {
			s.adoptContinuity(ev.Result)
		}
		emit(conversation.MessageUpdate(conversation.NewMessage("status", ev.Raw, conversation.OriginRemote)))
	}
	return nil
}

func (s *Session) applyResult(result map[string]any, emit conversation.Emit) {
	s.adoptContinuity(result)

	reply := ExtractReply(result)
	for _, text := range reply.Texts {
		emit(conversation.MessageUpdate(conversation.NewMessage(RoleAgent, text, conversation.OriginRemote)))
	}
	if reply.Rule == ReplyNone {
		s.logger.Debug("result carried no reply text")
	}
	if arts := ConvertArtifacts(result["artifacts"]); len(arts) > 0 {
		emit(conversation.ArtifactsUpdate(arts))
	}
}

func (s *Session) adoptContinuity(result map[string]any) {
	c, ok := ExtractContinuity(result)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	changed := s.continuity != c
	s.continuity = c
	s.mu.Unlock()
	if changed {
		s.logger.Debug("continuity adopted", slog.String("field", string(c.Field)), slog.String("id", c.ID))
	}
}

func (s *Session) resolve(locator string) string {
	base, err := url.Parse(s.endpoint)
	if err != nil {
		return locator
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	return base.ResolveReference(ref).String()
}

// setState records st. Closed is final.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

func decodeResult(body []byte) (map[string]any, error) {
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  map[string]any  `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &transport.ParseError{Err: err}
	}
	if env.Error != nil {
		return nil, rpcError(env.Error)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, &transport.ProtocolError{Reason: "JSON-RPC response has no result"}
	}
	var result map[string]any
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, &transport.ProtocolError{Reason: "JSON-RPC result is not an object"}
	}
	return result, nil
}

func streamLocator(result map[string]any) string {
	return firstString(result, "streamUrl", "stream_url", "sseUrl")
}

func rpcError(e map[string]any) error {
	msg, _ := e["message"].(string)
	code, _ := e["code"].(float64)
	if msg == "" {
		msg = "JSON-RPC error"
	}
	return &transport.ProtocolError{Reason: msg, Code: int(code)}
}
