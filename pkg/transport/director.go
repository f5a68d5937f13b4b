package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

const (
	RelayCardPath    = "/api/proxy/agent-card"
	RelayMessagePath = "/api/proxy/a2a-message"

	// UpstreamErrorHeader is set on a relay 502 when the relay itself got no HTTP status
	// from the target. Its value is UpstreamNetwork or UpstreamTimeout.
	UpstreamErrorHeader = "X-Parley-Upstream-Error"
	UpstreamNetwork     = "network"
	UpstreamTimeout     = "timeout"

	maxBodySize = 16 << 20
)

type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is marshaled as JSON. Raw bytes are sent as-is.
	Body any
	// Stream leaves a text/event-stream response body unread in Response.Stream.
	Stream bool
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stream io.ReadCloser
	Via    trace.Mode
}

func (r *Response) IsEventStream() bool {
	return r.Stream != nil
}

func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// Outcome classifies one attempt by whether an HTTP status was obtained.
type Outcome int

const (
	OutcomeDirect Outcome = iota
	OutcomeRelayNeeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDirect:
		return "direct"
	case OutcomeRelayNeeded:
		return "relay_needed"
	default:
		return "failed"
	}
}

type Attempt struct {
	Outcome  Outcome
	Response *Response
	Err      error
}

func (a Attempt) result() (*Response, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Response, nil
}

// RelayEnvelope is the body exchanged with the relay's message endpoint.
type RelayEnvelope struct {
	TargetURL string          `json:"target_url"`
	Payload   json.RawMessage `json:"payload"`
}

type RelayReply struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type Config struct {
	Client   *http.Client
	RelayURL string
	Timeout  time.Duration
	Recorder trace.Recorder
	Logger   *slog.Logger
}

type Director struct {
	client   *http.Client
	relayURL string
	timeout  time.Duration
	recorder trace.Recorder
	logger   *slog.Logger
}

func New(cfg Config) *Director {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = trace.Discard
	}
	return &Director{
		client:   cfg.Client,
		relayURL: strings.TrimRight(cfg.RelayURL, "/"),
		timeout:  cfg.Timeout,
		recorder: cfg.Recorder,
		logger:   telemetry.Component(cfg.Logger, "director"),
	}
}

func (d *Director) RelayURL() string {
	return d.relayURL
}

// Execute performs req directly and, when the direct attempt fails without an HTTP
// status, retries it exactly once through the relay.
func (d *Director) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding request body: %w", err)
	}

	first := d.direct(ctx, req, body)
	switch first.Outcome {
	case OutcomeDirect:
		return first.result()
	case OutcomeFailed:
		return nil, first.Err
	}

	if d.relayURL == "" {
		return nil, first.Err
	}

	telemetry.Metrics.RelayFallbacks.Inc()
	d.logger.Info("direct call failed without status, retrying through relay",
		slog.String("method", req.Method),
		slog.String("url", req.URL),
		slog.String("relay", d.relayURL),
	)

	return d.relay(ctx, req, body).result()
}

func (d *Director) direct(ctx context.Context, req *Request, body []byte) Attempt {
	return d.attempt(ctx, trace.ModeDirect, req.Method, req.URL, req.Header, body, req.Stream)
}

func (d *Director) relay(ctx context.Context, req *Request, body []byte) Attempt {
	if req.Method == http.MethodGet {
		target := d.relayURL + RelayCardPath + "?url=" + url.QueryEscape(req.URL)
		return upstreamUnreachable(d.attempt(ctx, trace.ModeRelay, http.MethodGet, target, req.Header, nil, false), req.URL)
	}

	payload := json.RawMessage(body)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	envelope, err := json.Marshal(RelayEnvelope{TargetURL: req.URL, Payload: payload})
	if err != nil {
		return Attempt{Outcome: OutcomeFailed, Err: fmt.Errorf("transport: encoding relay envelope: %w", err)}
	}

	target := d.relayURL + RelayMessagePath
	a := upstreamUnreachable(d.attempt(ctx, trace.ModeRelay, http.MethodPost, target, req.Header, envelope, false), req.URL)
	if a.Outcome != OutcomeDirect || a.Err != nil {
		return a
	}

	var reply RelayReply
	if err := json.Unmarshal(a.Response.Body, &reply); err != nil {
		a.Err = &ParseError{URL: target, Err: err}
		a.Response = nil
		return a
	}
	resp := &Response{
		Status: reply.Status,
		Header: a.Response.Header,
		Body:   []byte(reply.Body),
		Via:    trace.ModeRelay,
	}
	if reply.Status >= 400 {
		a.Err = &HTTPError{Status: reply.Status, URL: req.URL, Body: resp.Body}
		a.Response = nil
		return a
	}
	if len(resp.Body) > 0 && !json.Valid(resp.Body) {
		a.Err = &ParseError{URL: req.URL, Err: errors.New("relay body is not JSON")}
		a.Response = nil
		return a
	}
	a.Response = resp
	return a
}

func (d *Director) attempt(ctx context.Context, mode trace.Mode, method, target string, header http.Header, body []byte, stream bool) (a Attempt) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "transport."+string(mode),
		attribute.String("http.method", method),
		attribute.String("http.url", target),
		telemetry.AttrMode.String(string(mode)),
	)

	defer func() {
		entry := trace.NewEntry(mode, method, target, started)
		if a.Response != nil {
			entry.Status = a.Response.Status
		}
		entry.Outcome = traceOutcome(a)
		if a.Err != nil {
			entry.Error = a.Err.Error()
			if status, ok := StatusOf(a.Err); ok {
				entry.Status = status
			}
		}
		d.recorder.Record(ctx, entry)
		telemetry.Metrics.TransportAttempts.WithLabelValues(string(mode), string(entry.Outcome)).Inc()
		telemetry.Metrics.TransportLatency.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
		telemetry.EndSpan(span, a.Err)
		d.logger.Debug("transport attempt",
			slog.String("mode", string(mode)),
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("status", entry.Status),
			slog.String("outcome", string(entry.Outcome)),
		)
	}()

	attemptCtx := ctx
	if d.timeout > 0 && !stream {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return Attempt{Outcome: OutcomeFailed, Err: fmt.Errorf("transport: creating request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream, application/json")
		} else {
			httpReq.Header.Set("Accept", "application/json")
		}
	}
	telemetry.InjectHeaders(ctx, httpReq.Header.Set)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return classifyFailure(ctx, attemptCtx, target, err)
	}

	if stream && resp.StatusCode < 400 && isEventStream(resp.Header) {
		return Attempt{Outcome: OutcomeDirect, Response: &Response{
			Status: resp.StatusCode,
			Header: resp.Header,
			Stream: resp.Body,
			Via:    mode,
		}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return classifyFailure(ctx, attemptCtx, target, err)
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: data, Via: mode}
	if resp.StatusCode >= 400 {
		return Attempt{Outcome: OutcomeDirect, Err: &HTTPError{Status: resp.StatusCode, URL: target, Header: resp.Header, Body: data}}
	}
	if mode == trace.ModeRelay && method == http.MethodPost {
		return Attempt{Outcome: OutcomeDirect, Response: out}
	}
	if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
		return Attempt{Outcome: OutcomeDirect, Response: out, Err: &ParseError{URL: target, Err: errors.New("body is not valid JSON")}}
	}
	return Attempt{Outcome: OutcomeDirect, Response: out}
}

// Stream opens a server-sent events channel with a single direct GET. There is no relay
// for streams.
func (d *Director) Stream(ctx context.Context, target string, header http.Header) (io.ReadCloser, error) {
	a := d.attempt(ctx, trace.ModeStream, http.MethodGet, target, header, nil, true)
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Response.Stream == nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("%s did not answer with text/event-stream", target)}
	}
	return a.Response.Stream, nil
}

// upstreamUnreachable turns a relay's report that it could not reach upstream into the
// NetworkError a direct attempt would have produced.
func upstreamUnreachable(a Attempt, upstream string) Attempt {
	var he *HTTPError
	if !errors.As(a.Err, &he) || he.Status != http.StatusBadGateway {
		return a
	}
	kind := he.Header.Get(UpstreamErrorHeader)
	if kind == "" {
		return a
	}
	var reply struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(he.Body, &reply)
	if reply.Error == "" {
		reply.Error = "relay could not reach upstream"
	}
	return Attempt{Outcome: OutcomeFailed, Err: &NetworkError{
		URL:     upstream,
		Timeout: kind == UpstreamTimeout,
		Err:     errors.New(reply.Error),
	}}
}

func classifyFailure(parent, attemptCtx context.Context, target string, err error) Attempt {
	if parent.Err() != nil {
		return Attempt{Outcome: OutcomeFailed, Err: fmt.Errorf("transport: %s: %w", target, parent.Err())}
	}
	var ne net.Error
	if attemptCtx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return Attempt{Outcome: OutcomeFailed, Err: &NetworkError{URL: target, Timeout: true, Err: err}}
	}
	return Attempt{Outcome: OutcomeRelayNeeded, Err: &NetworkError{URL: target, Err: err}}
}

func traceOutcome(a Attempt) trace.Outcome {
	switch {
	case a.Outcome == OutcomeRelayNeeded:
		return trace.OutcomeRelayNeeded
	case a.Outcome == OutcomeFailed:
		return trace.OutcomeFailed
	case a.Err != nil:
		if _, ok := StatusOf(a.Err); ok {
			return trace.OutcomeHTTPError
		}
		return trace.OutcomeFailed
	default:
		return trace.OutcomeOK
	}
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}
