package relay

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
	"strconv"
	"strings"
	"time"

	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/igorsilveira/parley/pkg/transport"
)

const maxUpstreamBody = 16 << 20

var ErrTargetScheme = errors.New("relay: target url must be absolute http or https")

type upstreamResponse struct {
	status      int
	contentType string
	body        []byte
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if err := validateTarget(target); err != nil {
		s.countRequest("agent-card", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := s.forward(r.Context(), http.MethodGet, target, s.forwardHeader(r), nil)
	if err != nil {
		s.countRequest("agent-card", http.StatusBadGateway)
		writeUpstreamError(w, err)
		return
	}

	s.countRequest("agent-card", resp.status)
	if resp.contentType != "" {
		w.Header().Set("Content-Type", resp.contentType)
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// handleA2AMessage posts the envelope payload upstream and reports the upstream status
// and body. Event streams are collected into a JSON array of their payloads.
func (s *Server) handleA2AMessage(w http.ResponseWriter, r *http.Request) {
	var env transport.RelayEnvelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpstreamBody)).Decode(&env); err != nil {
		s.countRequest("a2a-message", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid relay envelope"})
		return
	}
	if err := validateTarget(env.TargetURL); err != nil {
		s.countRequest("a2a-message", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	header := s.forwardHeader(r)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json, text/event-stream")

	resp, err := s.forward(r.Context(), http.MethodPost, env.TargetURL, header, env.Payload)
	if err != nil {
		s.countRequest("a2a-message", http.StatusBadGateway)
		writeUpstreamError(w, err)
		return
	}

	s.countRequest("a2a-message", resp.status)
	writeJSON(w, http.StatusOK, transport.RelayReply{
		Status: resp.status,
		Body:   encodeReplyBody(resp.body),
	})
}

func (s *Server) handleTraceQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := trace.Filter{
		Mode:    trace.Mode(q.Get("mode")),
		Outcome: trace.Outcome(q.Get("outcome")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}
	entries := s.log.Query(f)
	if entries == nil {
		entries = []trace.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// forward makes one upstream call and records it. Streams are read to the end and
// collected before returning.
func (s *Server) forward(ctx context.Context, method, target string, header http.Header, body []byte) (resp *upstreamResponse, err error) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "relay.forward")
	defer func() {
		entry := trace.NewEntry(trace.ModeUpstream, method, target, started)
		switch {
		case err != nil:
			entry.Outcome = trace.OutcomeFailed
			entry.Error = err.Error()
		case resp.status >= 400:
			entry.Status = resp.status
			entry.Outcome = trace.OutcomeHTTPError
		default:
			entry.Status = resp.status
			entry.Outcome = trace.OutcomeOK
		}
		s.recorder.Record(ctx, entry)
		telemetry.EndSpan(span, err)
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("relay: creating upstream request: %w", err)
	}
	req.Header = header
	telemetry.InjectHeaders(ctx, req.Header.Set)

	httpResp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("upstream unreachable", slog.String("url", target), slog.String("error", err.Error()))
		return nil, &unreachableError{url: target, err: err}
	}
	defer httpResp.Body.Close()

	out := &upstreamResponse{status: httpResp.StatusCode, contentType: httpResp.Header.Get("Content-Type")}
	if strings.HasPrefix(strings.ToLower(out.contentType), "text/event-stream") {
		out.body, err = collectEvents(ctx, httpResp.Body)
		out.contentType = "application/json"
	} else {
		out.body, err = io.ReadAll(io.LimitReader(httpResp.Body, maxUpstreamBody))
	}
	if err != nil {
		return nil, fmt.Errorf("relay: reading upstream %s: %w", target, err)
	}
	return out, nil
}

// unreachableError means the relay got no HTTP status from the upstream.
type unreachableError struct {
	url string
	err error
}

func (e *unreachableError) Error() string {
	return fmt.Sprintf("relay: upstream %s: %v", e.url, e.err)
}

func (e *unreachableError) Unwrap() error { return e.err }

// writeUpstreamError answers 502. When the upstream could not be reached at all the
// response carries transport.UpstreamErrorHeader so clients can tell it apart from an
// upstream that answered.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var ue *unreachableError
	if errors.As(err, &ue) {
		kind := transport.UpstreamNetwork
		var ne net.Error
		if errors.As(ue.err, &ne) && ne.Timeout() {
			kind = transport.UpstreamTimeout
		}
		w.Header().Set(transport.UpstreamErrorHeader, kind)
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

// forwardHeader copies the caller headers worth passing upstream. Authorization is only
// forwarded when the relay does not consume it itself.
func (s *Server) forwardHeader(r *http.Request) http.Header {
	h := make(http.Header)
	if s.authToken == "" {
		if v := r.Header.Get("Authorization"); v != "" {
			h.Set("Authorization", v)
		}
	}
	if v := r.Header.Get("Accept"); v != "" {
		h.Set("Accept", v)
	}
	return h
}

func (s *Server) countRequest(route string, status int) {
	telemetry.Metrics.RelayRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func collectEvents(ctx context.Context, r io.Reader) ([]byte, error) {
	events := []json.RawMessage{}
	err := transport.ReadEvents(ctx, r, func(ev transport.Event) error {
		events = append(events, encodeReplyBody([]byte(ev.Data)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(events)
}

// encodeReplyBody keeps JSON bodies as-is and string-encodes anything else.
func encodeReplyBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}

func validateTarget(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: missing", ErrTargetScheme)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTargetScheme, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrTargetScheme, raw)
	}
	return nil
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return fmt.Sprintf("%dxx", status/100)
}
