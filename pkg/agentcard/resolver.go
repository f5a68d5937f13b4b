package agentcard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/transport"
	"golang.org/x/sync/singleflight"
)

const WellKnownPath = "/.well-known/agent-card.json"

var ErrNotFound = errors.New("agentcard: card not found")

// FetchError means the card could not be reached at all, directly or through the relay.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("agentcard: fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Executor interface {
	Execute(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

type Endpoint struct {
	BaseURL      string
	CardURL      string
	TransportURL string
	Resolved     bool
	Rule         Rule
	Card         Document
}

// URLOr returns the resolved transport URL, or fallback when no rule matched.
func (e *Endpoint) URLOr(fallback string) string {
	if e == nil || !e.Resolved {
		return fallback
	}
	return e.TransportURL
}

type Resolver struct {
	exec   Executor
	logger *slog.Logger
	cache  *Cache
	group  singleflight.Group
}

func NewResolver(exec Executor, logger *slog.Logger) *Resolver {
	return &Resolver{exec: exec, logger: telemetry.Component(logger, "agentcard")}
}

// WithCache serves repeat fetches of the same card URL from c.
func (r *Resolver) WithCache(c *Cache) *Resolver {
	r.cache = c
	return r
}

func (r *Resolver) Resolve(ctx context.Context, cardURL string) (*Endpoint, error) {
	ctx, span := telemetry.StartSpan(ctx, "agentcard.resolve")
	doc, err := r.Fetch(ctx, cardURL)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	ext := Extract(doc)
	telemetry.Metrics.CardResolutions.WithLabelValues(string(ext.Rule)).Inc()

	ep := &Endpoint{
		BaseURL:      BaseURL(cardURL),
		CardURL:      cardURL,
		TransportURL: ext.URL,
		Resolved:     ext.Matched(),
		Rule:         ext.Rule,
		Card:         doc,
	}
	if ep.Resolved {
		r.logger.Info("agent card resolved", slog.String("card_url", cardURL), slog.String("rule", string(ext.Rule)), slog.String("transport_url", ep.TransportURL))
	} else {
		r.logger.Warn("agent card has no transport url", slog.String("card_url", cardURL))
	}
	return ep, nil
}

// Fetch retrieves and parses the card without extracting anything from it. Concurrent
// fetches of one URL share a single request.
func (r *Resolver) Fetch(ctx context.Context, cardURL string) (Document, error) {
	if r.cache != nil {
		if doc, ok := r.cache.Get(cardURL); ok {
			r.logger.Debug("agent card served from cache", slog.String("card_url", cardURL))
			return doc, nil
		}
	}

	v, err, _ := r.group.Do(cardURL, func() (any, error) {
		return r.fetch(ctx, cardURL)
	})
	if err != nil {
		return nil, err
	}
	doc := v.(Document)
	if r.cache != nil {
		r.cache.Set(cardURL, doc)
	}
	return doc, nil
}

func (r *Resolver) fetch(ctx context.Context, cardURL string) (Document, error) {
	resp, err := r.exec.Execute(ctx, &transport.Request{Method: http.MethodGet, URL: cardURL})
	if err != nil {
		if transport.IsNetwork(err) {
			return nil, &FetchError{URL: cardURL, Err: err}
		}
		if status, ok := transport.StatusOf(err); ok && status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cardURL)
		}
		return nil, err
	}

	doc, err := Parse(resp.Body)
	if err != nil {
		return nil, &transport.ParseError{URL: cardURL, Err: err}
	}
	return doc, nil
}

// CardURL turns a bare agent base URL into its well-known card location. URLs that
// already point at a JSON document are returned unchanged.
func CardURL(base string) string {
	base = strings.TrimSpace(base)
	if strings.Contains(base, "/.well-known/") || strings.HasSuffix(base, ".json") {
		return base
	}
	return strings.TrimRight(base, "/") + WellKnownPath
}

func BaseURL(cardURL string) string {
	u, err := url.Parse(cardURL)
	if err != nil || u.Host == "" {
		return cardURL
	}
	if i := strings.Index(u.Path, "/.well-known/"); i >= 0 {
		u.Path = u.Path[:i]
	}
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimRight(u.String(), "/")
}
