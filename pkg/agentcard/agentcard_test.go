package agentcard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/igorsilveira/parley/pkg/transport"
)

func mustParse(t *testing.T, s string) Document {
	t.Helper()
	doc, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return doc
}

func TestExtractPrecedence(t *testing.T) {
	tests := []struct {
		name string
		card string
		rule Rule
		url  string
	}{
		{"url wins", `{"url":"https://x/a2a","endpoints":{"jsonrpc":"https://y/rpc"}}`, RuleURL, "https://x/a2a"},
		{"jsonrpc", `{"endpoints":{"jsonrpc":"https://y/rpc"},"skills":[{"id":"s","discovery":{"url":"https://z"}}]}`, RuleJSONRPC, "https://y/rpc"},
		{"first skill discovery", `{"skills":[{"id":"a"},{"id":"b","discovery":{"url":"https://b"}},{"id":"c","discovery":{"url":"https://c"}}]}`, RuleSkillDiscovery, "https://b"},
		{"interface case insensitive", `{"additionalInterfaces":[{"transport":"GRPC","url":"grpc://g"},{"transport":"jsonrpc","url":"https://j"}]}`, RuleInterface, "https://j"},
		{"empty url skipped", `{"url":"  ","endpoints":{"jsonrpc":"https://y/rpc"}}`, RuleJSONRPC, "https://y/rpc"},
		{"none", `{"name":"A","skills":[]}`, RuleNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(mustParse(t, tt.card))
			if got.Rule != tt.rule || got.URL != tt.url {
				t.Errorf("Extract = %+v, want {%s %s}", got, tt.rule, tt.url)
			}
		})
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for array document")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestValidateMinimalCard(t *testing.T) {
	doc := mustParse(t, `{"name":"A","description":"d","version":"1","capabilities":{},"endpoints":{"jsonrpc":"u"}}`)
	res := Validate(doc)
	if !res.Valid {
		t.Errorf("Valid = false, issues = %v", res.Issues)
	}
	if res.Score != 100 {
		t.Errorf("Score = %d, want 100 (warnings %v)", res.Score, res.Warnings)
	}
}

func TestValidateScoreFloor(t *testing.T) {
	res := Validate(mustParse(t, `{"skills":[]}`))
	if res.Valid {
		t.Error("Valid = true, want false")
	}
	if res.Score != 0 {
		t.Errorf("Score = %d, want 0", res.Score)
	}
	if len(res.Issues) != 5 {
		t.Errorf("Issues = %v, want 5", res.Issues)
	}
}

func TestValidatePure(t *testing.T) {
	doc := mustParse(t, `{"name":"A","skills":[{"name":"no id"}],"endpoints":{}}`)
	first := Validate(doc)
	second := Validate(doc)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Validate not deterministic: %+v vs %+v", first, second)
	}
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name     string
		card     string
		issues   int
		warnings int
		score    int
	}{
		{"skills not array", `{"name":"A","description":"d","version":"1","capabilities":{},"endpoints":{"jsonrpc":"u"},"skills":{}}`, 1, 0, 80},
		{"skill without id", `{"name":"A","description":"d","version":"1","capabilities":{},"skills":[{"discovery":{"url":"u"}}]}`, 1, 0, 80},
		{"endpoints without jsonrpc", `{"name":"A","description":"d","version":"1","capabilities":{},"endpoints":{"rest":"r"},"skills":[{"id":"s","discovery":{"url":"u"}}]}`, 0, 1, 95},
		{"no endpoint", `{"name":"A","description":"d","version":"1","capabilities":{}}`, 1, 0, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(mustParse(t, tt.card))
			if len(res.Issues) != tt.issues || len(res.Warnings) != tt.warnings || res.Score != tt.score {
				t.Errorf("Validate = %+v, want %d issues, %d warnings, score %d", res, tt.issues, tt.warnings, tt.score)
			}
			if res.Valid != (tt.issues == 0) {
				t.Errorf("Valid = %v", res.Valid)
			}
		})
	}
}

func cardServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			t.Errorf("path = %q, want %q", r.URL.Path, WellKnownPath)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveURL(t *testing.T) {
	srv := cardServer(t, http.StatusOK, `{"url":"https://x/a2a","endpoints":{"jsonrpc":"https://y"}}`)
	r := NewResolver(transport.New(transport.Config{}), nil)

	ep, err := r.Resolve(context.Background(), CardURL(srv.URL))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ep.Resolved || ep.TransportURL != "https://x/a2a" {
		t.Errorf("endpoint = %+v, want https://x/a2a", ep)
	}
	if ep.Rule != RuleURL {
		t.Errorf("Rule = %q, want %q", ep.Rule, RuleURL)
	}
	if ep.BaseURL != srv.URL {
		t.Errorf("BaseURL = %q, want %q", ep.BaseURL, srv.URL)
	}
}

func TestResolveUnresolved(t *testing.T) {
	srv := cardServer(t, http.StatusOK, `{"name":"nothing here"}`)
	r := NewResolver(transport.New(transport.Config{}), nil)

	ep, err := r.Resolve(context.Background(), CardURL(srv.URL))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ep.Resolved {
		t.Error("Resolved = true, want false")
	}
	if got := ep.URLOr("http://fallback/a2a"); got != "http://fallback/a2a" {
		t.Errorf("URLOr = %q, want fallback", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	srv := cardServer(t, http.StatusNotFound, `{"error":"nope"}`)
	r := NewResolver(transport.New(transport.Config{}), nil)

	_, err := r.Resolve(context.Background(), CardURL(srv.URL))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveParseError(t *testing.T) {
	srv := cardServer(t, http.StatusOK, `<html></html>`)
	r := NewResolver(transport.New(transport.Config{}), nil)

	_, err := r.Resolve(context.Background(), CardURL(srv.URL))
	var pe *transport.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("err = %v, want *transport.ParseError", err)
	}
}

func TestResolveFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	r := NewResolver(transport.New(transport.Config{}), nil)
	_, err := r.Resolve(context.Background(), CardURL(dead))
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("err = %v, want *FetchError", err)
	}
}

func TestCardURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://agent.example.com", "https://agent.example.com/.well-known/agent-card.json"},
		{"https://agent.example.com/", "https://agent.example.com/.well-known/agent-card.json"},
		{"https://agent.example.com/.well-known/agent.json", "https://agent.example.com/.well-known/agent.json"},
		{"https://cdn.example.com/card.json", "https://cdn.example.com/card.json"},
	}
	for _, tt := range tests {
		if got := CardURL(tt.in); got != tt.want {
			t.Errorf("CardURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
