package relay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/igorsilveira/parley/pkg/transport"
)

func TestIPLimiterBuckets(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := range 2 {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Error("other address should have its own bucket")
	}

	now = now.Add(time.Second)
	if !l.allow("10.0.0.1") {
		t.Error("bucket should refill after a second")
	}
}

func TestIPLimiterForgetsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(visitorIdle + time.Second)
	l.allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Error("idle visitor should have been dropped")
	}
}

func TestRateLimitedProxy(t *testing.T) {
	up := upstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	s := New(Config{RateLimit: 0.001, RateBurst: 1})
	target := transport.RelayCardPath + "?url=" + url.QueryEscape(up.URL)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthz should not be limited, got %d", w.Code)
	}
}
