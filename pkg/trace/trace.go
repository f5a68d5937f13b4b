package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRelay  Mode = "relay"
	ModeStream Mode = "stream"
	// ModeUpstream marks calls the relay server makes on a client's behalf.
	ModeUpstream Mode = "upstream"
)

type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeHTTPError   Outcome = "http_error"
	OutcomeRelayNeeded Outcome = "relay_needed"
	OutcomeFailed      Outcome = "failed"
)

type Entry struct {
	ID         string    `gorm:"primaryKey;column:id" json:"id"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index:idx_trace_timestamp" json:"timestamp"`
	Mode       Mode      `gorm:"column:mode;not null" json:"mode"`
	Method     string    `gorm:"column:method;not null;default:''" json:"method"`
	URL        string    `gorm:"column:url;not null;default:''" json:"url"`
	Status     int       `gorm:"column:status;not null;default:0" json:"status,omitempty"`
	Outcome    Outcome   `gorm:"column:outcome;not null" json:"outcome"`
	Error      string    `gorm:"column:error;not null;default:''" json:"error,omitempty"`
	DurationMs int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
}

func (Entry) TableName() string {
	return "transport_trace"
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type RecorderFunc func(ctx context.Context, e Entry)

func (f RecorderFunc) Record(ctx context.Context, e Entry) { f(ctx, e) }

// NewEntry stamps an attempt with an id, time and elapsed duration.
func NewEntry(mode Mode, method, url string, started time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Timestamp:  started.UTC(),
		Mode:       mode,
		Method:     method,
		URL:        url,
		DurationMs: time.Since(started).Milliseconds(),
	}
}

type Filter struct {
	Mode    Mode
	Outcome Outcome
	Since   time.Time
	Until   time.Time
	Limit   int
}

func (f Filter) matches(e Entry) bool {
	if f.Mode != "" && e.Mode != f.Mode {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Log keeps the most recent entries in a fixed-size ring.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 256
	}
	return &Log{entries: make([]Entry, capacity)}
}

func (l *Log) Record(_ context.Context, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns the retained entries oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.full {
		out := make([]Entry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Query returns matching entries newest first.
func (l *Log) Query(f Filter) []Entry {
	all := l.Entries()
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(all[i]) {
			continue
		}
		out = append(out, all[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

type multi []Recorder

func (m multi) Record(ctx context.Context, e Entry) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Tee fans each entry out to every non-nil recorder.
func Tee(recorders ...Recorder) Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

var Discard Recorder = RecorderFunc(func(context.Context, Entry) {})
