package trace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/igorsilveira/parley/pkg/telemetry"
)

type Subscriber struct {
	ID      string
	Entries chan Entry
}

// Hub broadcasts entries to live subscribers. Slow subscribers lose entries rather
// than blocking the transport.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:      uuid.NewString(),
		Entries: make(chan Entry, h.buffer),
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	telemetry.Metrics.TraceSubscribers.Inc()
	return s
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(s.Entries)
	}
	h.mu.Unlock()
	if ok {
		telemetry.Metrics.TraceSubscribers.Dec()
	}
}

func (h *Hub) Record(_ context.Context, e Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.Entries <- e:
		default:
			h.logger.Debug("trace: dropping entry for slow subscriber", slog.String("subscriber", s.ID))
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Unsubscribe(id)
	}
}
