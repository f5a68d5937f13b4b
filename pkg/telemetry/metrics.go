package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	TransportAttempts *prometheus.CounterVec
	TransportLatency  *prometheus.HistogramVec
	RelayFallbacks    prometheus.Counter
	RelayRequests     *prometheus.CounterVec
	CardResolutions   *prometheus.CounterVec
	SessionsStarted   *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	MessagesAppended  *prometheus.CounterVec
	MCPPolls          *prometheus.CounterVec
	StaleResponses    prometheus.Counter
	TraceSubscribers  prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
}{
	TransportAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "transport_attempts_total",
		Help:      "Transport attempts by mode (direct/relay/stream) and outcome.",
	}, []string{"mode", "outcome"}),

	TransportLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parley",
		Name:      "transport_latency_seconds",
		Help:      "Latency of a single transport attempt in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"mode"}),

	RelayFallbacks: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "relay_fallbacks_total",
		Help:      "Logical calls retried through the same-origin relay after a network failure.",
	}),

	RelayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "relay_requests_total",
		Help:      "Requests served by the relay server by route and upstream status class.",
	}, []string{"route", "status"}),

	CardResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "card_resolutions_total",
		Help:      "Agent card resolutions by matching extraction rule.",
	}, []string{"rule"}),

	SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "sessions_started_total",
		Help:      "Conversation sessions started by transport.",
	}, []string{"transport"}),

	ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Name:      "active_sessions",
		Help:      "Number of currently active conversation sessions.",
	}),

	MessagesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "messages_appended_total",
		Help:      "Messages appended to conversations by transport and origin.",
	}, []string{"transport", "origin"}),

	MCPPolls: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "mcp_polls_total",
		Help:      "check_replies calls by reply status.",
	}, []string{"status"}),

	StaleResponses: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "stale_responses_total",
		Help:      "Responses dropped because their session was reset.",
	}),

	TraceSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parley",
		Name:      "trace_subscribers",
		Help:      "Number of live trace stream subscribers.",
	}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parley",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),
}
