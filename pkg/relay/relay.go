package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/mcp"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server is the same-origin relay: it forwards card fetches and JSON-RPC calls that a
// client could not make directly, and serves the MCP triplet endpoints.
type Server struct {
	server    *http.Server
	router    *chi.Mux
	client    *http.Client
	triplet   mcp.Triplet
	hub       *trace.Hub
	log       *trace.Log
	recorder  trace.Recorder
	logger    *slog.Logger
	authToken string
	limiter   *ipLimiter
}

type Config struct {
	Bind   string
	Port   int
	Client *http.Client
	// Triplet serves /api/mcp/*. Nil leaves those routes unmounted.
	Triplet mcp.Triplet
	Hub     *trace.Hub
	Log     *trace.Log
	// Recorder also receives every upstream attempt, e.g. a persistent trace.Store.
	Recorder  trace.Recorder
	Logger    *slog.Logger
	AuthToken string
	// RateLimit caps proxy requests per second per client address. Zero disables it.
	RateLimit float64
	RateBurst int
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Hub == nil {
		cfg.Hub = trace.NewHub(0, cfg.Logger)
	}
	if cfg.Log == nil {
		cfg.Log = trace.NewLog(0)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	s := &Server{
		router:    r,
		client:    cfg.Client,
		triplet:   cfg.Triplet,
		hub:       cfg.Hub,
		log:       cfg.Log,
		recorder:  trace.Tee(cfg.Log, cfg.Hub, cfg.Recorder),
		logger:    telemetry.Component(cfg.Logger, "relay"),
		authToken: cfg.AuthToken,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:              config.ResolveAddr(cfg.Bind, cfg.Port),
		Handler:           otelhttp.NewHandler(r, "parley-relay"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Hub() *trace.Hub {
	return s.hub
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.middleware)
			}
			r.Get("/api/proxy/agent-card", s.handleAgentCard)
			r.Post("/api/proxy/a2a-message", s.handleA2AMessage)
		})
		r.Get("/api/trace", s.handleTraceQuery)
		r.Get("/ws/trace", s.handleTraceStream)
		if s.triplet != nil {
			mcp.Mount(r, s.triplet, s.logger)
		}
	})
}

func (s *Server) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("relay listening", slog.String("addr", s.server.Addr))

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("relay shutting down")
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"mcp":         s.triplet != nil,
		"subscribers": s.hub.Len(),
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
