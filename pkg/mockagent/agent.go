package mockagent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igorsilveira/parley/pkg/a2a"
	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/igorsilveira/parley/pkg/mcp"
	"github.com/igorsilveira/parley/pkg/telemetry"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	A2APath = "/a2a"
	MCPPath = "/mcp"
)

type Config struct {
	Name    string
	Version string
	// BaseURL is advertised in the agent card. When empty it is derived from each request.
	BaseURL   string
	AuthToken string
	// ReplyDelay holds MCP replies back so callers have to poll for them.
	ReplyDelay time.Duration
	Logger     *slog.Logger
}

// Agent is a local echo agent speaking A2A JSON-RPC and the MCP chat triplet.
type Agent struct {
	router    chi.Router
	cfg       Config
	store     *TaskStore
	threads   *Threads
	logger    *slog.Logger
	authToken string
}

func New(cfg Config) *Agent {
	if cfg.Name == "" {
		cfg.Name = "Parley Echo Agent"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	a := &Agent{
		cfg:       cfg,
		store:     NewTaskStore(),
		threads:   NewThreads(cfg.ReplyDelay),
		logger:    telemetry.Component(cfg.Logger, "mock-agent"),
		authToken: cfg.AuthToken,
	}
	a.buildRouter()
	return a
}

func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Threads exposes the MCP thread store so a relay can mount it in-process.
func (a *Agent) Threads() *Threads {
	return a.threads
}

func (a *Agent) Tasks() *TaskStore {
	return a.store
}

func (a *Agent) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(agentcard.WellKnownPath, a.handleAgentCard)

	mcpServer := mcp.NewServer(a.cfg.Name, a.cfg.Version, a.threads)
	streamable := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return mcpServer
	}, nil)

	r.Group(func(r chi.Router) {
		if a.authToken != "" {
			r.Use(a.authMiddleware)
		}
		r.Post(A2APath, a.handleJSONRPC)
		r.Get(A2APath+"/tasks", a.handleListTasks)
		r.Get(A2APath+"/tasks/{id}", a.handleGetTask)
		mcp.Mount(r, a.threads, a.logger)
		r.Handle(MCPPath, streamable)
	})
	a.router = r
}

func (a *Agent) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != a.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Card describes the agent as served from the well-known path.
func (a *Agent) Card(base string) a2a.AgentCard {
	endpoint := strings.TrimRight(base, "/") + A2APath
	return a2a.AgentCard{
		Name:               a.cfg.Name,
		Description:        "Echoes every message back. Mention \"artifact\" to receive a file artifact.",
		URL:                endpoint,
		Version:            a.cfg.Version,
		ProtocolVersion:    "0.3.0",
		PreferredTransport: "JSONRPC",
		Capabilities:       a2a.Capabilities{Streaming: true},
		Endpoints:          &a2a.Endpoints{JSONRPC: endpoint},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.Skill{{
			ID:          "echo",
			Name:        "echo",
			Description: "Repeat the message text",
			Tags:        []string{"test"},
		}},
	}
}

func (a *Agent) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	base := a.cfg.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	writeJSON(w, http.StatusOK, a.Card(base))
}

func (a *Agent) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *Agent) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
