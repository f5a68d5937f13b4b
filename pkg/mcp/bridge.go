package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/igorsilveira/parley/pkg/telemetry"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Triplet is the server side of /api/mcp/*.
type Triplet interface {
	BeginChatThread(ctx context.Context) (json.RawMessage, error)
	SendMessage(ctx context.Context, req SendRequest) (json.RawMessage, error)
	CheckReplies(ctx context.Context, req CheckRequest) (json.RawMessage, error)
}

type UpstreamConfig struct {
	URL     string
	Command string
	Args    []string
	Env     map[string]string
}

func (c UpstreamConfig) Configured() bool {
	return c.URL != "" || c.Command != ""
}

// Bridge serves the triplet by calling the tools of the same name on an upstream MCP
// server.
type Bridge struct {
	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
	caller  ToolCaller
	tools   []*mcpsdk.Tool
	logger  *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "parley-relay",
		Version: "1.0.0",
	}, nil)
	return &Bridge{
		client: client,
		logger: telemetry.Component(logger, "mcp-bridge"),
	}
}

// NewBridgeWithCaller builds a bridge over an existing tool caller.
func NewBridgeWithCaller(caller ToolCaller, logger *slog.Logger) *Bridge {
	b := NewBridge(logger)
	b.caller = caller
	return b
}

func (b *Bridge) Connect(ctx context.Context, cfg UpstreamConfig) error {
	var t mcpsdk.Transport
	switch {
	case cfg.URL != "":
		t = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	case cfg.Command != "":
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		t = &mcpsdk.CommandTransport{Command: cmd}
	default:
		return fmt.Errorf("mcp: no upstream url or command configured")
	}
	return b.ConnectTransport(ctx, t)
}

func (b *Bridge) ConnectTransport(ctx context.Context, t mcpsdk.Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return fmt.Errorf("mcp: bridge already connected")
	}

	session, err := b.client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("mcp: connecting upstream: %w", err)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("mcp: listing upstream tools: %w", err)
	}
	for _, name := range []string{ToolBegin, ToolSend, ToolCheck} {
		if !hasTool(result.Tools, name) {
			_ = session.Close()
			return fmt.Errorf("mcp: upstream does not provide tool %q", name)
		}
	}

	b.session = session
	b.caller = session
	b.tools = result.Tools

	b.logger.Info("mcp upstream connected", slog.Int("tools", len(result.Tools)))
	return nil
}

func (b *Bridge) Tools() []*mcpsdk.Tool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tools
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	b.caller = nil
	b.logger.Info("mcp upstream disconnected")
	return err
}

func (b *Bridge) BeginChatThread(ctx context.Context) (json.RawMessage, error) {
	parts, err := b.call(ctx, ToolBegin, map[string]any{})
	if err != nil {
		return nil, err
	}
	res := BeginResult{Content: make([]ContentItem, 0, len(parts))}
	for _, p := range parts {
		res.Content = append(res.Content, ContentItem{Type: "text", Text: p})
	}
	return json.Marshal(res)
}

func (b *Bridge) SendMessage(ctx context.Context, req SendRequest) (json.RawMessage, error) {
	parts, err := b.call(ctx, ToolSend, req)
	if err != nil {
		return nil, err
	}
	return decodeToolJSON(parts, StatusSent), nil
}

func (b *Bridge) CheckReplies(ctx context.Context, req CheckRequest) (json.RawMessage, error) {
	parts, err := b.call(ctx, ToolCheck, req)
	if err != nil {
		return nil, err
	}
	return decodeToolJSON(parts, StatusCompleted), nil
}

func (b *Bridge) call(ctx context.Context, tool string, args any) ([]string, error) {
	b.mu.Lock()
	caller := b.caller
	b.mu.Unlock()
	if caller == nil {
		return nil, fmt.Errorf("mcp: bridge not connected")
	}
	ctx, span := telemetry.StartSpan(ctx, "mcp.bridge."+tool)
	parts, err := callTool(ctx, caller, tool, args)
	telemetry.EndSpan(span, err)
	if err != nil {
		b.logger.Warn("upstream tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	}
	return parts, err
}

func hasTool(tools []*mcpsdk.Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
