package parley

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/igorsilveira/parley/pkg/a2a"
	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/mcp"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/igorsilveira/parley/pkg/transport"
	"github.com/igorsilveira/parley/pkg/tui"
	"github.com/spf13/cobra"
)

// connectFlags are shared by every command that opens a conversation.
type connectFlags struct {
	protocol  string
	target    string
	streaming bool
	relayURL  string
	direct    bool
	token     string
}

func (f *connectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.protocol, "protocol", "p", "", "a2a or mcp (default from config)")
	cmd.Flags().StringVarP(&f.target, "url", "u", "", "agent card or base URL for a2a, triplet base URL for mcp")
	cmd.Flags().BoolVar(&f.streaming, "stream", false, "use message/stream for the first A2A turn")
	cmd.Flags().StringVar(&f.relayURL, "relay", "", "relay base URL used when a direct call fails")
	cmd.Flags().BoolVar(&f.direct, "direct", false, "never fall back to the relay")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token sent to the agent")
}

// options merges flags over config. Flags win only when set on the command line.
func (f *connectFlags) options(cmd *cobra.Command, cfg *config.Config) tui.ConnectOptions {
	opts := tui.ConnectOptions{
		Protocol:  strings.ToLower(cfg.Agent.Protocol),
		Streaming: cfg.Agent.Streaming,
	}
	if cmd.Flags().Changed("protocol") {
		opts.Protocol = strings.ToLower(f.protocol)
	}
	if cmd.Flags().Changed("stream") {
		opts.Streaming = f.streaming
	}

	switch {
	case f.target != "":
		opts.Target = f.target
	case opts.Protocol == string(conversation.TransportMCP):
		opts.Target = cfg.MCP.BaseURL
	default:
		opts.Target = cfg.Agent.CardURL
	}
	return opts
}

func (f *connectFlags) director(cfg *config.Config, recorder trace.Recorder, logger *slog.Logger) *transport.Director {
	relayURL := cfg.Transport.RelayURL
	if f.relayURL != "" {
		relayURL = f.relayURL
	}
	if f.direct {
		relayURL = ""
	}
	return transport.New(transport.Config{
		RelayURL: relayURL,
		Timeout:  cfg.Transport.Timeout.Duration,
		Recorder: recorder,
		Logger:   logger,
	})
}

func (f *connectFlags) header() http.Header {
	if f.token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+f.token)
	return h
}

// sessionFactory builds a fresh session per connect. For A2A it re-resolves the card
// on every connect, served from memory while agent.card_ttl has not elapsed.
func sessionFactory(ctx context.Context, cfg *config.Config, opts tui.ConnectOptions, d *transport.Director, header http.Header, logger *slog.Logger) (tui.SessionFactory, error) {
	proto, ok := conversation.ParseTransport(opts.Protocol)
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (want a2a or mcp)", opts.Protocol)
	}

	switch proto {
	case conversation.TransportMCP:
		if opts.Target == "" {
			return nil, fmt.Errorf("mcp needs a base url")
		}
		return func() (conversation.Session, error) {
			return mcp.NewSession(mcp.SessionConfig{
				BaseURL: opts.Target,
				WaitMs:  cfg.MCP.WaitMs,
				Limits: mcp.PollLimits{
					MaxPolls: cfg.MCP.MaxPolls,
					Deadline: cfg.MCP.PollDeadline.Duration,
				},
				Header:   header,
				Director: d,
				Logger:   logger,
			}), nil
		}, nil
	}

	resolver := agentcard.NewResolver(d, logger)
	if ttl := cfg.Agent.CardTTL.Duration; ttl > 0 {
		cache, err := agentcard.NewCache(64, ttl)
		if err != nil {
			return nil, err
		}
		context.AfterFunc(ctx, cache.Close)
		resolver.WithCache(cache)
	}
	return func() (conversation.Session, error) {
		endpoint, err := resolveEndpoint(ctx, resolver, cfg, opts.Target)
		if err != nil {
			return nil, err
		}
		return a2a.NewSession(a2a.SessionConfig{
			Endpoint:  endpoint,
			Streaming: opts.Streaming,
			Header:    header,
			Director:  d,
			Logger:    logger,
		}), nil
	}, nil
}

// resolveEndpoint returns the transport URL named by the card, or the configured
// default endpoint when the card names none or no card URL was given.
func resolveEndpoint(ctx context.Context, resolver *agentcard.Resolver, cfg *config.Config, target string) (string, error) {
	if target == "" {
		return cfg.Agent.DefaultEndpoint, nil
	}
	ep, err := resolver.Resolve(ctx, agentcard.CardURL(target))
	if err != nil {
		return "", fmt.Errorf("resolving agent card: %w", err)
	}
	return ep.URLOr(cfg.Agent.DefaultEndpoint), nil
}
