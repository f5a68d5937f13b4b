package parley

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/mockagent"
	"github.com/spf13/cobra"
)

var (
	mockPort    int
	mockBind    string
	mockBaseURL string
	mockDelay   time.Duration
	mockToken   string
)

var mockAgentCmd = &cobra.Command{
	Use:   "mock-agent",
	Short: "Start a local echo agent speaking A2A and the MCP triplet",
	RunE:  runMockAgent,
}

func init() {
	mockAgentCmd.Flags().IntVar(&mockPort, "port", 0, "listen port (default from config)")
	mockAgentCmd.Flags().StringVar(&mockBind, "bind", "", "loopback, lan, or an explicit host")
	mockAgentCmd.Flags().StringVar(&mockBaseURL, "base-url", "", "base URL advertised in the agent card")
	mockAgentCmd.Flags().DurationVar(&mockDelay, "reply-delay", 0, "hold MCP replies back this long")
	mockAgentCmd.Flags().StringVar(&mockToken, "token", "", "require this bearer token")
}

func runMockAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mockPort != 0 {
		cfg.MockAgent.Port = mockPort
	}
	if mockBind != "" {
		cfg.MockAgent.Bind = mockBind
	}

	logger := commandLogger(cfg)
	agent := mockagent.New(mockagent.Config{
		Name:       cfg.MockAgent.Name,
		Version:    version,
		BaseURL:    mockBaseURL,
		AuthToken:  mockToken,
		ReplyDelay: mockDelay,
		Logger:     logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serveMockAgent(ctx, agent, config.ResolveAddr(cfg.MockAgent.Bind, cfg.MockAgent.Port), logger)
}

// serveMockAgent blocks until ctx is done, then shuts the listener down.
func serveMockAgent(ctx context.Context, agent *mockagent.Agent, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           agent,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock agent listen: %w", err)
	}
	logger.Info("mock agent listening",
		slog.String("addr", addr),
		slog.String("card", "http://"+ln.Addr().String()+agentcard.WellKnownPath),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("mock agent shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
