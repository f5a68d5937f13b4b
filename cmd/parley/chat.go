package parley

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/igorsilveira/parley/pkg/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatFlags connectFlags

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive TUI chat session with an agent",
	RunE:  runChat,
}

func init() {
	chatFlags.register(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal; use parley send instead")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file.
	logFile, err := os.OpenFile(filepath.Join(config.DataDir(), "chat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening chat log: %w", err)
	}
	defer logFile.Close()
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, logFile)

	opts := chatFlags.options(cmd, cfg)
	if opts.NeedsForm() {
		opts, err = tui.AskConnectOptions(opts)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdown, err := initTracing(ctx, cfg, "parley-chat")
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	recorder := trace.NewLog(cfg.Trace.Capacity)
	d := chatFlags.director(cfg, recorder, logger)
	factory, err := sessionFactory(ctx, cfg, opts, d, chatFlags.header(), logger)
	if err != nil {
		return err
	}

	ctrl := conversation.NewController(logger)
	defer ctrl.Close()

	title := fmt.Sprintf("parley %s · %s", opts.Protocol, opts.Target)
	return tui.Run(ctx, ctrl, factory, title)
}
