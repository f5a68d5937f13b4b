package parley

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/igorsilveira/parley/pkg/conversation"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/spf13/cobra"
)

var (
	sendFlags     connectFlags
	sendShowTrace bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message to an agent and print its reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendFlags.register(sendCmd)
	sendCmd.Flags().BoolVar(&sendShowTrace, "trace", false, "print the transport attempts after the reply")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := commandLogger(cfg)

	opts := sendFlags.options(cmd, cfg)
	if opts.Protocol == string(conversation.TransportMCP) && opts.Target == "" {
		return fmt.Errorf("mcp needs --url or mcp.base_url")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := initTracing(ctx, cfg, "parley-send")
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	log := trace.NewLog(cfg.Trace.Capacity)
	d := sendFlags.director(cfg, log, logger)
	factory, err := sessionFactory(ctx, cfg, opts, d, sendFlags.header(), logger)
	if err != nil {
		return err
	}
	session, err := factory()
	if err != nil {
		return err
	}

	ctrl := conversation.NewController(logger)
	defer ctrl.Close()
	if err := ctrl.Connect(ctx, session); err != nil {
		return err
	}

	sendErr := ctrl.Send(ctx, strings.Join(args, " "))
	out := cmd.OutOrStdout()
	printReply(out, ctrl.Snapshot())
	if sendShowTrace {
		printTrace(out, log.Entries())
	}
	return sendErr
}

// printReply writes everything that arrived after the last local message.
func printReply(w io.Writer, snap conversation.Snapshot) {
	start := 0
	for i, m := range snap.Messages {
		if m.Origin == conversation.OriginLocal {
			start = i + 1
		}
	}
	for _, m := range snap.Messages[start:] {
		if m.Role == "status" {
			fmt.Fprintf(w, "· %s\n", m.Content)
			continue
		}
		fmt.Fprintln(w, m.Content)
	}
	for _, a := range snap.Artifacts {
		fmt.Fprintf(w, "artifact: %s (%s) %s\n", a.Name, a.MimeType, a.Locator)
	}
	if snap.ContinuityID != "" {
		fmt.Fprintf(w, "continuity: %s\n", snap.ContinuityID)
	}
}

func printTrace(w io.Writer, entries []trace.Entry) {
	for _, e := range entries {
		line := fmt.Sprintf("%s %-8s %-6s %s %s", e.Timestamp.Format("15:04:05.000"), e.Mode, e.Method, e.URL, e.Outcome)
		if e.Status != 0 {
			line += fmt.Sprintf(" %d", e.Status)
		}
		if e.Error != "" {
			line += " " + e.Error
		}
		fmt.Fprintf(w, "%s (%dms)\n", line, e.DurationMs)
	}
}
