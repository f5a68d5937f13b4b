package parley

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/igorsilveira/parley/pkg/store"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/spf13/cobra"
)

var (
	traceMode    string
	traceOutcome string
	traceSince   time.Duration
	traceLimit   int
	traceFollow  bool
	traceRelay   string
	tracePrune   int
	traceJSON    bool
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Show recorded transport attempts",
	Long:  "Query the persisted trace database, or follow a running relay's live trace stream with --follow.",
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceMode, "mode", "", "only entries with this mode (direct, relay, stream, upstream)")
	traceCmd.Flags().StringVar(&traceOutcome, "outcome", "", "only entries with this outcome")
	traceCmd.Flags().DurationVar(&traceSince, "since", 0, "only entries newer than this")
	traceCmd.Flags().IntVarP(&traceLimit, "limit", "n", 50, "maximum entries to show")
	traceCmd.Flags().BoolVarP(&traceFollow, "follow", "f", false, "stream entries from a running relay")
	traceCmd.Flags().StringVar(&traceRelay, "relay", "", "relay base URL to follow (default from config)")
	traceCmd.Flags().IntVar(&tracePrune, "prune", -1, "delete all but the newest N entries and exit")
	traceCmd.Flags().BoolVar(&traceJSON, "json", false, "print entries as JSON lines")
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if traceFollow {
		base := cfg.Transport.RelayURL
		if traceRelay != "" {
			base = traceRelay
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return followTrace(ctx, cmd.OutOrStdout(), base, cfg.Relay.AuthToken)
	}

	if _, err := os.Stat(cfg.Trace.DSN); err != nil {
		return fmt.Errorf("no trace database at %s (start the relay with --persist)", cfg.Trace.DSN)
	}
	st, err := store.New(cfg.Trace.DSN)
	if err != nil {
		return err
	}
	defer st.Close()
	ts, err := trace.NewStore(st.DB(), commandLogger(cfg))
	if err != nil {
		return err
	}

	ctx := context.Background()
	if tracePrune >= 0 {
		n, err := ts.Prune(ctx, tracePrune)
		if err != nil {
			return fmt.Errorf("pruning trace: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
		return nil
	}

	f := trace.Filter{
		Mode:    trace.Mode(traceMode),
		Outcome: trace.Outcome(traceOutcome),
		Limit:   traceLimit,
	}
	if traceSince > 0 {
		f.Since = time.Now().Add(-traceSince)
	}
	entries, err := ts.Query(ctx, f)
	if err != nil {
		return fmt.Errorf("querying trace: %w", err)
	}

	// Query returns newest first; print oldest first like a log.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return writeEntries(cmd.OutOrStdout(), entries)
}

func writeEntries(w io.Writer, entries []trace.Entry) error {
	if !traceJSON {
		printTrace(w, entries)
		return nil
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

type traceFrame struct {
	Type         string       `json:"type"`
	SubscriberID string       `json:"subscriber_id"`
	Entry        *trace.Entry `json:"entry"`
}

func traceStreamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid relay url %q", base)
	}
	u.Path += "/ws/trace"
	return u.String(), nil
}

// followTrace prints entries from the relay's live stream until ctx ends or the
// relay closes the connection.
func followTrace(ctx context.Context, w io.Writer, base, token string) error {
	wsURL, err := traceStreamURL(base)
	if err != nil {
		return err
	}
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	for {
		var frame traceFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusGoingAway || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading trace stream: %w", err)
		}
		switch frame.Type {
		case "hello":
			fmt.Fprintf(w, "following %s (subscriber %s)\n", base, frame.SubscriberID)
		case "entry":
			if frame.Entry != nil {
				if err := writeEntries(w, []trace.Entry{*frame.Entry}); err != nil {
					return err
				}
			}
		}
	}
}
