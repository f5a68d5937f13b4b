package parley

import (
	"context"
	"fmt"
	"os"

	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/spf13/cobra"
)

var (
	resolveFlags  connectFlags
	resolveOutput string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [card-or-base-url]",
	Short: "Fetch an agent card and print the endpoint parley would talk to",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFlags.relayURL, "relay", "", "relay base URL used when a direct fetch fails")
	resolveCmd.Flags().BoolVar(&resolveFlags.direct, "direct", false, "never fall back to the relay")
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "text", "output format: text, json or yaml")
}

type resolvedCard struct {
	CardURL      string `json:"card_url" yaml:"card_url"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	Resolved     bool   `json:"resolved" yaml:"resolved"`
	Rule         string `json:"rule" yaml:"rule"`
	TransportURL string `json:"transport_url" yaml:"transport_url"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Streaming    bool   `json:"streaming" yaml:"streaming"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := commandLogger(cfg)

	target := cfg.Agent.CardURL
	if len(args) == 1 {
		target = args[0]
	}
	if target == "" {
		return fmt.Errorf("no card url given and agent.card_url is not set")
	}

	d := resolveFlags.director(cfg, nil, logger)
	ep, err := agentcard.NewResolver(d, logger).Resolve(context.Background(), agentcard.CardURL(target))
	if err != nil {
		return err
	}

	out := resolvedCard{
		CardURL:      ep.CardURL,
		BaseURL:      ep.BaseURL,
		Resolved:     ep.Resolved,
		Rule:         string(ep.Rule),
		TransportURL: ep.URLOr(cfg.Agent.DefaultEndpoint),
		Name:         ep.Card.Name(),
		Streaming:    ep.Card.Streaming(),
	}

	w := cmd.OutOrStdout()
	if resolveOutput != "text" {
		return writeStructured(w, resolveOutput, out)
	}

	fmt.Fprintf(w, "card:      %s\n", out.CardURL)
	if out.Name != "" {
		fmt.Fprintf(w, "agent:     %s\n", out.Name)
	}
	if out.Resolved {
		fmt.Fprintf(w, "endpoint:  %s (via %s)\n", out.TransportURL, out.Rule)
	} else {
		fmt.Fprintf(os.Stderr, "warning: card names no endpoint, using default\n")
		fmt.Fprintf(w, "endpoint:  %s (default)\n", out.TransportURL)
	}
	fmt.Fprintf(w, "streaming: %t\n", out.Streaming)
	return nil
}
