package tui

import (
	"errors"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
)

type ConnectOptions struct {
	Protocol string
	// Target is an agent card or base URL for a2a, and the triplet base URL for mcp.
	Target    string
	Streaming bool
}

// NeedsForm reports whether the options are incomplete enough to ask the user.
func (o ConnectOptions) NeedsForm() bool {
	return o.Protocol == "" || o.Target == ""
}

func connectForm(opts *ConnectOptions) *huh.Form {
	if opts.Protocol == "" {
		opts.Protocol = "a2a"
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Protocol").
				Options(
					huh.NewOption("A2A (JSON-RPC over HTTP)", "a2a"),
					huh.NewOption("MCP chat triplet", "mcp"),
				).
				Value(&opts.Protocol),
			huh.NewInput().
				Title("Agent URL").
				Description("Agent card or base URL for A2A, relay base URL for MCP").
				Value(&opts.Target).
				Validate(ValidateTarget),
			huh.NewConfirm().
				Title("Stream the first A2A turn?").
				Value(&opts.Streaming),
		),
	)
}

// AskConnectOptions fills the missing connection options interactively.
func AskConnectOptions(opts ConnectOptions) (ConnectOptions, error) {
	if err := connectForm(&opts).Run(); err != nil {
		return opts, err
	}
	opts.Target = strings.TrimSpace(opts.Target)
	return opts, nil
}

func ValidateTarget(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("a URL is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}
