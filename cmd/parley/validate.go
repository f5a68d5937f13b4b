package parley

import (
	"context"
	"fmt"
	"os"

	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/spf13/cobra"
)

var (
	validateFlags  connectFlags
	validateFile   string
	validateOutput string
)

var validateCmd = &cobra.Command{
	Use:   "validate [card-or-base-url]",
	Short: "Check an agent card for required fields and an endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "validate a card stored on disk")
	validateCmd.Flags().StringVar(&validateFlags.relayURL, "relay", "", "relay base URL used when a direct fetch fails")
	validateCmd.Flags().BoolVar(&validateFlags.direct, "direct", false, "never fall back to the relay")
	validateCmd.Flags().StringVarP(&validateOutput, "output", "o", "json", "report format: json or yaml")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var doc agentcard.Document
	switch {
	case validateFile != "":
		data, err := os.ReadFile(validateFile)
		if err != nil {
			return fmt.Errorf("reading card: %w", err)
		}
		if doc, err = agentcard.Parse(data); err != nil {
			return fmt.Errorf("parsing card: %w", err)
		}
	default:
		target := cfg.Agent.CardURL
		if len(args) == 1 {
			target = args[0]
		}
		if target == "" {
			return fmt.Errorf("give a card url, --file, or set agent.card_url")
		}
		logger := commandLogger(cfg)
		d := validateFlags.director(cfg, nil, logger)
		if doc, err = agentcard.NewResolver(d, logger).Fetch(context.Background(), agentcard.CardURL(target)); err != nil {
			return err
		}
	}

	res := agentcard.Validate(doc)
	if err := writeStructured(cmd.OutOrStdout(), validateOutput, res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("card is invalid: %d issue(s)", len(res.Issues))
	}
	return nil
}
