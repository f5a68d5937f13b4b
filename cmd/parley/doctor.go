package parley

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/igorsilveira/parley/pkg/agentcard"
	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/transport"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the Parley installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Parley Doctor v%s\n", version)
	fmt.Fprintf(w, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Go: %s\n\n", runtime.Version())

	cfg, cfgCheck := checkConfig()
	checks := []checkResult{
		checkDataDir(),
		cfgCheck,
		checkTraceDB(cfg),
		checkRelayHealth(cfg),
		checkAgentCard(cfg),
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Fprintf(w, "  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Fprintf(w, "\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkConfig() (*config.Config, checkResult) {
	path := configPath()
	if _, err := os.Stat(path); err != nil {
		return config.Default(), checkResult{"Config file", true, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default(), checkResult{"Config file", false, fmt.Sprintf("parse error: %s", err)}
	}
	return cfg, checkResult{"Config file", true, fmt.Sprintf("%s (protocol %s)", path, cfg.Agent.Protocol)}
}

func checkTraceDB(cfg *config.Config) checkResult {
	if !cfg.Trace.Persist {
		return checkResult{"Trace database", true, "persistence disabled"}
	}
	info, err := os.Stat(cfg.Trace.DSN)
	if err != nil {
		return checkResult{"Trace database", true, fmt.Sprintf("%s not found (will be created by the relay)", cfg.Trace.DSN)}
	}
	return checkResult{"Trace database", true, fmt.Sprintf("%s (%d KB)", cfg.Trace.DSN, info.Size()/1024)}
}

func checkRelayHealth(cfg *config.Config) checkResult {
	base := strings.TrimRight(cfg.Transport.RelayURL, "/")
	if base == "" {
		return checkResult{"Relay", true, "no relay configured (direct calls only)"}
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(base + "/healthz")
	if err != nil {
		return checkResult{"Relay", false, fmt.Sprintf("not running at %s", base)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Relay", true, fmt.Sprintf("running at %s", base)}
	}
	return checkResult{"Relay", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}

func checkAgentCard(cfg *config.Config) checkResult {
	if cfg.Agent.CardURL == "" {
		return checkResult{"Agent card", true, "agent.card_url not set (optional)"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := transport.New(transport.Config{RelayURL: cfg.Transport.RelayURL})
	doc, err := agentcard.NewResolver(d, nil).Fetch(ctx, agentcard.CardURL(cfg.Agent.CardURL))
	if err != nil {
		return checkResult{"Agent card", false, err.Error()}
	}
	res := agentcard.Validate(doc)
	if !res.Valid {
		return checkResult{"Agent card", false, fmt.Sprintf("invalid (score %d): %s", res.Score, strings.Join(res.Issues, "; "))}
	}
	return checkResult{"Agent card", true, fmt.Sprintf("%s (score %d)", doc.Name(), res.Score)}
}
