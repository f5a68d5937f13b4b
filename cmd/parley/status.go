package parley

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of the Parley relay",
	RunE:  runStatus,
}

type readiness struct {
	Status      string `json:"status"`
	MCP         bool   `json:"mcp"`
	Subscribers int    `json:"subscribers"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := strings.TrimRight(cfg.Transport.RelayURL, "/")
	w := cmd.OutOrStdout()

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(base + "/readyz")
	if err != nil {
		fmt.Fprintf(w, "status: relay at %s is not running\n", base)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(w, "status: relay returned %s\n", resp.Status)
		return nil
	}

	var ready readiness
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		fmt.Fprintln(w, "status: relay is healthy")
		return nil
	}
	fmt.Fprintf(w, "status: relay is %s (mcp: %t, trace subscribers: %d)\n", ready.Status, ready.MCP, ready.Subscribers)
	return nil
}
