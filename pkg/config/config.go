package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	Transport TransportConfig `toml:"transport"`
	MCP       MCPConfig       `toml:"mcp"`
	Relay     RelayConfig     `toml:"relay"`
	MockAgent MockAgentConfig `toml:"mock_agent"`
	Trace     TraceConfig     `toml:"trace"`
	Log       LogConfig       `toml:"log"`
	Tracing   TracingConfig   `toml:"tracing"`
}

type AgentConfig struct {
	CardURL         string `toml:"card_url"`
	Protocol        string `toml:"protocol"`
	DefaultEndpoint string `toml:"default_endpoint"`
	Streaming       bool   `toml:"streaming"`

	// CardTTL keeps resolved cards in memory between resets. Zero disables caching.
	CardTTL Duration `toml:"card_ttl"`
}

type TransportConfig struct {
	RelayURL string   `toml:"relay_url"`
	Timeout  Duration `toml:"timeout"`
}

type MCPConfig struct {
	BaseURL         string   `toml:"base_url"`
	WaitMs          int      `toml:"wait_ms"`
	MaxPolls        int      `toml:"max_polls"`
	PollDeadline    Duration `toml:"poll_deadline"`
	UpstreamURL     string   `toml:"upstream_url"`
	UpstreamCommand string   `toml:"upstream_command"`
	UpstreamArgs    []string `toml:"upstream_args"`
}

type RelayConfig struct {
	Bind      string `toml:"bind"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"`
	// ThreadIdle expires in-process echo threads nobody has touched for this long.
	ThreadIdle Duration `toml:"thread_idle"`
	// RateLimit is proxy requests per second per client address; zero disables it.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type MockAgentConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
	Name string `toml:"name"`
}

type TraceConfig struct {
	Capacity int    `toml:"capacity"`
	Persist  bool   `toml:"persist"`
	DSN      string `toml:"dsn"`
	// Keep bounds the persisted table; the relay prunes to it every PruneEvery.
	Keep       int      `toml:"keep"`
	PruneEvery Duration `toml:"prune_every"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Duration lets TOML files spell durations as "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Protocol:        "a2a",
			DefaultEndpoint: "http://127.0.0.1:18790/a2a",
			Streaming:       true,
			CardTTL:         Duration{5 * time.Minute},
		},
		Transport: TransportConfig{
			RelayURL: "http://127.0.0.1:18789",
		},
		MCP: MCPConfig{
			BaseURL:      "http://127.0.0.1:18789",
			WaitMs:       2000,
			MaxPolls:     30,
			PollDeadline: Duration{2 * time.Minute},
		},
		Relay: RelayConfig{
			Bind:       "loopback",
			Port:       18789,
			ThreadIdle: Duration{30 * time.Minute},
		},
		MockAgent: MockAgentConfig{
			Bind: "loopback",
			Port: 18790,
			Name: "Parley Echo Agent",
		},
		Trace: TraceConfig{
			Capacity:   256,
			DSN:        filepath.Join(DataDir(), "trace.db"),
			Keep:       10000,
			PruneEvery: Duration{10 * time.Minute},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Trace.DSN == "" {
		cfg.Trace.DSN = filepath.Join(DataDir(), "trace.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setCurrent(cfg)
	return cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Agent.Protocol) {
	case "a2a", "mcp":
	default:
		return fmt.Errorf("config: agent.protocol must be %q or %q, got %q", "a2a", "mcp", c.Agent.Protocol)
	}
	if c.MCP.WaitMs < 0 {
		return fmt.Errorf("config: mcp.wait_ms must not be negative")
	}
	if c.MCP.MaxPolls <= 0 {
		return fmt.Errorf("config: mcp.max_polls must be positive")
	}
	if c.Trace.Capacity <= 0 {
		return fmt.Errorf("config: trace.capacity must be positive")
	}
	if c.Trace.Keep < 0 {
		return fmt.Errorf("config: trace.keep must not be negative")
	}
	return nil
}

func setCurrent(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

func Current() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func DataDir() string {
	if dir := os.Getenv("PARLEY_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".parley")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "parley.toml")
}

func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0700)
}

func ResolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return fmt.Sprintf("%s:%d", host, port)
}
