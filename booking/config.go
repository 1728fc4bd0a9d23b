package booking

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PortalConfig configures one portal adapter.
type PortalConfig struct {
	// BaseURL overrides the portal's default root. Mainly for staging
	// fixtures.
	BaseURL string `yaml:"base_url"`

	// Disabled removes the portal from fan-out and booking.
	Disabled bool `yaml:"disabled"`

	// BookVia selects the execution strategy: "http" (default) or
	// "browser". Availability reads always stay on HTTP.
	BookVia string `yaml:"book_via"`
}

// ThrottleConfig tunes request pacing and scan breadth.
type ThrottleConfig struct {
	MinInterval     time.Duration            `yaml:"min_interval"`
	PerPortal       map[string]time.Duration `yaml:"per_portal"`
	MaxCourts       int                      `yaml:"max_courts"`
	TrainerHourStep int                      `yaml:"trainer_hour_step"`
}

// BrowserConfig configures the Chrome booking strategy.
type BrowserConfig struct {
	RemoteURL string `yaml:"remote_url"`
	Headful   bool   `yaml:"headful"`
}

// Config is the service configuration.
type Config struct {
	// Listen is the HTTP bind address. Default: ":8787".
	Listen string `yaml:"listen"`

	// DatabasePath is the SQLite file. Default: "platz.db".
	DatabasePath string `yaml:"database_path"`

	// MCP serves the tool surface on stdio when true.
	MCP bool `yaml:"mcp"`

	Throttle ThrottleConfig          `yaml:"throttle"`
	Portals  map[string]PortalConfig `yaml:"portals"`
	Browser  BrowserConfig           `yaml:"browser"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8787"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "platz.db"
	}
	if c.Portals == nil {
		c.Portals = map[string]PortalConfig{}
	}
	for _, key := range []string{"dasspiel", "postsv"} {
		if _, ok := c.Portals[key]; !ok {
			c.Portals[key] = PortalConfig{}
		}
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfig reads a YAML config file and applies defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for key, pc := range c.Portals {
		if pc.BookVia != "" && pc.BookVia != "http" && pc.BookVia != "browser" {
			return nil, fmt.Errorf("config: portal %s: book_via must be http or browser", key)
		}
	}
	c.defaults()
	return &c, nil
}
