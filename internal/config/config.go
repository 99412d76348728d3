package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/FairForge/corkboard/internal/logging"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store StoreConfig          `yaml:"store"`
	Fetch FetchConfig          `yaml:"fetch"`
	Log   logging.LoggerConfig `yaml:"log"`
}

type StoreConfig struct {
	MaxRetries    int           `yaml:"max_retries"`  // total write attempts, including the first
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryBackoff  bool          `yaml:"retry_backoff"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"` // handed to sqlite's busy handler
	VacuumOnWrite bool          `yaml:"vacuum_on_write"`
}

type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	AllowedSchemes   []string      `yaml:"allowed_schemes"`
	BlockedHostnames []string      `yaml:"blocked_hostnames"`
	BlockedRanges    []string      `yaml:"blocked_ranges"` // added to RequiredBlockedRanges
	MaxBytes         int64         `yaml:"max_bytes"`
	RatePerSecond    float64       `yaml:"rate_per_second"` // 0 disables pacing
	Burst            int           `yaml:"burst"`
	PageHosts        []string      `yaml:"page_hosts"`
}

// RequiredBlockedRanges are private, loopback, link-local and otherwise
// non-routable ranges no import may reach. Configuration can only add to them.
var RequiredBlockedRanges = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			MaxRetries:    3,
			RetryDelay:    100 * time.Millisecond,
			RetryBackoff:  true,
			BusyTimeout:   2 * time.Second,
			VacuumOnWrite: true,
		},
		Fetch: FetchConfig{
			Timeout:          10 * time.Second,
			AllowedSchemes:   []string{"http", "https"},
			BlockedHostnames: []string{"localhost", "localhost.localdomain", "ip6-localhost", "ip6-loopback"},
			MaxBytes:         64 << 20,
			RatePerSecond:    4,
			Burst:            4,
			PageHosts:        []string{"pinterest.com"},
		},
		Log: logging.LoggerConfig{
			Level:  logging.LevelInfo,
			Format: logging.FormatJSON,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and formats
func (c *Config) Validate() error {
	var errs []error

	if c.Store.MaxRetries < 1 {
		errs = append(errs, errors.New("config: store.max_retries must be at least 1"))
	}
	if c.Store.RetryDelay < 0 {
		errs = append(errs, errors.New("config: store.retry_delay must not be negative"))
	}
	if c.Store.BusyTimeout < 0 {
		errs = append(errs, errors.New("config: store.busy_timeout must not be negative"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("config: fetch.timeout must be positive"))
	}
	if len(c.Fetch.AllowedSchemes) == 0 {
		errs = append(errs, errors.New("config: fetch.allowed_schemes must not be empty"))
	}
	for _, s := range c.Fetch.AllowedSchemes {
		if s != "http" && s != "https" {
			errs = append(errs, fmt.Errorf("config: fetch.allowed_schemes: unsupported scheme %q", s))
		}
	}
	if _, err := c.Fetch.Prefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, errors.New("config: fetch.max_bytes must be positive"))
	}
	if c.Fetch.RatePerSecond < 0 || c.Fetch.Burst < 0 {
		errs = append(errs, errors.New("config: fetch rate limits must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Prefixes returns RequiredBlockedRanges followed by the configured
// BlockedRanges, without duplicates.
func (f *FetchConfig) Prefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(RequiredBlockedRanges)+len(f.BlockedRanges))
	seen := make(map[netip.Prefix]bool)
	for _, r := range RequiredBlockedRanges {
		p := netip.MustParsePrefix(r)
		seen[p] = true
		out = append(out, p)
	}
	for _, r := range f.BlockedRanges {
		p, err := netip.ParsePrefix(strings.TrimSpace(r))
		if err != nil {
			return nil, fmt.Errorf("config: fetch.blocked_ranges: %w", err)
		}
		p = p.Masked()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
