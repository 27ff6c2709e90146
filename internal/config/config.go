package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinsuchenak/rackfab/internal/fabric"
	"github.com/martinsuchenak/rackfab/internal/model"
)

// Config holds the application configuration
type Config struct {
	DataDir        string `yaml:"data_dir"`
	StorageBackend string `yaml:"storage_backend"` // "sqlite" or "memory" (default: "sqlite")

	HostnamePattern string  `yaml:"hostname_pattern"`
	CableSlackPct   float64 `yaml:"cable_slack_pct"`
	MinLinkSpeed    int     `yaml:"min_link_speed"` // Mb/s
	Region          string  `yaml:"region"`
	Datacenter      string  `yaml:"datacenter"`

	P2PPool      string `yaml:"p2p_pool"`      // prefix ID of the link supernet
	LoopbackPool string `yaml:"loopback_pool"` // prefix ID of the loopback supernet
	PortLayouts  string `yaml:"port_layouts"`  // path to the port layout catalog
	Workers      int    `yaml:"workers"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ConfigFile string `yaml:"-"` // settings file that was loaded, if any
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DataDir:         "./data",
		StorageBackend:  "sqlite",
		HostnamePattern: fabric.DefaultHostnamePattern,
		CableSlackPct:   10,
		MinLinkSpeed:    40000,
		Workers:         4,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load builds the configuration with the following priority (highest to lowest):
// 1. Command-line parameters (passed as opts)
// 2. Environment variables (RACKFAB_*, including any loaded from .env)
// 3. YAML settings file (path, or RACKFAB_CONFIG when path is empty)
// 4. Default values
func Load(path string, opts *Config) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("RACKFAB_CONFIG")
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	if err := loadEnv(cfg); err != nil {
		return nil, err
	}

	if opts != nil {
		apply(cfg, opts)
	}

	if cfg.StorageBackend != "sqlite" && cfg.StorageBackend != "memory" {
		cfg.StorageBackend = "sqlite"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CableSlackPct < 0 {
		return nil, fmt.Errorf("cable slack cannot be negative: %v", cfg.CableSlackPct)
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) error {
	cfg.DataDir = coalesce(os.Getenv("RACKFAB_DATA_DIR"), cfg.DataDir)
	cfg.StorageBackend = coalesce(os.Getenv("RACKFAB_STORAGE_BACKEND"), cfg.StorageBackend)
	cfg.HostnamePattern = coalesce(os.Getenv("RACKFAB_HOSTNAME_PATTERN"), cfg.HostnamePattern)
	cfg.Region = coalesce(os.Getenv("RACKFAB_REGION"), cfg.Region)
	cfg.Datacenter = coalesce(os.Getenv("RACKFAB_DATACENTER"), cfg.Datacenter)
	cfg.P2PPool = coalesce(os.Getenv("RACKFAB_P2P_POOL"), cfg.P2PPool)
	cfg.LoopbackPool = coalesce(os.Getenv("RACKFAB_LOOPBACK_POOL"), cfg.LoopbackPool)
	cfg.PortLayouts = coalesce(os.Getenv("RACKFAB_PORT_LAYOUTS"), cfg.PortLayouts)
	cfg.LogLevel = coalesce(os.Getenv("RACKFAB_LOG_LEVEL"), cfg.LogLevel)
	cfg.LogFormat = coalesce(os.Getenv("RACKFAB_LOG_FORMAT"), cfg.LogFormat)

	if v := os.Getenv("RACKFAB_CABLE_SLACK_PCT"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("RACKFAB_CABLE_SLACK_PCT: %w", err)
		}
		cfg.CableSlackPct = f
	}
	if v := os.Getenv("RACKFAB_MIN_LINK_SPEED"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("RACKFAB_MIN_LINK_SPEED: %w", err)
		}
		cfg.MinLinkSpeed = n
	}
	if v := os.Getenv("RACKFAB_WORKERS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("RACKFAB_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	return nil
}

// apply copies every non-zero field of opts over cfg.
func apply(cfg, opts *Config) {
	cfg.DataDir = coalesce(opts.DataDir, cfg.DataDir)
	cfg.StorageBackend = coalesce(opts.StorageBackend, cfg.StorageBackend)
	cfg.HostnamePattern = coalesce(opts.HostnamePattern, cfg.HostnamePattern)
	cfg.Region = coalesce(opts.Region, cfg.Region)
	cfg.Datacenter = coalesce(opts.Datacenter, cfg.Datacenter)
	cfg.P2PPool = coalesce(opts.P2PPool, cfg.P2PPool)
	cfg.LoopbackPool = coalesce(opts.LoopbackPool, cfg.LoopbackPool)
	cfg.PortLayouts = coalesce(opts.PortLayouts, cfg.PortLayouts)
	cfg.LogLevel = coalesce(opts.LogLevel, cfg.LogLevel)
	cfg.LogFormat = coalesce(opts.LogFormat, cfg.LogFormat)
	if opts.CableSlackPct != 0 {
		cfg.CableSlackPct = opts.CableSlackPct
	}
	if opts.MinLinkSpeed != 0 {
		cfg.MinLinkSpeed = opts.MinLinkSpeed
	}
	if opts.Workers != 0 {
		cfg.Workers = opts.Workers
	}
}

// Settings returns the generator settings carried by the configuration.
func (c *Config) Settings() fabric.Settings {
	return fabric.Settings{
		HostnamePattern: c.HostnamePattern,
		CableSlackPct:   c.CableSlackPct,
		MinLinkSpeed:    c.MinLinkSpeed,
		Location: model.Location{
			Region:     c.Region,
			Datacenter: c.Datacenter,
		},
	}
}

// Pools returns the configured pool prefix IDs.
func (c *Config) Pools() fabric.PoolIDs {
	return fabric.PoolIDs{P2P: c.P2PPool, Loopback: c.LoopbackPool}
}

// String returns a string representation of the config source
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf("config file (%s)", c.ConfigFile)
	}
	return "environment variables"
}

// coalesce returns the first non-empty string value
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
