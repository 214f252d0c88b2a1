// ABOUTME: Configuration loading and parsing for coven-hostd
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset values
const (
	DefaultWorkers            = 8
	DefaultPingInterval       = 60 * time.Second
	DefaultInvestigationDelay = 10 * time.Second
	DefaultSweepInterval      = time.Minute
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// Config represents the complete coven-hostd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Pool     PoolConfig     `yaml:"pool" toml:"pool"`
	Agents   AgentsConfig   `yaml:"agents" toml:"agents"`
	Hosts    []HostConfig   `yaml:"hosts" toml:"hosts"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// PoolConfig sizes the shared worker pool
type PoolConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

// AgentsConfig holds attache timing configuration
type AgentsConfig struct {
	PingInterval       time.Duration `yaml:"-" toml:"-"`
	InvestigationDelay time.Duration `yaml:"-" toml:"-"`
	SweepInterval      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	PingIntervalRaw       string `yaml:"ping_interval" toml:"ping_interval"`
	InvestigationDelayRaw string `yaml:"investigation_delay" toml:"investigation_delay"`
	SweepIntervalRaw      string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// HostConfig describes a direct host served by this daemon
type HostConfig struct {
	ID          int64  `yaml:"id" toml:"id"`
	Name        string `yaml:"name" toml:"name"`
	Maintenance bool   `yaml:"maintenance" toml:"maintenance"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw configuration content, applies defaults, and validates it.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Pool.Workers == 0 {
		c.Pool.Workers = DefaultWorkers
	}
	if c.Agents.PingInterval == 0 {
		c.Agents.PingInterval = DefaultPingInterval
	}
	if c.Agents.InvestigationDelay == 0 {
		c.Agents.InvestigationDelay = DefaultInvestigationDelay
	}
	if c.Agents.SweepInterval == 0 {
		c.Agents.SweepInterval = DefaultSweepInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Pool.Workers < 1 {
		return fmt.Errorf("pool.workers must be at least 1, got %d", c.Pool.Workers)
	}

	// Ping intervals travel as whole seconds
	if c.Agents.PingInterval < time.Second {
		return fmt.Errorf("agents.ping_interval must be at least 1s, got %s", c.Agents.PingInterval)
	}
	if c.Agents.InvestigationDelay < 0 {
		return fmt.Errorf("agents.investigation_delay must not be negative")
	}
	if c.Agents.SweepInterval < 0 {
		return fmt.Errorf("agents.sweep_interval must not be negative")
	}

	seen := make(map[int64]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.ID <= 0 {
			return fmt.Errorf("hosts[%d].id must be positive", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("hosts[%d].id %d is duplicated", i, h.ID)
		}
		seen[h.ID] = true
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", cfg.Agents.PingIntervalRaw, &cfg.Agents.PingInterval},
		{"investigation_delay", cfg.Agents.InvestigationDelayRaw, &cfg.Agents.InvestigationDelay},
		{"sweep_interval", cfg.Agents.SweepIntervalRaw, &cfg.Agents.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
