// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "hostd.yaml", `
server:
  grpc_addr: "0.0.0.0:50052"
  http_addr: "0.0.0.0:8090"

database:
  path: "./hostd.db"

pool:
  workers: 4

agents:
  ping_interval: "30s"
  investigation_delay: "5s"
  sweep_interval: "2m"

hosts:
  - id: 1
    name: "node-1"
  - id: 2
    name: "node-2"
    maintenance: true

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:50052", cfg.Server.GRPCAddr)
	assert.Equal(t, "0.0.0.0:8090", cfg.Server.HTTPAddr)
	assert.Equal(t, "./hostd.db", cfg.Database.Path)
	assert.Equal(t, 4, cfg.Pool.Workers)
	assert.Equal(t, 30*time.Second, cfg.Agents.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.Agents.InvestigationDelay)
	assert.Equal(t, 2*time.Minute, cfg.Agents.SweepInterval)
	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, int64(2), cfg.Hosts[1].ID)
	assert.True(t, cfg.Hosts[1].Maintenance)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "hostd.toml", `
[server]
grpc_addr = "127.0.0.1:50052"
http_addr = "127.0.0.1:8090"

[database]
path = "/tmp/hostd.db"

[agents]
ping_interval = "15s"

[[hosts]]
id = 7
name = "edge-7"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:50052", cfg.Server.GRPCAddr)
	assert.Equal(t, 15*time.Second, cfg.Agents.PingInterval)
	require.Len(t, cfg.Hosts, 1)
	assert.Equal(t, int64(7), cfg.Hosts[0].ID)
	assert.Equal(t, "edge-7", cfg.Hosts[0].Name)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "hostd.yaml", `
server:
  grpc_addr: ":50052"
  http_addr: ":8090"
database:
  path: "hostd.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkers, cfg.Pool.Workers)
	assert.Equal(t, DefaultPingInterval, cfg.Agents.PingInterval)
	assert.Equal(t, DefaultInvestigationDelay, cfg.Agents.InvestigationDelay)
	assert.Equal(t, DefaultSweepInterval, cfg.Agents.SweepInterval)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Empty(t, cfg.Hosts)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HOSTD_TEST_DB", "/var/lib/coven/hostd.db")
	t.Setenv("HOSTD_TEST_PING", "45s")

	path := writeConfig(t, "hostd.yaml", `
server:
  grpc_addr: ":50052"
  http_addr: ":8090"
database:
  path: "${HOSTD_TEST_DB}"
agents:
  ping_interval: "${HOSTD_TEST_PING}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/coven/hostd.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Agents.PingInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "hostd.yaml", "server: [unclosed")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "hostd.yaml", `
server:
  grpc_addr: ":50052"
  http_addr: ":8090"
database:
  path: "hostd.db"
agents:
  ping_interval: "soon"
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ping_interval")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Server:   ServerConfig{GRPCAddr: ":50052", HTTPAddr: ":8090"},
			Database: DatabaseConfig{Path: "hostd.db"},
			Hosts:    []HostConfig{{ID: 1, Name: "a"}},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing grpc addr", func(c *Config) { c.Server.GRPCAddr = "" }, "server.grpc_addr"},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"negative workers", func(c *Config) { c.Pool.Workers = -1 }, "pool.workers"},
		{"sub-second ping", func(c *Config) { c.Agents.PingInterval = 500 * time.Millisecond }, "agents.ping_interval"},
		{"zero host id", func(c *Config) { c.Hosts = []HostConfig{{ID: 0}} }, "hosts[0].id"},
		{"duplicate host id", func(c *Config) { c.Hosts = append(c.Hosts, HostConfig{ID: 1}) }, "duplicated"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
