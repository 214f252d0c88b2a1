// ABOUTME: Entry point for the coven-hostd host management daemon
// ABOUTME: Dispatches serve, init, health, and hosts subcommands

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-hostd/internal/config"
	"github.com/2389/coven-hostd/internal/gateway"
	"github.com/2389/coven-hostd/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                    _               _     _
  ___ _____   _____ _ __           | |__   ___  ___| |_ __| |
 / __/ _ \ \ / / _ \ '_ \   _____  | '_ \ / _ \/ __| __/ _' |
| (_| (_) \ V /  __/ | | | |_____| | | | | (_) \__ \ || (_| |
 \___\___/ \_/ \___|_| |_|         |_| |_|\___/|___/\__\__,_|
`

// getConfigPath returns the path to the hostd config file.
// Priority: COVEN_HOSTD_CONFIG env var > XDG_CONFIG_HOME/coven/hostd.yaml > ~/.config/coven/hostd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_HOSTD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hostd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "hostd.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-hostd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the host daemon")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check daemon health")
		fmt.Println("  hosts    List managed hosts")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "hosts":
		err = runHosts(ctx, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Hosts:     %d", len(cfg.Hosts))
	if len(cfg.Hosts) == 0 {
		yellow.Print(" (none configured, /health/ready will report 503)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Ping:      every %s\n", cfg.Agents.PingInterval)
	fmt.Println()

	logger.Info("starting coven-hostd",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"hosts", len(cfg.Hosts),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	body, status, err := get(ctx, fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// hostRow is the subset of the /api/hosts response the CLI prints.
type hostRow struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	Maintenance  bool    `json:"maintenance"`
	Connected    bool    `json:"connected"`
	PendingTasks int     `json:"pending_tasks"`
	LastPing     *string `json:"last_ping"`
}

func runHosts(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	body, status, err := get(ctx, fmt.Sprintf("http://%s/api/hosts", cfg.Server.HTTPAddr))
	if err != nil {
		return fmt.Errorf("listing hosts failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing hosts failed: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var hosts []hostRow
	if err := json.Unmarshal(body, &hosts); err != nil {
		return fmt.Errorf("decoding hosts: %w", err)
	}
	return printHosts(out, hosts)
}

func printHosts(out io.Writer, hosts []hostRow) error {
	if len(hosts) == 0 {
		_, err := fmt.Fprintln(out, "no hosts")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCONNECTED\tTASKS\tLAST PING")
	for _, h := range hosts {
		lastPing := "-"
		if h.LastPing != nil {
			lastPing = *h.LastPing
		}
		status := statusColor(h.Status)
		if h.Maintenance {
			status += " (maintenance)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%s\n", h.ID, h.Name, status, h.Connected, h.PendingTasks, lastPing)
	}
	return tw.Flush()
}

func statusColor(status string) string {
	switch status {
	case "up":
		return color.GreenString(status)
	case "alert", "down":
		return color.RedString(status)
	case "disconnected", "removed", "maintenance":
		return color.YellowString(status)
	default:
		return status
	}
}

func get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-hostd configuration setup")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintln(out)

	defaultDbPath := filepath.Join(getDataPath(), "hostd.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	grpcAddr := prompt(reader, out, "gRPC health address", "localhost:50052")
	httpAddr := prompt(reader, out, "HTTP API address", "localhost:8090")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", defaultDbPath)

	fmt.Fprintln(out, "\n--- Agent Configuration ---")
	pingInterval := prompt(reader, out, "Ping interval", config.DefaultPingInterval.String())
	workers := prompt(reader, out, "Worker pool size", strconv.Itoa(config.DefaultWorkers))

	fmt.Fprintln(out, "\n--- Hosts ---")
	hostName := prompt(reader, out, "Name of the first direct host (empty for none)", "")

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (trace/debug/info/warn/error)", config.DefaultLogLevel)
	logFormat := prompt(reader, out, "Log format (text/json)", config.DefaultLogFormat)

	var cfg strings.Builder
	cfg.WriteString("# coven-hostd configuration\n")
	cfg.WriteString("# Generated by coven-hostd init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("pool:\n")
	cfg.WriteString(fmt.Sprintf("  workers: %s\n", workers))
	cfg.WriteString("\n")

	cfg.WriteString("agents:\n")
	cfg.WriteString(fmt.Sprintf("  ping_interval: %q\n", pingInterval))
	cfg.WriteString(fmt.Sprintf("  investigation_delay: %q\n", config.DefaultInvestigationDelay.String()))
	cfg.WriteString(fmt.Sprintf("  sweep_interval: %q\n", config.DefaultSweepInterval.String()))
	cfg.WriteString("\n")

	if hostName != "" {
		cfg.WriteString("hosts:\n")
		cfg.WriteString("  - id: 1\n")
		cfg.WriteString(fmt.Sprintf("    name: %q\n", hostName))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Refuse to write something serve would reject
	if _, err := config.Parse([]byte(cfg.String()), false); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the daemon:")
	fmt.Fprintln(out, "  coven-hostd serve")

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
