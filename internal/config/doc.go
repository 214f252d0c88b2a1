// Package config handles configuration loading for coven-hostd.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the path ends
// in .toml. Environment variables are expanded before parsing, defaults are
// applied, and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_HOSTD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/hostd.yaml
//  3. ~/.config/coven/hostd.yaml
//
// # Environment Variable Expansion
//
//	database:
//	  path: "${COVEN_HOSTD_DB}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	agents:
//	  ping_interval: "60s"
//	  investigation_delay: "10s"
//	  sweep_interval: "1m"
//
// A zero or missing value takes the default. The ping interval is sent to
// hosts in whole seconds and must be at least 1s.
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "127.0.0.1:50052"  # gRPC health service
//	  http_addr: "127.0.0.1:8090"   # HTTP API
//	database:
//	  path: "/var/lib/coven/hostd.db"
//	pool:
//	  workers: 8
//	hosts:
//	  - id: 1
//	    name: "node-1"
//	    maintenance: false
//	logging:
//	  level: "info"   # trace, debug, info, warn, error
//	  format: "text"  # text or json
package config
