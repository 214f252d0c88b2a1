// ABOUTME: In-process execution surface for a direct host.
// ABOUTME: Answers stats, echo, maintenance, and credential commands without any transport.

package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-hostd/internal/command"
)

// ErrUnsupportedCommand is returned for command types the resource does not handle.
var ErrUnsupportedCommand = errors.New("unsupported command")

// ErrUnknownUser is returned when checking a password for a user that has none.
var ErrUnknownUser = errors.New("unknown user")

const minPasswordLength = 8

// Local is the resource backing a direct attache.
type Local struct {
	hostID   int64
	hostname string
	started  time.Time
	logger   *slog.Logger

	mu           sync.RWMutex
	maintenance  bool
	healthy      bool
	disconnected bool
	credentials  map[string][]byte
}

// NewLocal creates a healthy resource for hostID. An empty hostname falls back to os.Hostname.
func NewLocal(hostID int64, hostname string, logger *slog.Logger) *Local {
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}
	return &Local{
		hostID:      hostID,
		hostname:    hostname,
		started:     time.Now(),
		logger:      logger.With("component", "resource", "host_id", hostID),
		healthy:     true,
		credentials: make(map[string][]byte),
	}
}

// ExecuteRequest runs a single command.
func (l *Local) ExecuteRequest(cmd command.Command) (command.Answer, error) {
	switch c := cmd.(type) {
	case *command.EchoCommand:
		return command.Success(c, c.Message), nil

	case *command.GetHostStatsCommand, *command.WatchStatsCommand:
		return &command.StatsAnswer{
			BasicAnswer: *command.Success(cmd, ""),
			Stats:       l.stats(),
		}, nil

	case *command.MaintainCommand:
		l.mu.Lock()
		l.maintenance = c.Enable
		l.mu.Unlock()
		l.logger.Info("maintenance mode changed", "enabled", c.Enable)
		return command.Success(c, fmt.Sprintf("maintenance=%t", c.Enable)), nil

	case *command.UpdatePasswordCommand:
		return l.updatePassword(c)

	case *command.PingCommand:
		return command.Success(c, "pong"), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd.Type())
	}
}

func (l *Local) updatePassword(c *command.UpdatePasswordCommand) (command.Answer, error) {
	if c.Username == "" {
		return nil, errors.New("username is required")
	}
	if len(c.NewPassword) < minPasswordLength {
		return command.Failure(c, fmt.Sprintf("password must be at least %d characters", minPasswordLength)), nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	l.mu.Lock()
	l.credentials[c.Username] = hash
	l.mu.Unlock()

	l.logger.Info("password updated", "username", c.Username)
	return command.Success(c, "password updated"), nil
}

// CheckPassword verifies password against the stored hash for username.
func (l *Local) CheckPassword(username, password string) error {
	l.mu.RLock()
	hash, ok := l.credentials[username]
	l.mu.RUnlock()

	if !ok {
		return ErrUnknownUser
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}

// GetCurrentStatus returns a ping snapshot, or nil when the host is unhealthy
// or has been disconnected.
func (l *Local) GetCurrentStatus(hostID int64) *command.PingCommand {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.healthy || l.disconnected {
		return nil
	}
	return &command.PingCommand{
		HostID:        hostID,
		Hostname:      l.hostname,
		UptimeSeconds: int64(time.Since(l.started).Seconds()),
		Maintenance:   l.maintenance,
		TakenAt:       time.Now().UTC(),
	}
}

// Disconnected marks the resource as released by its attache.
func (l *Local) Disconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = true
	l.logger.Debug("resource disconnected")
}

// SetHealthy toggles whether the resource reports a status.
func (l *Local) SetHealthy(healthy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.healthy = healthy
}

// IsDisconnected reports whether Disconnected has been called.
func (l *Local) IsDisconnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.disconnected
}

func (l *Local) stats() command.HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return command.HostStats{
		Hostname:      l.hostname,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(l.started).Seconds()),
		Maintenance:   l.maintenance,
	}
}
