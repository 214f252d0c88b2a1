// ABOUTME: Command types dispatched to a host's execution surface.
// ABOUTME: CronCommand marks commands that repeat at a declared interval.

package command

import (
	"encoding/json"
	"time"
)

// Command is one unit of work for a host.
type Command interface {
	// Type is the wire name used by the codec, logs, and persisted results.
	Type() string
}

// CronCommand is a Command that should be executed repeatedly.
type CronCommand interface {
	Command
	// Interval is the repeat period in seconds.
	Interval() int
}

// Wire names for the built-in commands.
const (
	TypePing           = "ping"
	TypeEcho           = "echo"
	TypeGetHostStats   = "get_host_stats"
	TypeMaintain       = "maintain"
	TypeUpdatePassword = "update_password"
	TypeWatchStats     = "watch_stats"
)

// PingCommand is the health snapshot a host reports for itself.
type PingCommand struct {
	HostID        int64     `json:"host_id"`
	Hostname      string    `json:"hostname,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Maintenance   bool      `json:"maintenance,omitempty"`
	TakenAt       time.Time `json:"taken_at"`
}

func (c *PingCommand) Type() string { return TypePing }

// EchoCommand asks the host to return Message in its answer.
type EchoCommand struct {
	Message string `json:"message"`
}

func (c *EchoCommand) Type() string { return TypeEcho }

// GetHostStatsCommand asks the host for a StatsAnswer.
type GetHostStatsCommand struct{}

func (c *GetHostStatsCommand) Type() string { return TypeGetHostStats }

// MaintainCommand switches the host in or out of maintenance mode.
type MaintainCommand struct {
	Enable bool `json:"enable"`
}

func (c *MaintainCommand) Type() string { return TypeMaintain }

// UpdatePasswordCommand rotates a credential on the host.
type UpdatePasswordCommand struct {
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

func (c *UpdatePasswordCommand) Type() string { return TypeUpdatePassword }

// MarshalJSON redacts the password so the command can be logged.
func (c *UpdatePasswordCommand) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username    string `json:"username"`
		NewPassword string `json:"new_password"`
	}{Username: c.Username, NewPassword: "********"})
}

// WatchStatsCommand collects host stats every Every seconds.
type WatchStatsCommand struct {
	Every int `json:"every"`
}

func (c *WatchStatsCommand) Type() string { return TypeWatchStats }

// Interval implements CronCommand.
func (c *WatchStatsCommand) Interval() int { return c.Every }

// IsCron reports whether cmd should be scheduled periodically.
func IsCron(cmd Command) bool {
	_, ok := cmd.(CronCommand)
	return ok
}
