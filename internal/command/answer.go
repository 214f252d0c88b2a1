// ABOUTME: Answer types produced by executing commands.
// ABOUTME: StartupAnswer carries the ping interval negotiated during the handshake.

package command

// Answer is the result of executing one command.
type Answer interface {
	Succeeded() bool
	Details() string
}

// BasicAnswer is the default Answer implementation and is embedded by the
// richer answer types.
type BasicAnswer struct {
	Command string `json:"command"`
	Result  bool   `json:"result"`
	Detail  string `json:"details,omitempty"`
}

func (a *BasicAnswer) Succeeded() bool { return a.Result }
func (a *BasicAnswer) Details() string { return a.Detail }

// CommandType is the wire name of the command that produced the answer.
func (a *BasicAnswer) CommandType() string { return a.Command }

// NewAnswer builds an answer for cmd. A nil cmd leaves Command empty.
func NewAnswer(cmd Command, result bool, details string) *BasicAnswer {
	a := &BasicAnswer{Result: result, Detail: details}
	if cmd != nil {
		a.Command = cmd.Type()
	}
	return a
}

// Success is shorthand for a successful NewAnswer.
func Success(cmd Command, details string) *BasicAnswer {
	return NewAnswer(cmd, true, details)
}

// Failure is shorthand for a failing NewAnswer.
func Failure(cmd Command, details string) *BasicAnswer {
	return NewAnswer(cmd, false, details)
}

// StartupAnswer acknowledges a host's startup and fixes its ping cadence.
type StartupAnswer struct {
	BasicAnswer
	HostID int64 `json:"host_id"`
	// PingInterval is in seconds.
	PingInterval int `json:"ping_interval"`
}

// NewStartupAnswer builds a successful startup acknowledgment.
func NewStartupAnswer(hostID int64, pingInterval int) *StartupAnswer {
	return &StartupAnswer{
		BasicAnswer:  BasicAnswer{Command: "startup", Result: true},
		HostID:       hostID,
		PingInterval: pingInterval,
	}
}

// HostStats is the payload of a StatsAnswer.
type HostStats struct {
	Hostname      string `json:"hostname"`
	Goroutines    int    `json:"goroutines"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Maintenance   bool   `json:"maintenance"`
}

// StatsAnswer answers GetHostStatsCommand and WatchStatsCommand.
type StatsAnswer struct {
	BasicAnswer
	Stats HostStats `json:"stats"`
}

// StartupOf returns the StartupAnswer at the head of answers, if any.
func StartupOf(answers []Answer) (*StartupAnswer, bool) {
	if len(answers) == 0 {
		return nil, false
	}
	startup, ok := answers[0].(*StartupAnswer)
	return startup, ok
}
