// ABOUTME: Attache capability interface and the collaborators it depends on.
// ABOUTME: Base holds the identity fields shared by every attache variant.

package attache

import (
	"errors"
	"reflect"
	"time"

	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/workerpool"
)

// ErrAgentUnavailable is returned when work is sent to a closed attache.
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrCommandFailed is returned when a synchronous command gets a failing answer.
var ErrCommandFailed = errors.New("command failed")

// Attache is the manager-side control channel for one host.
type Attache interface {
	ID() int64
	InMaintenance() bool
	IsClosed() bool
	// Send schedules the envelope and returns immediately.
	Send(env command.Envelope) error
	// Process handles answers arriving through the normal answer path.
	Process(answers []command.Answer)
	Disconnect(status host.Status)
	// UpdatePassword runs synchronously and propagates every failure.
	UpdatePassword(cmd *command.UpdatePasswordCommand) error
}

// Pool is the shared worker pool that runs attache tasks.
type Pool interface {
	Submit(task func()) error
	ScheduleAtFixedRate(task func(), initialDelay, period time.Duration) (workerpool.Handle, error)
}

// Manager receives the results and signals produced by attache tasks.
type Manager interface {
	DisconnectWithInvestigation(a Attache, event host.Event)
	HandleCommands(a Attache, seq int64, cmds []command.Command)
	ProcessAnswers(a Attache, seq int64, resp *command.Response)
}

// Resource is a host's local execution surface.
type Resource interface {
	ExecuteRequest(cmd command.Command) (command.Answer, error)
	// GetCurrentStatus returns nil when the host cannot report a status.
	GetCurrentStatus(hostID int64) *command.PingCommand
	Disconnected()
}

// Base carries the identity shared by all variants.
type Base struct {
	id          int64
	maintenance bool
}

// NewBase returns identity fields for an attache.
func NewBase(id int64, maintenance bool) Base {
	return Base{id: id, maintenance: maintenance}
}

func (b Base) ID() int64           { return b.id }
func (b Base) InMaintenance() bool { return b.maintenance }

// Equal reports whether a and b are the same host channel of the same variant.
func Equal(a, b Attache) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) && a.ID() == b.ID()
}
