// ABOUTME: Direct attache binding a host's in-process resource to the shared worker pool.
// ABOUTME: Owns the periodic task registry, ping schedule, and resource teardown.

package attache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/workerpool"
)

// DirectParams holds the constructor arguments for NewDirect.
type DirectParams struct {
	ID          int64
	Maintenance bool
	Resource    Resource
	Pool        Pool
	Manager     Manager
	Logger      *slog.Logger
}

// Direct is the attache for a host whose agent runs in-process.
type Direct struct {
	Base

	pool   Pool
	mgr    Manager
	logger *slog.Logger

	mu       sync.Mutex
	resource Resource

	tasksMu sync.Mutex
	tasks   []workerpool.Handle
	ping    workerpool.Handle
	drained bool

	// seq numbers locally originated pings; it is unrelated to manager sequences.
	seq atomic.Int64
}

// NewDirect binds p.Resource to a new attache.
func NewDirect(p DirectParams) *Direct {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Direct{
		Base:     NewBase(p.ID, p.Maintenance),
		pool:     p.Pool,
		mgr:      p.Manager,
		logger:   logger.With("host_id", p.ID),
		resource: p.Resource,
	}
}

// IsClosed reports whether the resource binding has been cleared.
func (d *Direct) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resource == nil
}

// snapshot returns the currently bound resource, or nil once disconnected.
func (d *Direct) snapshot() Resource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resource
}

// Send routes env onto the pool. It fails with ErrAgentUnavailable when the
// attache is closed; everything else happens asynchronously.
func (d *Direct) Send(env command.Envelope) error {
	if d.IsClosed() {
		return fmt.Errorf("%w: host %d is disconnected", ErrAgentUnavailable, d.ID())
	}
	d.logger.Debug("executing", "seq", env.Seq())

	switch e := env.(type) {
	case *command.Response:
		if startup, ok := command.StartupOf(e.Answers); ok {
			return d.startPing(startup.PingInterval)
		}
		return nil

	case *command.Request:
		if cron, ok := e.First().(command.CronCommand); ok {
			interval := time.Duration(cron.Interval()) * time.Second
			if _, err := d.schedule(d.commandTask(e), interval); err != nil {
				return fmt.Errorf("scheduling %s every %ds: %w", cron.Type(), cron.Interval(), err)
			}
			return nil
		}
		if err := d.pool.Submit(d.commandTask(e)); err != nil {
			return fmt.Errorf("submitting request %d: %w", e.Sequence, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported envelope type %T", env)
	}
}

// Process starts the ping schedule when answers open with a StartupAnswer.
func (d *Direct) Process(answers []command.Answer) {
	startup, ok := command.StartupOf(answers)
	if !ok {
		return
	}
	d.logger.Info("startup answer received", "interval", startup.PingInterval)
	if err := d.startPing(startup.PingInterval); err != nil {
		d.logger.Warn("unable to schedule ping", "error", err)
	}
}

// startPing registers the ping task unless one is already active.
func (d *Direct) startPing(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("invalid ping interval %d", seconds)
	}

	d.tasksMu.Lock()
	active := d.ping != nil && !d.ping.Cancelled()
	d.tasksMu.Unlock()
	if active {
		d.logger.Debug("ping already scheduled, ignoring duplicate startup answer", "interval", seconds)
		return nil
	}

	h, err := d.schedule(newPingTask(d).run, time.Duration(seconds)*time.Second)
	if err != nil {
		return fmt.Errorf("scheduling ping every %ds: %w", seconds, err)
	}

	d.tasksMu.Lock()
	defer d.tasksMu.Unlock()
	if d.ping != nil && !d.ping.Cancelled() {
		// Lost a race with a concurrent startup answer.
		h.Cancel()
		return nil
	}
	d.ping = h
	return nil
}

// schedule registers a fixed-rate task and records its handle. Registration
// is refused once Disconnect has drained the registry.
func (d *Direct) schedule(task func(), interval time.Duration) (workerpool.Handle, error) {
	d.tasksMu.Lock()
	defer d.tasksMu.Unlock()

	if d.drained {
		return nil, fmt.Errorf("%w: host %d is disconnected", ErrAgentUnavailable, d.ID())
	}
	h, err := d.pool.ScheduleAtFixedRate(task, interval, interval)
	if err != nil {
		return nil, err
	}
	d.tasks = append(d.tasks, h)
	return h, nil
}

// Disconnect cancels every periodic task and releases the resource. Running
// tasks are not interrupted. Calling it again is harmless.
func (d *Direct) Disconnect(status host.Status) {
	d.logger.Debug("processing disconnect", "status", status)

	d.tasksMu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.drained = true
	d.tasksMu.Unlock()

	for _, h := range tasks {
		h.Cancel()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resource != nil {
		d.resource.Disconnected()
		d.resource = nil
	}
}

// UpdatePassword executes cmd directly against the resource.
func (d *Direct) UpdatePassword(cmd *command.UpdatePasswordCommand) error {
	res := d.snapshot()
	if res == nil {
		return fmt.Errorf("%w: host %d is disconnected", ErrAgentUnavailable, d.ID())
	}
	answer, err := res.ExecuteRequest(cmd)
	if err != nil {
		return fmt.Errorf("updating password on host %d: %w", d.ID(), err)
	}
	if answer != nil && !answer.Succeeded() {
		return fmt.Errorf("updating password on host %d: %w: %s", d.ID(), ErrCommandFailed, answer.Details())
	}
	return nil
}

// Probe asks the resource for a status right now. It is used by the
// manager's investigation to confirm or refute a lost-agent signal.
func (d *Direct) Probe() (alive bool) {
	res := d.snapshot()
	if res == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("status probe panicked", "panic", r)
			alive = false
		}
	}()
	return res.GetCurrentStatus(d.ID()) != nil
}

// PendingTasks returns the number of registered periodic tasks.
func (d *Direct) PendingTasks() int {
	d.tasksMu.Lock()
	defer d.tasksMu.Unlock()
	return len(d.tasks)
}

// LocalSequence returns the next ping sequence number.
func (d *Direct) LocalSequence() int64 {
	return d.seq.Load()
}
