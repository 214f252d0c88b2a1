// ABOUTME: Test doubles for the pool, manager, and resource collaborators
// ABOUTME: The fake pool records work instead of running it so tests control timing

package attache

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/workerpool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSchedule struct {
	task         func()
	initialDelay time.Duration
	period       time.Duration
	cancelled    atomic.Bool
}

func (s *fakeSchedule) Cancel() bool    { return s.cancelled.CompareAndSwap(false, true) }
func (s *fakeSchedule) Cancelled() bool { return s.cancelled.Load() }

type fakePool struct {
	mu        sync.Mutex
	submitted []func()
	schedules []*fakeSchedule
	closed    bool
}

func (p *fakePool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return workerpool.ErrPoolClosed
	}
	p.submitted = append(p.submitted, task)
	return nil
}

func (p *fakePool) ScheduleAtFixedRate(task func(), initialDelay, period time.Duration) (workerpool.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, workerpool.ErrPoolClosed
	}
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	s := &fakeSchedule{task: task, initialDelay: initialDelay, period: period}
	p.schedules = append(p.schedules, s)
	return s, nil
}

// runSubmitted drains and runs every queued one-shot task on the caller's goroutine.
func (p *fakePool) runSubmitted() int {
	p.mu.Lock()
	tasks := p.submitted
	p.submitted = nil
	p.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func (p *fakePool) submittedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submitted)
}

func (p *fakePool) scheduled() []*fakeSchedule {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*fakeSchedule, len(p.schedules))
	copy(out, p.schedules)
	return out
}

func (p *fakePool) active() []*fakeSchedule {
	var out []*fakeSchedule
	for _, s := range p.scheduled() {
		if !s.Cancelled() {
			out = append(out, s)
		}
	}
	return out
}

type handledCommands struct {
	seq  int64
	cmds []command.Command
}

type fakeManager struct {
	mu             sync.Mutex
	investigations []host.Event
	handled        []handledCommands
	responses      []*command.Response
	responseCh     chan *command.Response
}

func newFakeManager() *fakeManager {
	return &fakeManager{responseCh: make(chan *command.Response, 16)}
}

func (m *fakeManager) DisconnectWithInvestigation(a Attache, event host.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investigations = append(m.investigations, event)
}

func (m *fakeManager) HandleCommands(a Attache, seq int64, cmds []command.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = append(m.handled, handledCommands{seq: seq, cmds: cmds})
}

func (m *fakeManager) ProcessAnswers(a Attache, seq int64, resp *command.Response) {
	m.mu.Lock()
	m.responses = append(m.responses, resp)
	m.mu.Unlock()
	m.responseCh <- resp
}

func (m *fakeManager) investigationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.investigations)
}

func (m *fakeManager) handledCalls() []handledCommands {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]handledCommands, len(m.handled))
	copy(out, m.handled)
	return out
}

func (m *fakeManager) lastResponse() *command.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1]
}

// fakeResource answers every command successfully unless execute or status
// are overridden.
type fakeResource struct {
	mu           sync.Mutex
	executed     []command.Command
	execute      func(cmd command.Command) (command.Answer, error)
	status       func(hostID int64) *command.PingCommand
	disconnected int
}

func (r *fakeResource) ExecuteRequest(cmd command.Command) (command.Answer, error) {
	r.mu.Lock()
	r.executed = append(r.executed, cmd)
	execute := r.execute
	r.mu.Unlock()

	if execute != nil {
		return execute(cmd)
	}
	return command.Success(cmd, "ok"), nil
}

func (r *fakeResource) GetCurrentStatus(hostID int64) *command.PingCommand {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	if status != nil {
		return status(hostID)
	}
	return &command.PingCommand{HostID: hostID, TakenAt: time.Now()}
}

func (r *fakeResource) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *fakeResource) executedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executed)
}

func (r *fakeResource) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

type harness struct {
	pool     *fakePool
	mgr      *fakeManager
	resource *fakeResource
	direct   *Direct
}

func newHarness() *harness {
	h := &harness{
		pool:     &fakePool{},
		mgr:      newFakeManager(),
		resource: &fakeResource{},
	}
	h.direct = NewDirect(DirectParams{
		ID:       7,
		Resource: h.resource,
		Pool:     h.pool,
		Manager:  h.mgr,
		Logger:   testLogger(),
	})
	return h
}

func echo(msg string) *command.EchoCommand {
	return &command.EchoCommand{Message: msg}
}
