// ABOUTME: Manages attaches for managed hosts, persists their state, and routes commands.
// ABOUTME: Central coordinator between the HTTP/gRPC surface and the per-host attaches.

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-hostd/internal/attache"
	"github.com/2389/coven-hostd/internal/command"
	"github.com/2389/coven-hostd/internal/host"
	"github.com/2389/coven-hostd/internal/store"
	"github.com/2389/coven-hostd/internal/workerpool"
)

// ErrHostNotFound indicates no attache is connected for the host.
var ErrHostNotFound = errors.New("host not found")

// ErrCronCommand is returned when a cron command is sent synchronously.
var ErrCronCommand = errors.New("cron commands must be scheduled")

// ErrInvalidEvent is returned when a disconnect names an event that would
// leave the host up.
var ErrInvalidEvent = errors.New("event does not disconnect a host")

// storeTimeout bounds store writes made from pool callbacks.
const storeTimeout = 5 * time.Second

// Pool is the worker pool shared by every attache.
type Pool interface {
	attache.Pool
	Shutdown(ctx context.Context) error
	Stats() workerpool.Stats
}

// StatusListener is told about every host status the manager publishes.
type StatusListener func(hostID int64, status host.Status)

// HostSpec identifies a host to connect.
type HostSpec struct {
	ID          int64
	Name        string
	Maintenance bool
}

// HostInfo is a host's persisted state plus its live attache state.
type HostInfo struct {
	store.Host
	Connected    bool
	PendingTasks int
}

// Params holds the constructor arguments for New.
type Params struct {
	Store              store.Store
	Pool               Pool
	PingInterval       time.Duration
	InvestigationDelay time.Duration
	SweepInterval      time.Duration
	Logger             *slog.Logger
}

// Manager owns one attache per connected host.
type Manager struct {
	store  store.Store
	pool   Pool
	logger *slog.Logger

	pingInterval       time.Duration
	investigationDelay time.Duration
	sweepInterval      time.Duration

	mu    sync.RWMutex
	hosts map[int64]*attache.Direct

	tracker *attache.Tracker
	pending *pendingRequests
	seq     atomic.Int64

	listenersMu sync.RWMutex
	listeners   []StatusListener

	invMu         sync.Mutex
	investigating map[int64]bool
	invWG         sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Manager.
func New(p Params) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "manager")

	m := &Manager{
		store:              p.Store,
		pool:               p.Pool,
		logger:             logger,
		pingInterval:       p.PingInterval,
		investigationDelay: p.InvestigationDelay,
		sweepInterval:      p.SweepInterval,
		hosts:              make(map[int64]*attache.Direct),
		pending:            newPendingRequests(logger),
		investigating:      make(map[int64]bool),
		done:               make(chan struct{}),
	}
	m.tracker = attache.NewTracker(logger, m.onLeak)
	return m
}

// AddListener registers l for host status changes.
func (m *Manager) AddListener(l StatusListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) publish(hostID int64, status host.Status) {
	m.listenersMu.RLock()
	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l(hostID, status)
	}
}

// Connect binds res to a new direct attache for hs.ID and starts its ping
// schedule. An existing attache for the same host is disconnected first.
func (m *Manager) Connect(ctx context.Context, hs HostSpec, res attache.Resource) (*attache.Direct, error) {
	d := attache.NewDirect(attache.DirectParams{
		ID:          hs.ID,
		Maintenance: hs.Maintenance,
		Resource:    res,
		Pool:        m.pool,
		Manager:     m,
		Logger:      m.logger,
	})

	m.mu.Lock()
	prev := m.hosts[hs.ID]
	m.hosts[hs.ID] = d
	total := len(m.hosts)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("replacing attache", "host_id", hs.ID)
		prev.Disconnect(host.EventReconnected.Status())
		m.tracker.Release(prev)
		m.recordEvent(hs.ID, host.EventReconnected, "")
	}
	m.tracker.Track(d)

	status := host.StatusUp
	if hs.Maintenance {
		status = host.StatusMaintenance
	}

	now := time.Now().UTC()
	err := m.store.UpsertHost(ctx, &store.Host{
		ID:          hs.ID,
		Name:        hs.Name,
		Status:      status,
		Maintenance: hs.Maintenance,
		ConnectedAt: &now,
	})
	if err != nil {
		m.logger.Error("failed to persist host", "host_id", hs.ID, "error", err)
	}
	m.recordEvent(hs.ID, host.EventAgentConnected, "")

	m.logger.Info("=== HOST CONNECTED ===",
		"host_id", hs.ID,
		"name", hs.Name,
		"maintenance", hs.Maintenance,
		"total_hosts", total,
	)
	m.publish(hs.ID, status)

	startup := &command.Response{
		HostID:   hs.ID,
		Sequence: m.nextSeq(),
		Answers:  []command.Answer{command.NewStartupAnswer(hs.ID, m.pingSeconds())},
	}
	if err := d.Send(startup); err != nil {
		return d, fmt.Errorf("starting host %d: %w", hs.ID, err)
	}
	return d, nil
}

// Disconnect removes the host's attache and records event.
func (m *Manager) Disconnect(ctx context.Context, hostID int64, event host.Event) error {
	if event.Status() == host.StatusUp {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, event)
	}

	m.mu.Lock()
	d, ok := m.hosts[hostID]
	if ok {
		delete(m.hosts, hostID)
	}
	total := len(m.hosts)
	m.mu.Unlock()

	if !ok {
		return ErrHostNotFound
	}

	m.finish(ctx, d, event, event.Status())
	m.logger.Info("=== HOST DISCONNECTED ===",
		"host_id", hostID,
		"event", event,
		"total_hosts", total,
	)
	return nil
}

// disconnectAttache removes d only if it is still the host's current attache.
func (m *Manager) disconnectAttache(d *attache.Direct, event host.Event, status host.Status) bool {
	m.mu.Lock()
	if m.hosts[d.ID()] != d {
		m.mu.Unlock()
		return false
	}
	delete(m.hosts, d.ID())
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	m.finish(ctx, d, event, status)
	return true
}

func (m *Manager) finish(ctx context.Context, d *attache.Direct, event host.Event, status host.Status) {
	d.Disconnect(status)
	m.tracker.Release(d)
	m.pending.failHost(d.ID())

	if err := m.store.UpdateHostStatus(ctx, d.ID(), status); err != nil {
		m.logger.Warn("failed to persist host status", "host_id", d.ID(), "status", status, "error", err)
	}
	m.recordEvent(d.ID(), event, "")
	m.publish(d.ID(), status)
}

// HandleCommands receives commands originated by an attache. Pings refresh
// the host's last-seen time. Commands from a closed or replaced attache are
// dropped.
func (m *Manager) HandleCommands(a attache.Attache, seq int64, cmds []command.Command) {
	if a.IsClosed() || !m.owns(a) {
		m.logger.Debug("dropping commands from stale attache", "host_id", a.ID(), "seq", seq)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	for _, cmd := range cmds {
		ping, ok := cmd.(*command.PingCommand)
		if !ok {
			m.logger.Debug("ignoring host command", "host_id", a.ID(), "seq", seq, "type", cmd.Type())
			continue
		}
		at := ping.TakenAt
		if at.IsZero() {
			at = time.Now()
		}
		if err := m.store.RecordPing(ctx, a.ID(), at); err != nil {
			m.logger.Warn("failed to record ping", "host_id", a.ID(), "seq", seq, "error", err)
			continue
		}
		m.logger.Debug("ping recorded", "host_id", a.ID(), "seq", seq)
	}
}

// ProcessAnswers correlates a response with a waiting Send call. Responses
// nobody waits for are persisted as command results.
func (m *Manager) ProcessAnswers(a attache.Attache, seq int64, resp *command.Response) {
	if resp == nil {
		return
	}
	if _, ok := command.StartupOf(resp.Answers); ok {
		a.Process(resp.Answers)
	}

	if m.pending.deliver(a.ID(), seq, resp) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	for _, ans := range resp.Answers {
		r := &store.CommandResult{
			HostID:   a.ID(),
			Sequence: seq,
			Command:  commandType(ans),
			Result:   ans.Succeeded(),
			Details:  ans.Details(),
		}
		if err := m.store.SaveCommandResult(ctx, r); err != nil {
			m.logger.Warn("failed to save command result", "host_id", a.ID(), "seq", seq, "error", err)
		}
	}
}

func commandType(ans command.Answer) string {
	if named, ok := ans.(interface{ CommandType() string }); ok && named.CommandType() != "" {
		return named.CommandType()
	}
	return "unknown"
}

// Send executes cmds on the host and waits for the response.
func (m *Manager) Send(ctx context.Context, hostID int64, cmds []command.Command, stopOnError bool) (*command.Response, error) {
	if len(cmds) > 0 && command.IsCron(cmds[0]) {
		return nil, ErrCronCommand
	}

	d, ok := m.attache(hostID)
	if !ok {
		return nil, ErrHostNotFound
	}

	seq := m.nextSeq()
	respCh := m.pending.create(hostID, seq)
	defer m.pending.close(seq)

	req := &command.Request{HostID: hostID, Sequence: seq, Commands: cmds, StopOnError: stopOnError}
	if err := d.Send(req); err != nil {
		return nil, err
	}

	m.logger.Debug("request sent to host", "host_id", hostID, "seq", seq, "commands", len(cmds))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w: host %d disconnected while waiting", attache.ErrAgentUnavailable, hostID)
		}
		return resp, nil
	}
}

// Schedule registers cmd to run on the host at its interval. Results are
// persisted as command results under the returned sequence.
func (m *Manager) Schedule(hostID int64, cmd command.CronCommand) (int64, error) {
	if cmd.Interval() <= 0 {
		return 0, fmt.Errorf("invalid interval %d for %s", cmd.Interval(), cmd.Type())
	}
	d, ok := m.attache(hostID)
	if !ok {
		return 0, ErrHostNotFound
	}
	seq := m.nextSeq()
	if err := d.Send(command.NewRequest(hostID, seq, cmd, false)); err != nil {
		return 0, err
	}
	m.logger.Info("cron command scheduled", "host_id", hostID, "seq", seq, "type", cmd.Type(), "interval", cmd.Interval())
	return seq, nil
}

// UpdatePassword changes a credential on the host synchronously.
func (m *Manager) UpdatePassword(hostID int64, cmd *command.UpdatePasswordCommand) error {
	d, ok := m.attache(hostID)
	if !ok {
		return ErrHostNotFound
	}
	return d.UpdatePassword(cmd)
}

// ListHosts returns every persisted host with its live state.
func (m *Manager) ListHosts(ctx context.Context) ([]*HostInfo, error) {
	hosts, err := m.store.ListHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	infos := make([]*HostInfo, 0, len(hosts))
	for _, h := range hosts {
		infos = append(infos, m.info(h))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// GetHost returns one host with its live state.
func (m *Manager) GetHost(ctx context.Context, hostID int64) (*HostInfo, error) {
	h, err := m.store.GetHost(ctx, hostID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrHostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting host: %w", err)
	}
	return m.info(h), nil
}

func (m *Manager) info(h *store.Host) *HostInfo {
	info := &HostInfo{Host: *h}
	if d, ok := m.attache(h.ID); ok {
		info.Connected = !d.IsClosed()
		info.PendingTasks = d.PendingTasks()
	}
	return info
}

// IsOnline reports whether the host has an open attache.
func (m *Manager) IsOnline(hostID int64) bool {
	d, ok := m.attache(hostID)
	return ok && !d.IsClosed()
}

// ConnectedCount returns the number of hosts with an attache.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}

// PoolStats reports the shared pool's counters.
func (m *Manager) PoolStats() workerpool.Stats {
	return m.pool.Stats()
}

// Leaks returns how many leaked attaches have been found.
func (m *Manager) Leaks() int64 {
	return m.tracker.Leaks()
}

func (m *Manager) attache(hostID int64) (*attache.Direct, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.hosts[hostID]
	return d, ok
}

func (m *Manager) owns(a attache.Attache) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.hosts[a.ID()]
	return ok && attache.Attache(d) == a
}

func (m *Manager) nextSeq() int64 {
	return m.seq.Add(1)
}

func (m *Manager) pingSeconds() int {
	secs := int(m.pingInterval / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (m *Manager) recordEvent(hostID int64, event host.Event, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := m.store.RecordEvent(ctx, &store.HostEvent{
		HostID: hostID,
		Event:  event,
		Status: event.Status(),
		Detail: detail,
	})
	if err != nil {
		m.logger.Warn("failed to record host event", "host_id", hostID, "event", event, "error", err)
	}
}

// onLeak runs after the tracker has disconnected a lost attache.
func (m *Manager) onLeak(a attache.Attache) {
	m.recordEvent(a.ID(), host.EventAttacheLeaked, "lost attache")
	if _, ok := m.attache(a.ID()); ok {
		// A newer attache serves the host; its status stands.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.UpdateHostStatus(ctx, a.ID(), host.StatusAlert); err != nil {
		m.logger.Warn("failed to persist host status", "host_id", a.ID(), "error", err)
	}
	m.publish(a.ID(), host.StatusAlert)
}

// Run sweeps for leaked attaches until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m.sweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case <-ticker.C:
			if n := m.tracker.Sweep(m.owns); n > 0 {
				m.logger.Warn("leak sweep found lost attaches", "count", n)
			}
		}
	}
}

// Shutdown disconnects every host, stops investigations, and drains the pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Held so no investigation can Add to invWG after done closes.
	m.invMu.Lock()
	m.doneOnce.Do(func() { close(m.done) })
	m.invMu.Unlock()

	m.mu.RLock()
	ids := make([]int64, 0, len(m.hosts))
	for id := range m.hosts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Disconnect(ctx, id, host.EventManagementServerDown); err != nil && !errors.Is(err, ErrHostNotFound) {
			m.logger.Warn("failed to disconnect host", "host_id", id, "error", err)
		}
	}
	if n := m.tracker.CloseAll(); n > 0 {
		m.logger.Warn("closed leftover attaches", "count", n)
	}

	waited := make(chan struct{})
	go func() {
		m.invWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for investigations: %w", ctx.Err())
	}

	if err := m.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down pool: %w", err)
	}
	m.logger.Info("manager stopped")
	return nil
}

// Ensure Manager satisfies the hooks attaches call back into.
var _ attache.Manager = (*Manager)(nil)
