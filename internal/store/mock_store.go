// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-hostd/internal/host"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	hosts   map[int64]*Host
	events  map[int64][]*HostEvent     // keyed by host ID, oldest first
	results map[int64][]*CommandResult // keyed by host ID, oldest first
	closed  bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		hosts:   make(map[int64]*Host),
		events:  make(map[int64][]*HostEvent),
		results: make(map[int64][]*CommandResult),
	}
}

// UpsertHost stores a copy of the host, keeping ping/connect times the caller left nil.
func (m *MockStore) UpsertHost(ctx context.Context, h *Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *h
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	if prev, ok := m.hosts[c.ID]; ok {
		if c.LastPing == nil {
			c.LastPing = prev.LastPing
		}
		if c.ConnectedAt == nil {
			c.ConnectedAt = prev.ConnectedAt
		}
	}
	m.hosts[c.ID] = &c
	return nil
}

// GetHost retrieves a host by ID.
func (m *MockStore) GetHost(ctx context.Context, id int64) (*Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hosts[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *h
	return &c, nil
}

// ListHosts returns all hosts ordered by ID.
func (m *MockStore) ListHosts(ctx context.Context) ([]*Host, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hosts := make([]*Host, 0, len(m.hosts))
	for _, h := range m.hosts {
		c := *h
		hosts = append(hosts, &c)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
	return hosts, nil
}

// UpdateHostStatus sets a host's status.
func (m *MockStore) UpdateHostStatus(ctx context.Context, id int64, status host.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hosts[id]
	if !ok {
		return ErrNotFound
	}
	h.Status = status
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordPing stores the ping time. Status is left alone.
func (m *MockStore) RecordPing(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hosts[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	h.LastPing = &t
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordEvent appends a lifecycle event.
func (m *MockStore) RecordEvent(ctx context.Context, e *HostEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	c := *e
	m.events[e.HostID] = append(m.events[e.HostID], &c)
	return nil
}

// ListEvents returns events for a host, newest first.
func (m *MockStore) ListEvents(ctx context.Context, hostID int64, limit int) ([]*HostEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[hostID]
	out := make([]*HostEvent, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		c := *src[i]
		out = append(out, &c)
	}
	return out, nil
}

// SaveCommandResult appends a command result.
func (m *MockStore) SaveCommandResult(ctx context.Context, r *CommandResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	m.results[r.HostID] = append(m.results[r.HostID], &c)
	return nil
}

// ListCommandResults returns results for a host, newest first.
func (m *MockStore) ListCommandResults(ctx context.Context, hostID int64, limit int) ([]*CommandResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.results[hostID]
	out := make([]*CommandResult, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		c := *src[i]
		out = append(out, &c)
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
