// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers host upsert/status/ping, event log ordering, and command results

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-hostd/internal/host"
)

var _ Store = (*SQLiteStore)(nil)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "hostd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "hostd.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.UpsertHost(ctx, &Host{ID: 1, Name: "a", Status: host.StatusUp}))

	// Second query must see the same database
	h, err := s.GetHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", h.Name)
}

func TestUpsertAndGetHost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	connected := time.Now().UTC().Truncate(time.Millisecond)
	err := s.UpsertHost(ctx, &Host{
		ID:          7,
		Name:        "node-7",
		Status:      host.StatusUp,
		Maintenance: true,
		ConnectedAt: &connected,
	})
	require.NoError(t, err)

	h, err := s.GetHost(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.ID)
	assert.Equal(t, "node-7", h.Name)
	assert.Equal(t, host.StatusUp, h.Status)
	assert.True(t, h.Maintenance)
	require.NotNil(t, h.ConnectedAt)
	assert.True(t, connected.Equal(*h.ConnectedAt))
	assert.Nil(t, h.LastPing)
	assert.False(t, h.UpdatedAt.IsZero())
}

func TestUpsertHost_KeepsTimesWhenNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	connected := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpsertHost(ctx, &Host{ID: 1, Name: "old", Status: host.StatusUp, ConnectedAt: &connected}))
	require.NoError(t, s.UpsertHost(ctx, &Host{ID: 1, Name: "new", Status: host.StatusAlert}))

	h, err := s.GetHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", h.Name)
	assert.Equal(t, host.StatusAlert, h.Status)
	require.NotNil(t, h.ConnectedAt)
	assert.True(t, connected.Equal(*h.ConnectedAt))
}

func TestGetHost_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetHost(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListHosts_OrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, s.UpsertHost(ctx, &Host{ID: id, Name: "h", Status: host.StatusConnecting}))
	}

	hosts, err := s.ListHosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.Equal(t, int64(1), hosts[0].ID)
	assert.Equal(t, int64(2), hosts[1].ID)
	assert.Equal(t, int64(3), hosts[2].ID)
}

func TestUpdateHostStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertHost(ctx, &Host{ID: 1, Name: "h", Status: host.StatusUp}))
	require.NoError(t, s.UpdateHostStatus(ctx, 1, host.StatusDisconnected))

	h, err := s.GetHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, host.StatusDisconnected, h.Status)

	assert.ErrorIs(t, s.UpdateHostStatus(ctx, 42, host.StatusUp), ErrNotFound)
}

func TestRecordPing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertHost(ctx, &Host{ID: 1, Name: "h", Status: host.StatusConnecting}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.RecordPing(ctx, 1, at))

	h, err := s.GetHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, host.StatusConnecting, h.Status, "pings never change status")
	require.NotNil(t, h.LastPing)
	assert.True(t, at.Equal(*h.LastPing))

	require.NoError(t, s.UpdateHostStatus(ctx, 1, host.StatusRemoved))
	require.NoError(t, s.RecordPing(ctx, 1, at.Add(time.Second)))
	h, err = s.GetHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, host.StatusRemoved, h.Status)

	assert.ErrorIs(t, s.RecordPing(ctx, 2, at), ErrNotFound)
}

func TestEvents_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	events := []host.Event{host.EventAgentConnected, host.EventAgentDisconnected, host.EventReconnected}
	for i, ev := range events {
		e := &HostEvent{
			HostID:    5,
			Event:     ev,
			Status:    ev.Status(),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.RecordEvent(ctx, e))
		assert.NotEmpty(t, e.ID, "event ID should be assigned")
	}
	require.NoError(t, s.RecordEvent(ctx, &HostEvent{HostID: 6, Event: host.EventAgentConnected, Status: host.StatusUp}))

	got, err := s.ListEvents(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, host.EventReconnected, got[0].Event)
	assert.Equal(t, host.StatusDisconnected, got[0].Status)
	assert.Equal(t, host.EventAgentConnected, got[2].Event)

	limited, err := s.ListEvents(ctx, 5, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, host.EventAgentDisconnected, limited[1].Event)
}

func TestEvents_Detail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEvent(ctx, &HostEvent{HostID: 1, Event: host.EventAttacheLeaked, Status: host.StatusAlert, Detail: "lost attache"}))
	require.NoError(t, s.RecordEvent(ctx, &HostEvent{HostID: 1, Event: host.EventPingReceived, Status: host.StatusUp}))

	got, err := s.ListEvents(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Empty(t, got[0].Detail)
	assert.Equal(t, "lost attache", got[1].Detail)
}

func TestCommandResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCommandResult(ctx, &CommandResult{HostID: 1, Sequence: 4, Command: "echo", Result: true, Details: "hi"}))
	require.NoError(t, s.SaveCommandResult(ctx, &CommandResult{HostID: 1, Sequence: 5, Command: "maintain", Result: false, Details: "boom"}))

	got, err := s.ListCommandResults(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(5), got[0].Sequence)
	assert.Equal(t, "maintain", got[0].Command)
	assert.False(t, got[0].Result)
	assert.Equal(t, "boom", got[0].Details)

	assert.Equal(t, int64(4), got[1].Sequence)
	assert.True(t, got[1].Result)
	assert.NotEmpty(t, got[1].ID)

	none, err := s.ListCommandResults(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
