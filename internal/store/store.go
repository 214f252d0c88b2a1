// ABOUTME: Store interface and data types for coven-hostd persistence
// ABOUTME: Defines Host, HostEvent, CommandResult and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-hostd/internal/host"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Host is the persisted view of a managed host
type Host struct {
	ID          int64
	Name        string
	Status      host.Status
	Maintenance bool
	LastPing    *time.Time
	ConnectedAt *time.Time
	UpdatedAt   time.Time
}

// HostEvent is one lifecycle transition recorded for a host
type HostEvent struct {
	ID        string
	HostID    int64
	Event     host.Event
	Status    host.Status
	Detail    string
	CreatedAt time.Time
}

// CommandResult is an answer that no caller was waiting for (cron runs, late replies)
type CommandResult struct {
	ID        string
	HostID    int64
	Sequence  int64
	Command   string
	Result    bool
	Details   string
	CreatedAt time.Time
}

// Store defines the interface for host state persistence
type Store interface {
	// Hosts
	UpsertHost(ctx context.Context, h *Host) error
	GetHost(ctx context.Context, id int64) (*Host, error)
	ListHosts(ctx context.Context) ([]*Host, error)
	UpdateHostStatus(ctx context.Context, id int64, status host.Status) error
	RecordPing(ctx context.Context, id int64, at time.Time) error

	// Events
	RecordEvent(ctx context.Context, e *HostEvent) error
	ListEvents(ctx context.Context, hostID int64, limit int) ([]*HostEvent, error)

	// Command results
	SaveCommandResult(ctx context.Context, r *CommandResult) error
	ListCommandResults(ctx context.Context, hostID int64, limit int) ([]*CommandResult, error)

	Close() error
}
