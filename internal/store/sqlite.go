// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists host status, lifecycle events, and unsolicited command results

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-hostd/internal/host"
)

// timeFormat is fixed-width so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection would otherwise get its own empty in-memory database
	if memory {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hosts (
			host_id      INTEGER PRIMARY KEY,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL,
			maintenance  INTEGER NOT NULL DEFAULT 0,
			last_ping    TEXT,
			connected_at TEXT,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_hosts_status ON hosts(status);

		CREATE TABLE IF NOT EXISTS host_events (
			event_id   TEXT PRIMARY KEY,
			host_id    INTEGER NOT NULL,
			event      TEXT NOT NULL,
			status     TEXT NOT NULL,
			detail     TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_host_events_host ON host_events(host_id, created_at);

		CREATE TABLE IF NOT EXISTS command_results (
			result_id  TEXT PRIMARY KEY,
			host_id    INTEGER NOT NULL,
			sequence   INTEGER NOT NULL,
			command    TEXT NOT NULL,
			result     INTEGER NOT NULL,
			details    TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_command_results_host ON command_results(host_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertHost inserts a host or replaces its mutable columns.
func (s *SQLiteStore) UpsertHost(ctx context.Context, h *Host) error {
	query := `
		INSERT INTO hosts (host_id, name, status, maintenance, last_ping, connected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			maintenance = excluded.maintenance,
			last_ping = COALESCE(excluded.last_ping, hosts.last_ping),
			connected_at = COALESCE(excluded.connected_at, hosts.connected_at),
			updated_at = excluded.updated_at
	`

	updatedAt := h.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Name,
		string(h.Status),
		boolToInt(h.Maintenance),
		formatTimePtr(h.LastPing),
		formatTimePtr(h.ConnectedAt),
		updatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting host: %w", err)
	}
	return nil
}

// GetHost retrieves a host by ID.
// Returns ErrNotFound if the host doesn't exist.
func (s *SQLiteStore) GetHost(ctx context.Context, id int64) (*Host, error) {
	query := `
		SELECT host_id, name, status, maintenance, last_ping, connected_at, updated_at
		FROM hosts
		WHERE host_id = ?
	`

	h, err := scanHost(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying host: %w", err)
	}
	return h, nil
}

// ListHosts returns every known host ordered by ID.
func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*Host, error) {
	query := `
		SELECT host_id, name, status, maintenance, last_ping, connected_at, updated_at
		FROM hosts
		ORDER BY host_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hosts: %w", err)
	}
	return hosts, nil
}

// UpdateHostStatus sets a host's status.
// Returns ErrNotFound if the host doesn't exist.
func (s *SQLiteStore) UpdateHostStatus(ctx context.Context, id int64, status host.Status) error {
	query := `UPDATE hosts SET status = ?, updated_at = ? WHERE host_id = ?`
	return s.execOne(ctx, query, "updating host status", string(status), nowString(), id)
}

// RecordPing stores the time of a successful ping. Status is left alone.
// Returns ErrNotFound if the host doesn't exist.
func (s *SQLiteStore) RecordPing(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE hosts SET last_ping = ?, updated_at = ? WHERE host_id = ?`
	return s.execOne(ctx, query, "recording ping", at.UTC().Format(timeFormat), nowString(), id)
}

// RecordEvent appends a lifecycle event. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e *HostEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO host_events (event_id, host_id, event, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.HostID,
		string(e.Event),
		string(e.Status),
		nullString(e.Detail),
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events for a host first. A non-positive limit returns all.
func (s *SQLiteStore) ListEvents(ctx context.Context, hostID int64, limit int) ([]*HostEvent, error) {
	query := `
		SELECT event_id, host_id, event, status, detail, created_at
		FROM host_events
		WHERE host_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, hostID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*HostEvent
	for rows.Next() {
		var e HostEvent
		var event, status, createdAt string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.HostID, &event, &status, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Event = host.Event(event)
		e.Status = host.Status(status)
		e.Detail = detail.String
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// SaveCommandResult persists one answer. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) SaveCommandResult(ctx context.Context, r *CommandResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO command_results (result_id, host_id, sequence, command, result, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.HostID,
		r.Sequence,
		r.Command,
		boolToInt(r.Result),
		nullString(r.Details),
		r.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving command result: %w", err)
	}
	return nil
}

// ListCommandResults returns the newest results for a host first. A non-positive limit returns all.
func (s *SQLiteStore) ListCommandResults(ctx context.Context, hostID int64, limit int) ([]*CommandResult, error) {
	query := `
		SELECT result_id, host_id, sequence, command, result, details, created_at
		FROM command_results
		WHERE host_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, hostID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying command results: %w", err)
	}
	defer rows.Close()

	var results []*CommandResult
	for rows.Next() {
		var r CommandResult
		var result int
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.HostID, &r.Sequence, &r.Command, &result, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command result: %w", err)
		}
		r.Result = result != 0
		r.Details = details.String
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command results: %w", err)
	}
	return results, nil
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, query, action string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*Host, error) {
	var h Host
	var status, updatedAt string
	var maintenance int
	var lastPing, connectedAt sql.NullString

	if err := row.Scan(&h.ID, &h.Name, &status, &maintenance, &lastPing, &connectedAt, &updatedAt); err != nil {
		return nil, err
	}

	h.Status = host.Status(status)
	h.Maintenance = maintenance != 0

	var err error
	if h.LastPing, err = parseTimePtr(lastPing); err != nil {
		return nil, fmt.Errorf("parsing last_ping: %w", err)
	}
	if h.ConnectedAt, err = parseTimePtr(connectedAt); err != nil {
		return nil, fmt.Errorf("parsing connected_at: %w", err)
	}
	if h.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &h, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nowString() string {
	return time.Now().UTC().Format(timeFormat)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
