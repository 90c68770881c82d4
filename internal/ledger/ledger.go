// Package ledger is the durable, append-only record of resolved events and
// their sync-pending flag.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrPersistence wraps every failed write or read of the underlying store.
var ErrPersistence = errors.New("ledger persistence failed")

// ErrInvalidEvent is returned for events that can never be stored.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a resolved feed message.
type Event struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Quantity  int       `json:"quantity"`
}

// Record is an Event as stored, with its outbox state.
type Record struct {
	Event
	Synced    bool       `json:"synced"`
	CreatedAt time.Time  `json:"created_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// Counts summarises the ledger for status pages.
type Counts struct {
	Records int `json:"records"`
	Pending int `json:"pending"`
	Total   int `json:"total_quantity"`
}

// Store wraps SQL access for the events table. The same queries serve SQLite
// and Postgres; placeholders are rewritten for Postgres.
type Store struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

// Open picks a backend from dsn: a plain path, sqlite:// or file:// opens
// SQLite, postgres:// or postgresql:// opens Postgres.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("ledger dsn is required")
	}
	scheme := ""
	if i := strings.Index(dsn, "://"); i > 0 {
		scheme = strings.ToLower(dsn[:i])
	}
	switch scheme {
	case "":
		return openSQLite(dsn)
	case "sqlite", "file":
		return openSQLite(dsn[len(scheme)+len("://"):])
	case "postgres", "postgresql":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported ledger scheme: %s", scheme)
	}
}

func newStore(db *sql.DB, postgres bool) (*Store, error) {
	s := &Store{db: db, postgres: postgres, now: func() time.Time { return time.Now().UTC().Truncate(time.Second) }}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			author TEXT NOT NULL,
			timestamp_utc TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			synced_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_synced ON events(synced);`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp_utc);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrPersistence, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertIfAbsent stores ev unless its id is already present. A duplicate is
// not an error; inserted reports whether a row was created.
func (s *Store) InsertIfAbsent(ctx context.Context, ev Event) (inserted bool, err error) {
	if strings.TrimSpace(ev.ID) == "" {
		return false, fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if ev.Quantity < 0 {
		return false, fmt.Errorf("%w: negative quantity for %s", ErrInvalidEvent, ev.ID)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO events(id, author, timestamp_utc, quantity, synced, created_at)
		VALUES(?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING`), ev.ID, ev.Author, formatTime(ev.Timestamp), ev.Quantity, formatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("%w: insert %s: %w", ErrPersistence, ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: insert %s: %w", ErrPersistence, ev.ID, err)
	}
	return n > 0, nil
}

// ListUnsynced returns up to limit pending records ordered by timestamp and
// id. A limit <= 0 returns all of them.
func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, author, timestamp_utc, quantity, synced, created_at, synced_at FROM events WHERE synced = 0 ORDER BY timestamp_utc, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// MarkSynced flips the pending flag of ids in one transaction.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ts := formatTime(s.now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin mark synced: %w", ErrPersistence, err)
	}
	if err := s.markSyncedTx(ctx, tx, ids, ts); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: mark synced: %w", ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit mark synced: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Store) markSyncedTx(ctx context.Context, tx *sql.Tx, ids []string, ts string) error {
	if s.postgres {
		return markSyncedPostgres(ctx, tx, ids, ts)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET synced = 1, synced_at = ? WHERE id = ? AND synced = 0`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
			return err
		}
	}
	return nil
}

// IDs lists every stored id, used to seed the dedup index.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("%w: list ids: %w", ErrPersistence, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %w", ErrPersistence, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Total is SUM(quantity) over every record.
func (s *Store) Total(ctx context.Context) (int, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM events`).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: total: %w", ErrPersistence, err)
	}
	return int(total), nil
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	var records, pending, total int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(quantity), 0) FROM events`)
	if err := row.Scan(&records, &pending, &total); err != nil {
		return c, fmt.Errorf("%w: counts: %w", ErrPersistence, err)
	}
	c.Records, c.Pending, c.Total = int(records), int(pending), int(total)
	return c, nil
}

// All returns every record oldest first.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	return s.queryRecords(ctx, `SELECT id, author, timestamp_utc, quantity, synced, created_at, synced_at FROM events ORDER BY timestamp_utc, id`)
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRecords(ctx, `SELECT id, author, timestamp_utc, quantity, synced, created_at, synced_at FROM events ORDER BY timestamp_utc DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrPersistence, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		var ts, created string
		var synced int
		var syncedAt sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Author, &ts, &rec.Quantity, &synced, &created, &syncedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrPersistence, err)
		}
		rec.Timestamp = parseTime(ts)
		rec.CreatedAt = parseTime(created)
		rec.Synced = synced != 0
		if syncedAt.Valid {
			t := parseTime(syncedAt.String)
			rec.SyncedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", ErrPersistence, err)
	}
	return out, nil
}

// Health returns err if the store is not reachable.
func (s *Store) Health(ctx context.Context) error {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&v); err != nil {
		return fmt.Errorf("ledger health: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
