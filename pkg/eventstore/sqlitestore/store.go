// Package sqlitestore implements eventstore.AttemptStore on a SQLite database.
//
// Events live in one table keyed by an AUTOINCREMENT id, which doubles as the
// insertion order. Eviction and insert run in a single transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/drey/pkg/eventstore"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const handlePrefix = "sqlite:"

// Store provides durable event storage in SQLite.
// Uses WAL mode so reads can proceed while an upload cycle deletes rows.
type Store struct {
	db   *sql.DB
	path string
	opts eventstore.Options

	// serializes evict+insert per collection; SQLite has a single writer anyway
	mu sync.Mutex
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...eventstore.Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:   db,
		path: path,
		opts: eventstore.ApplyOptions("sqlitestore", opts...),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Store implements eventstore.Store.
func (s *Store) Store(ctx context.Context, collection string, event eventstore.Event) (eventstore.Handle, error) {
	if err := eventstore.CheckStoreArgs(collection, event); err != nil {
		return "", err
	}

	body, err := eventstore.EncodeEvent(event)
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.storeTx(ctx, collection, body)
	if err != nil {
		return "", &eventstore.StorageError{Op: "store", Collection: collection, Err: err}
	}
	return formatHandle(id), nil
}

func (s *Store) storeTx(ctx context.Context, collection string, body []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE collection = ?`, collection).Scan(&count); err != nil {
		return 0, fmt.Errorf("count collection: %w", err)
	}

	if n := s.opts.EvictCount(count); n > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM events WHERE id IN (
				SELECT id FROM events WHERE collection = ? ORDER BY id LIMIT ?
			)
		`, collection, n)
		if err != nil {
			return 0, fmt.Errorf("forget oldest events: %w", err)
		}
		s.opts.Logger.Debug("forgot oldest events", "collection", collection, "count", n)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (collection, body, created_at) VALUES (?, ?, ?)
	`, collection, body, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Get implements eventstore.Store.
func (s *Store) Get(ctx context.Context, h eventstore.Handle) (eventstore.Event, bool) {
	id, ok := parseHandle(h)
	if !ok {
		return nil, false
	}

	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM events WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.opts.Logger.Warn("failed to read queued event", "handle", h, "error", err)
		}
		return nil, false
	}

	event, err := eventstore.DecodeEvent(body)
	if err != nil {
		s.opts.Logger.Warn("dropping unreadable event", "handle", h, "error", err)
		return nil, false
	}
	return event, true
}

// Remove implements eventstore.Store.
func (s *Store) Remove(ctx context.Context, h eventstore.Handle) error {
	id, ok := parseHandle(h)
	if !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return &eventstore.StorageError{Op: "remove", Handle: h, Err: err}
	}
	return nil
}

// Handles implements eventstore.Store.
func (s *Store) Handles(ctx context.Context) (map[string][]eventstore.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, collection FROM events ORDER BY id`)
	if err != nil {
		return nil, &eventstore.StorageError{Op: "handles", Err: err}
	}
	defer rows.Close()

	out := make(map[string][]eventstore.Handle)
	for rows.Next() {
		var (
			id         int64
			collection string
		)
		if err := rows.Scan(&id, &collection); err != nil {
			return nil, &eventstore.StorageError{Op: "handles", Err: err}
		}
		out[collection] = append(out[collection], formatHandle(id))
	}
	if err := rows.Err(); err != nil {
		return nil, &eventstore.StorageError{Op: "handles", Err: err}
	}
	return out, nil
}

// SetAttempts implements eventstore.AttemptStore.
func (s *Store) SetAttempts(ctx context.Context, projectID, collection, marker string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (project_id, collection, marker) VALUES (?, ?, ?)
		ON CONFLICT(project_id, collection) DO UPDATE SET marker = excluded.marker
	`, projectID, collection, marker)
	if err != nil {
		return &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return nil
}

// GetAttempts implements eventstore.AttemptStore.
func (s *Store) GetAttempts(ctx context.Context, projectID, collection string) (string, bool, error) {
	var marker string
	err := s.db.QueryRowContext(ctx, `
		SELECT marker FROM attempts WHERE project_id = ? AND collection = ?
	`, projectID, collection).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &eventstore.StorageError{Op: "attempts", Collection: collection, Err: err}
	}
	return marker, true, nil
}

func formatHandle(id int64) eventstore.Handle {
	return eventstore.Handle(handlePrefix + strconv.FormatInt(id, 10))
}

func parseHandle(h eventstore.Handle) (int64, bool) {
	raw, ok := strings.CutPrefix(string(h), handlePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
