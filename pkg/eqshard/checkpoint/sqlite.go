package checkpoint

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"eqshard/pkg/eqshard/cluster"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps all of a worker's progress offsets in one SQLite file.
// On parallel filesystems a single database file per worker behaves better
// than thousands of small JSON documents.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) a SQLite checkpoint store at
// path, or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers cheap while a flush is committing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS progress (
			batch_id TEXT NOT NULL,
			worker INTEGER NOT NULL,
			version INTEGER NOT NULL,
			progress_offset INTEGER NOT NULL,
			world_size INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (batch_id, worker)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(batchID string, coords cluster.Coordinates) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return State{}, ErrStoreClosed
	}

	var st State
	var updated string
	err := s.db.QueryRow(`
		SELECT version, progress_offset, world_size, updated_at
		FROM progress
		WHERE batch_id = ? AND worker = ?
	`, batchID, coords.GlobalIndex).Scan(&st.Version, &st.ProgressOffset, &st.WorldSize, &updated)

	if err == sql.ErrNoRows {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if st.ProgressOffset < 0 {
		return State{}, nil
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return st, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(batchID string, coords cluster.Coordinates, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	st.Version = Version
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO progress (batch_id, worker, version, progress_offset, world_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, worker) DO UPDATE SET
			version = excluded.version,
			progress_offset = excluded.progress_offset,
			world_size = excluded.world_size,
			updated_at = excluded.updated_at
	`, batchID, coords.GlobalIndex, st.Version, st.ProgressOffset, st.WorldSize,
		st.UpdatedAt.Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
