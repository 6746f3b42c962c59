// Package store persists session snapshots in SQLite so a restarted
// session resumes with the vitals it ended with instead of a clean slate.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// SQLiteStore implements types.SnapshotStore on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore initializes the SQLite database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	snapshotTable := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		phase TEXT NOT NULL,
		loop_count INTEGER NOT NULL,
		focus REAL NOT NULL,
		confidence REAL NOT NULL,
		stamina REAL NOT NULL,
		taken_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id, turn);
	`

	if _, err := s.db.Exec(snapshotTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save appends one snapshot. Snapshots are never updated in place; the
// full per-turn trajectory stays queryable.
func (s *SQLiteStore) Save(ctx context.Context, snap types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, turn, phase, loop_count, focus, confidence, stamina, taken_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.Turn, snap.Phase, snap.LoopCount,
		snap.Focus, snap.Confidence, snap.Stamina, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	logging.StoreDebug("saved snapshot: session=%s turn=%d", snap.SessionID, snap.Turn)
	return nil
}

// LoadLatest returns the most recent snapshot for a session, or nil when
// the session has none.
func (s *SQLiteStore) LoadLatest(ctx context.Context, sessionID string) (*types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, turn, phase, loop_count, focus, confidence, stamina, taken_at
		 FROM snapshots WHERE session_id = ? ORDER BY turn DESC, id DESC LIMIT 1`,
		sessionID,
	)

	var snap types.Snapshot
	err := row.Scan(&snap.SessionID, &snap.Turn, &snap.Phase, &snap.LoopCount,
		&snap.Focus, &snap.Confidence, &snap.Stamina, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &snap, nil
}

// History returns up to limit snapshots for a session, newest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn, phase, loop_count, focus, confidence, stamina, taken_at
		 FROM snapshots WHERE session_id = ? ORDER BY turn DESC, id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []types.Snapshot
	for rows.Next() {
		var snap types.Snapshot
		if err := rows.Scan(&snap.SessionID, &snap.Turn, &snap.Phase, &snap.LoopCount,
			&snap.Focus, &snap.Confidence, &snap.Stamina, &snap.TakenAt); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}
