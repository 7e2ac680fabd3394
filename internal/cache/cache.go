package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists named JSON snapshots (such as the token directory) so a
// restarted process can serve lookups before the first upstream refresh.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

// Snapshot describes what Load found.
type Snapshot struct {
	Found  bool
	Source string
	Age    time.Duration
	Stale  bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			payload BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load decodes the snapshot called name into out. Snapshots older than maxAge
// are still decoded but reported as stale; callers decide whether to use them.
func (s *Store) Load(ctx context.Context, name string, maxAge time.Duration, out any) (Snapshot, error) {
	var (
		payload   []byte
		source    string
		fetchedMS int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT payload, source, fetched_at FROM snapshots WHERE name = ?", name).Scan(&payload, &source, &fetchedMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("cache read: %w", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", name, err)
	}

	age := s.now().Sub(time.UnixMilli(fetchedMS))
	if age < 0 {
		age = 0
	}
	return Snapshot{
		Found:  true,
		Source: source,
		Age:    age,
		Stale:  maxAge > 0 && age > maxAge,
	}, nil
}

// Save replaces the snapshot called name. Writers serialize on the file lock
// so several processes can share one cache file.
func (s *Store) Save(ctx context.Context, name, source string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, source, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source=excluded.source,
			payload=excluded.payload,
			fetched_at=excluded.fetched_at
	`, name, source, payload, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Prune drops snapshots fetched more than olderThan ago.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
