package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
)

const (
	StatusSettled = "settled"
	StatusFailed  = "failed"
)

// Entry is the permanent record of one finished swap session.
type Entry struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Wallet     string    `json:"wallet,omitempty"`
	Status     string    `json:"status"`
	FromSymbol string    `json:"from_symbol,omitempty"`
	ToSymbol   string    `json:"to_symbol,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	InAmount   string    `json:"in_amount,omitempty"`
	OutAmount  string    `json:"out_amount,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Route      string    `json:"route,omitempty"`
	Signature  string    `json:"signature,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	OwnerID string
	Status  string
	Limit   int
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS swaps (
			session_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			finished_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_swaps_owner_finished ON swaps(owner_id, finished_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_swaps_status_finished ON swaps(status, finished_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts e keyed by session id.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("save ledger entry: missing session id")
	}
	if e.Status != StatusSettled && e.Status != StatusFailed {
		return fmt.Errorf("save ledger entry: unexpected status %q", e.Status)
	}
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock ledger: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swaps (session_id, owner_id, status, finished_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			owner_id=excluded.owner_id,
			status=excluded.status,
			finished_at=excluded.finished_at,
			payload=excluded.payload
	`, e.SessionID, e.OwnerID, e.Status, e.FinishedAt.UnixMilli(), payload)
	if err != nil {
		return fmt.Errorf("save ledger entry: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (Entry, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM swaps WHERE session_id = ?", sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, apperr.New(apperr.CodeNotFound, "ledger entry not found: "+sessionID)
		}
		return Entry{}, fmt.Errorf("read ledger entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("decode ledger entry: %w", err)
	}
	return e, nil
}

// List returns the newest entries first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var (
		where []string
		args  []any
	)
	if owner := strings.TrimSpace(f.OwnerID); owner != "" {
		where = append(where, "owner_id = ?")
		args = append(args, owner)
	}
	if status := strings.ToLower(strings.TrimSpace(f.Status)); status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	query := "SELECT payload FROM swaps"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return entries, nil
}
