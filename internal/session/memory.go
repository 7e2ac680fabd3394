package session

import (
	"context"
	"sort"
	"sync"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/google/uuid"
)

// MemoryStore keeps sessions in a mutex-guarded map. Each method holds the
// lock for its whole read-check-write.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byOwner  map[string][]string
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string][]string),
		ttl:      ttl,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (m *MemoryStore) Create(_ context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "owner id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.newID()
	for m.sessions[id] != nil {
		id = m.newID()
	}
	now := m.now().UTC()
	m.sessions[id] = &Session{
		ID:        id,
		OwnerID:   ownerID,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.byOwner[ownerID] = append(m.byOwner[ownerID], id)
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SetWallet(_ context.Context, id, walletAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.ConnectWallet(walletAddress, m.now().UTC())
}

func (m *MemoryStore) SetSwapRequest(_ context.Context, id string, req model.SwapRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.RequestSwap(req, m.now().UTC())
}

func (m *MemoryStore) Advance(_ context.Context, id string, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.Advance(t, m.now().UTC())
}

func (m *MemoryStore) ReplaceTransaction(_ context.Context, id, prevBuildID string, tx model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.ReplaceTx(prevBuildID, tx, m.now().UTC())
}

// MarkDelivered does not check expiry: a late outcome is still delivered.
func (m *MemoryStore) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "session not found")
	}
	s.Delivered = true
	return nil
}

func (m *MemoryStore) FindActiveByOwner(_ context.Context, ownerID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var best *Session
	for _, id := range m.byOwner[ownerID] {
		s, ok := m.sessions[id]
		if !ok || s.WalletAddress == "" || s.ExpiredAt(now, m.ttl) {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.WalletAddress, true, nil
}

func (m *MemoryStore) ExpireOlderThan(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return m.removeWhere(func(s *Session) bool { return s.ExpiredAt(now, ttl) }), nil
}

func (m *MemoryStore) PurgeTerminal(_ context.Context, grace time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return m.removeWhere(func(s *Session) bool { return s.Purgeable(now, grace) }), nil
}

// List returns a snapshot of all sessions ordered by creation time.
func (m *MemoryStore) List() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "session not found")
	}
	if s.ExpiredAt(m.now(), m.ttl) {
		return nil, apperr.New(apperr.CodeExpired, "session expired")
	}
	return s, nil
}

func (m *MemoryStore) removeWhere(match func(*Session) bool) int {
	removed := 0
	for id, s := range m.sessions {
		if !match(s) {
			continue
		}
		delete(m.sessions, id)
		m.dropOwnerRef(s.OwnerID, id)
		removed++
	}
	return removed
}

func (m *MemoryStore) dropOwnerRef(ownerID, id string) {
	ids := m.byOwner[ownerID]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(m.byOwner, ownerID)
		return
	}
	m.byOwner[ownerID] = ids
}
