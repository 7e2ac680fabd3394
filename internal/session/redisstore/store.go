// Package redisstore keeps sessions in Redis so several processes, or a
// restarted one, share the same state machine.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/model"
	"github.com/ggonzalez94/chatswap/internal/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "chatswap:"
	// Keys outlive the logical TTL so Get can still answer Expired until the
	// sweeper removes them.
	keyGrace   = 10 * time.Minute
	maxRetries = 8
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Store implements session.Store with one JSON document per session and a
// sorted set per owner. Mutations use WATCH/MULTI so the compare-and-set in
// Advance holds across processes.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

var _ session.Store = (*Store)(nil)

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}

func (s *Store) sessionKey(id string) string { return s.prefix + "session:" + id }

func (s *Store) ownerKey(owner string) string { return s.prefix + "owner:" + owner }

func (s *Store) Create(ctx context.Context, ownerID string) (string, error) {
	if ownerID == "" {
		return "", apperr.New(apperr.CodeInvalidInput, "owner id is required")
	}
	now := s.now().UTC()
	for attempt := 0; attempt < maxRetries; attempt++ {
		sess := session.Session{
			ID:        s.newID(),
			OwnerID:   ownerID,
			State:     session.StateCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		payload, err := json.Marshal(sess)
		if err != nil {
			return "", apperr.Wrap(apperr.CodeInternal, "encode session", err)
		}
		ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), payload, s.keyTTL()).Result()
		if err != nil {
			return "", apperr.Wrap(apperr.CodeUnavailable, "create session", err)
		}
		if !ok {
			continue
		}
		ownerKey := s.ownerKey(ownerID)
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, ownerKey, redis.Z{Score: float64(now.UnixMilli()), Member: sess.ID})
			if ttl := s.keyTTL(); ttl > 0 {
				pipe.Expire(ctx, ownerKey, ttl)
			}
			return nil
		})
		if err != nil {
			return "", apperr.Wrap(apperr.CodeUnavailable, "index session owner", err)
		}
		return sess.ID, nil
	}
	return "", apperr.New(apperr.CodeInternal, "could not allocate a session id")
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.read(ctx, s.client, id)
	if err != nil {
		return session.Session{}, err
	}
	if sess.ExpiredAt(s.now(), s.ttl) {
		return session.Session{}, apperr.New(apperr.CodeExpired, "session expired")
	}
	return sess, nil
}

func (s *Store) SetWallet(ctx context.Context, id, walletAddress string) error {
	return s.update(ctx, id, true, func(sess *session.Session, now time.Time) error {
		return sess.ConnectWallet(walletAddress, now)
	})
}

func (s *Store) SetSwapRequest(ctx context.Context, id string, req model.SwapRequest) error {
	return s.update(ctx, id, true, func(sess *session.Session, now time.Time) error {
		return sess.RequestSwap(req, now)
	})
}

func (s *Store) Advance(ctx context.Context, id string, t session.Transition) error {
	if err := session.CheckTransition(t); err != nil {
		return err
	}
	return s.update(ctx, id, true, func(sess *session.Session, now time.Time) error {
		return sess.Advance(t, now)
	})
}

func (s *Store) ReplaceTransaction(ctx context.Context, id, prevBuildID string, tx model.Transaction) error {
	return s.update(ctx, id, true, func(sess *session.Session, now time.Time) error {
		return sess.ReplaceTx(prevBuildID, tx, now)
	})
}

func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	return s.update(ctx, id, false, func(sess *session.Session, _ time.Time) error {
		sess.Delivered = true
		return nil
	})
}

func (s *Store) FindActiveByOwner(ctx context.Context, ownerID string) (string, bool, error) {
	ownerKey := s.ownerKey(ownerID)
	ids, err := s.client.ZRevRange(ctx, ownerKey, 0, -1).Result()
	if err != nil {
		return "", false, apperr.Wrap(apperr.CodeUnavailable, "list owner sessions", err)
	}
	now := s.now()
	for _, id := range ids {
		sess, err := s.read(ctx, s.client, id)
		if apperr.Is(err, apperr.CodeNotFound) {
			_ = s.client.ZRem(ctx, ownerKey, id).Err()
			continue
		}
		if err != nil {
			return "", false, err
		}
		if sess.WalletAddress == "" || sess.ExpiredAt(now, s.ttl) {
			continue
		}
		return sess.WalletAddress, true, nil
	}
	return "", false, nil
}

func (s *Store) ExpireOlderThan(ctx context.Context, ttl time.Duration) (int, error) {
	now := s.now()
	return s.deleteWhere(ctx, func(sess session.Session) bool { return sess.ExpiredAt(now, ttl) })
}

func (s *Store) PurgeTerminal(ctx context.Context, grace time.Duration) (int, error) {
	now := s.now()
	return s.deleteWhere(ctx, func(sess session.Session) bool { return sess.Purgeable(now, grace) })
}

func (s *Store) keyTTL() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	return s.ttl + keyGrace
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) read(ctx context.Context, c getter, id string) (session.Session, error) {
	raw, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, apperr.New(apperr.CodeNotFound, "session not found")
	}
	if err != nil {
		return session.Session{}, apperr.Wrap(apperr.CodeUnavailable, "read session", err)
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, apperr.Wrap(apperr.CodeInternal, "decode session", err)
	}
	return sess, nil
}

// update runs mutate inside an optimistic transaction on the session key and
// retries when another writer touched the key first. Once the retry budget is
// spent the caller sees Conflict.
func (s *Store) update(ctx context.Context, id string, checkExpiry bool, mutate func(*session.Session, time.Time) error) error {
	key := s.sessionKey(id)
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			sess, err := s.read(ctx, tx, id)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			if checkExpiry && sess.ExpiredAt(now, s.ttl) {
				return apperr.New(apperr.CodeExpired, "session expired")
			}
			if err := mutate(&sess, now); err != nil {
				return err
			}
			payload, err := json.Marshal(sess)
			if err != nil {
				return apperr.Wrap(apperr.CodeInternal, "encode session", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, typed := apperr.As(err); typed {
				return err
			}
			return apperr.Wrap(apperr.CodeUnavailable, "update session", err)
		}
		return nil
	}
	return apperr.New(apperr.CodeConflict, "session is being updated concurrently")
}

func (s *Store) deleteWhere(ctx context.Context, match func(session.Session) bool) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := s.prefix + "session:*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, apperr.Wrap(apperr.CodeUnavailable, "scan sessions", err)
		}
		for _, key := range keys {
			id := strings.TrimPrefix(key, s.prefix+"session:")
			sess, err := s.read(ctx, s.client, id)
			if apperr.Is(err, apperr.CodeNotFound) {
				continue
			}
			if err != nil {
				return removed, err
			}
			if !match(sess) {
				continue
			}
			_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.ownerKey(sess.OwnerID), id)
				return nil
			})
			if err != nil {
				return removed, apperr.Wrap(apperr.CodeUnavailable, "delete session", err)
			}
			removed++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}
