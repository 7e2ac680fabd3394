package swap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/chatswap/internal/cache"
	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/id"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

// Resolver maps ticker symbols to mints. The directory is fetched lazily and
// at most once per refresh interval; concurrent misses share one fetch.
type Resolver struct {
	dir     providers.DirectoryProvider
	cache   *cache.Store
	refresh time.Duration
	log     *logging.Logger
	now     func() time.Time
	group   singleflight.Group

	mu          sync.RWMutex
	tokens      map[string]id.Token
	attemptedAt time.Time
	loaded      bool
	lastErr     error
}

// failureBackoff spaces out refresh attempts while a loaded directory is kept
// after a failed refresh. Until a directory has loaded, every miss retries.
const failureBackoff = 30 * time.Second

// NewResolver builds a resolver seeded with the bootstrap tokens. store may be
// nil, in which case directory snapshots are not persisted.
func NewResolver(dir providers.DirectoryProvider, store *cache.Store, refresh time.Duration, log *logging.Logger) *Resolver {
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &Resolver{
		dir:     dir,
		cache:   store,
		refresh: refresh,
		log:     log.Sub("resolver"),
		now:     time.Now,
		tokens:  id.IndexBySymbol(nil),
	}
}

func (r *Resolver) snapshotName() string {
	return "directory:" + r.dir.Name()
}

// Warm primes the directory from the on-disk snapshot, if any.
func (r *Resolver) Warm(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	var tokens []id.Token
	snap, err := r.cache.Load(ctx, r.snapshotName(), r.refresh, &tokens)
	if err != nil || !snap.Found {
		return err
	}
	r.mu.Lock()
	r.tokens = id.IndexBySymbol(tokens)
	r.loaded = true
	if !snap.Stale {
		r.attemptedAt = r.now().Add(-snap.Age)
	}
	r.mu.Unlock()
	r.log.Debug().Int("tokens", len(tokens)).Dur("age", snap.Age).Msg("directory snapshot loaded")
	return nil
}

// Resolve returns the token for symbol. SOL always resolves to the native
// sentinel without touching the directory.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (id.Token, error) {
	sym, err := id.NormalizeSymbol(symbol)
	if err != nil {
		return id.Token{}, err
	}
	if sym == id.NativeSymbol {
		return id.NativeToken(), nil
	}
	if tok, ok := r.lookup(sym); ok && !r.due() {
		return tok, nil
	}

	refreshErr := r.refreshIfDue(ctx)
	if tok, ok := r.lookup(sym); ok {
		return tok, nil
	}
	if !r.hasDirectory() {
		// The symbol was never checked against a directory.
		if refreshErr == nil {
			refreshErr = r.failure()
		}
		return id.Token{}, unavailable(refreshErr)
	}
	return id.Token{}, apperr.New(apperr.CodeUnknownSymbol, fmt.Sprintf("Unknown token symbol: %s", sym))
}

func unavailable(err error) error {
	if err == nil {
		return apperr.New(apperr.CodeUnavailable, "token directory unavailable")
	}
	if _, typed := apperr.As(err); typed {
		return err
	}
	return apperr.Wrap(apperr.CodeUnavailable, "token directory unavailable", err)
}

// ByMint finds a token by mint among those already known. It never fetches.
func (r *Resolver) ByMint(mint string) (id.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id.LookupByAddress(r.tokens, mint)
}

func (r *Resolver) lookup(sym string) (id.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[sym]
	return tok, ok
}

func (r *Resolver) due() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attemptedAt.IsZero() || r.now().Sub(r.attemptedAt) >= r.refresh
}

func (r *Resolver) failure() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Resolver) hasDirectory() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

func (r *Resolver) refreshIfDue(ctx context.Context) error {
	if !r.due() {
		return nil
	}
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		if !r.due() {
			return nil, nil
		}
		return nil, r.fetch(ctx)
	})
	return err
}

func (r *Resolver) fetch(ctx context.Context) error {
	tokens, err := r.dir.ListTokens(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", r.dir.Name()).Msg("directory refresh failed")
		r.mu.Lock()
		r.lastErr = err
		if r.loaded {
			// Keep the stale directory and try again after the backoff.
			r.attemptedAt = r.now().Add(min(failureBackoff, r.refresh) - r.refresh)
		}
		r.mu.Unlock()
		if r.hasDirectory() {
			return nil
		}
		if warmErr := r.Warm(ctx); warmErr == nil && r.hasDirectory() {
			return nil
		}
		return err
	}

	r.mu.Lock()
	r.tokens = id.IndexBySymbol(tokens)
	r.loaded = true
	r.attemptedAt = r.now()
	r.lastErr = nil
	r.mu.Unlock()
	r.log.Debug().Int("tokens", len(tokens)).Str("provider", r.dir.Name()).Msg("directory refreshed")

	if r.cache != nil {
		if err := r.cache.Save(ctx, r.snapshotName(), r.dir.Name(), tokens); err != nil {
			r.log.Warn().Err(err).Msg("directory snapshot not saved")
		}
	}
	return nil
}
