package session

import (
	"context"
	"time"

	"github.com/ggonzalez94/chatswap/internal/logging"
)

// Sweeper periodically drops expired sessions and delivered terminal ones.
type Sweeper struct {
	Store    Store
	TTL      time.Duration
	Grace    time.Duration
	Interval time.Duration
	Log      *logging.Logger
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.Store.ExpireOlderThan(ctx, s.TTL)
	if err != nil {
		s.Log.Error().Err(err).Msg("expire sessions")
	}
	purged, err := s.Store.PurgeTerminal(ctx, s.Grace)
	if err != nil {
		s.Log.Error().Err(err).Msg("purge terminal sessions")
	}
	if expired > 0 || purged > 0 {
		s.Log.Debug().Int("expired", expired).Int("purged", purged).Msg("session sweep")
	}
}
