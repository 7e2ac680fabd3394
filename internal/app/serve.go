package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/chatswap/internal/cache"
	"github.com/ggonzalez94/chatswap/internal/chat"
	"github.com/ggonzalez94/chatswap/internal/chat/irc"
	"github.com/ggonzalez94/chatswap/internal/chat/telegram"
	"github.com/ggonzalez94/chatswap/internal/config"
	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/httpx"
	"github.com/ggonzalez94/chatswap/internal/ledger"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/orchestrator"
	"github.com/ggonzalez94/chatswap/internal/providers"
	"github.com/ggonzalez94/chatswap/internal/providers/jupiter"
	"github.com/ggonzalez94/chatswap/internal/providers/raydium"
	"github.com/ggonzalez94/chatswap/internal/providers/solana"
	"github.com/ggonzalez94/chatswap/internal/session"
	"github.com/ggonzalez94/chatswap/internal/session/redisstore"
	"github.com/ggonzalez94/chatswap/internal/swap"
	"github.com/ggonzalez94/chatswap/internal/web"
)

// Snapshots older than this are dropped at startup.
const staleSnapshotAge = 7 * 24 * time.Hour

func (s *runtimeState) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web pages, chat transports and session sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), s.settings, s.logger())
		},
	}
	config.BindServe(cmd.Flags(), &s.serveFlags)
	return cmd
}

// system is every long-lived component of a running server.
type system struct {
	log      *logging.Logger
	store    session.Store
	resolver *swap.Resolver
	svc      *orchestrator.Service
	hub      *chat.Hub
	bot      *chat.Bot
	web      *web.Server
	sweeper  *session.Sweeper
	closers  []func() error
}

func (sys *system) close() {
	for i := len(sys.closers) - 1; i >= 0; i-- {
		if err := sys.closers[i](); err != nil {
			sys.log.Warn().Err(err).Msg("close failed")
		}
	}
}

func serve(ctx context.Context, settings config.Settings, log *logging.Logger) error {
	sys, err := assemble(ctx, settings, log)
	if err != nil {
		return err
	}
	defer sys.close()

	if sys.hub.Len() == 0 {
		log.Warn().Msg("no chat transport configured; outcomes cannot be delivered")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sys.resolver.Warm(gctx); err != nil {
			log.Warn().Err(err).Msg("token directory snapshot unavailable")
		}
		return nil
	})
	g.Go(func() error {
		return sys.web.ListenAndServe(gctx, settings.Listen)
	})
	g.Go(func() error {
		return sys.hub.Run(gctx, sys.bot)
	})
	g.Go(func() error {
		sys.sweeper.Run(gctx)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("waiting for in-flight settlements")
	sys.svc.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.CodeInternal, "serve", err)
	}
	return nil
}

func assemble(ctx context.Context, settings config.Settings, log *logging.Logger) (*system, error) {
	sys := &system{log: log}
	ok := false
	defer func() {
		if !ok {
			sys.close()
		}
	}()

	store, err := openSessionStore(ctx, settings)
	if err != nil {
		return nil, err
	}
	sys.store = store
	if c, isCloser := store.(interface{ Close() error }); isCloser {
		sys.closers = append(sys.closers, c.Close)
	}

	snapshots, err := cache.Open(settings.CachePath, settings.CacheLockPath)
	if err != nil {
		log.Warn().Err(err).Msg("token snapshot cache disabled")
	} else {
		sys.closers = append(sys.closers, snapshots.Close)
		if n, err := snapshots.Prune(ctx, staleSnapshotAge); err != nil {
			log.Warn().Err(err).Msg("prune token snapshots")
		} else if n > 0 {
			log.Debug().Int64("removed", n).Msg("pruned token snapshots")
		}
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	routers, directory, err := buildRouters(settings, httpClient)
	if err != nil {
		return nil, err
	}

	chain, err := solana.Dial(ctx, settings.RPCURL, settings.Retries)
	if err != nil {
		return nil, err
	}
	chain.SetPollInterval(settings.ConfirmPoll)
	sys.closers = append(sys.closers, func() error { chain.Close(); return nil })

	history, err := ledger.OpenStore(settings.LedgerPath, settings.LedgerLockPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "open ledger", err)
	}
	sys.closers = append(sys.closers, history.Close)

	sys.resolver = swap.NewResolver(directory, snapshots, settings.DirectoryRefresh, log)
	builder := swap.NewBuilder(sys.resolver, chain, swap.NewRouteSelector(settings.SlippageBps, log, routers...))

	sys.hub = chat.NewHub(log)
	if err := registerTransports(sys.hub, settings, log); err != nil {
		return nil, err
	}

	sys.svc = orchestrator.New(orchestrator.Config{
		PublicURL:     settings.PublicURL,
		RebuildAfter:  settings.RebuildAfter,
		SettleTimeout: settings.ConfirmTimeout,
	}, orchestrator.Deps{
		Store:    store,
		Builder:  builder,
		Balances: chain,
		Tokens:   sys.resolver,
		Chain:    chain,
		Notifier: sys.hub,
		Ledger:   history,
		Log:      log,
	})

	pairs, err := chat.ParsePairs(settings.Pairs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUsage, "parse pairs", err)
	}
	sys.bot = chat.NewBot(sys.svc, pairs, log).Restrict(settings.AllowedOwners)
	sys.web = web.New(sys.svc, log)
	sys.sweeper = &session.Sweeper{
		Store:    store,
		TTL:      settings.SessionTTL,
		Grace:    settings.TerminalGrace,
		Interval: settings.SweepInterval,
		Log:      log.Sub("sweeper"),
	}
	ok = true
	return sys, nil
}

func openSessionStore(ctx context.Context, settings config.Settings) (session.Store, error) {
	switch settings.StoreKind {
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
			Prefix:   settings.RedisPrefix,
			TTL:      settings.SessionTTL,
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeUnavailable, "open redis session store", err)
		}
		return store, nil
	case "", "memory":
		return session.NewMemoryStore(settings.SessionTTL), nil
	}
	return nil, apperr.New(apperr.CodeUsage, fmt.Sprintf("unknown session store %q", settings.StoreKind))
}

// buildRouters returns the routers in preference order. The first one also
// serves the token directory.
func buildRouters(settings config.Settings, httpClient *httpx.Client) ([]providers.RouteProvider, providers.DirectoryProvider, error) {
	type router interface {
		providers.RouteProvider
		providers.DirectoryProvider
	}
	var (
		routers   []providers.RouteProvider
		directory providers.DirectoryProvider
	)
	seen := map[string]bool{}
	for _, name := range settings.Routers {
		if seen[name] {
			continue
		}
		seen[name] = true
		var r router
		switch name {
		case "jupiter":
			r = jupiter.New(httpClient, settings.JupiterAPIKey)
		case "raydium":
			r = raydium.New(httpClient, settings.TokenListURL)
		default:
			return nil, nil, apperr.New(apperr.CodeUsage, fmt.Sprintf("unknown router %q", name))
		}
		routers = append(routers, r)
		if directory == nil {
			directory = r
		}
	}
	if len(routers) == 0 {
		return nil, nil, apperr.New(apperr.CodeUsage, "at least one router is required")
	}
	return routers, directory, nil
}

func registerTransports(hub *chat.Hub, settings config.Settings, log *logging.Logger) error {
	if settings.TelegramToken != "" {
		// Long polls hold the request open for the poll timeout.
		pollClient := httpx.New(settings.TelegramPollTimeout+settings.Timeout, settings.Retries)
		tg, err := telegram.New(telegram.Config{
			Token:       settings.TelegramToken,
			PollTimeout: settings.TelegramPollTimeout,
		}, pollClient, log)
		if err != nil {
			return err
		}
		hub.Register(tg)
	}
	if settings.IRCServer != "" {
		t, err := irc.New(irc.Config{
			Server:   settings.IRCServer,
			Port:     settings.IRCPort,
			Nick:     settings.IRCNick,
			TLS:      settings.IRCTLS,
			Password: settings.IRCPassword,
			Channels: settings.IRCChannels,
		}, log)
		if err != nil {
			return err
		}
		hub.Register(t)
	}
	return nil
}
