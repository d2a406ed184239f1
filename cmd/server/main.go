package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/matchstate/internal/config"
	"github.com/DoyleJ11/matchstate/internal/engine"
	"github.com/DoyleJ11/matchstate/internal/httpapi"
	"github.com/DoyleJ11/matchstate/internal/hub"
	"github.com/DoyleJ11/matchstate/internal/lobby"
	"github.com/DoyleJ11/matchstate/internal/logger"
	"github.com/DoyleJ11/matchstate/internal/metasync"
	"github.com/DoyleJ11/matchstate/internal/metrics"
	"github.com/DoyleJ11/matchstate/internal/roster"
	"github.com/DoyleJ11/matchstate/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	sessions, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sessions.Close()) }()

	var lookup engine.RosterLookup
	if cfg.RosterDatabaseURL != "" {
		pg, cerr := roster.Connect(ctx, cfg.RosterDatabaseURL)
		if cerr != nil {
			return cerr
		}
		defer func() { err = multierr.Append(err, pg.Close()) }()
		lookup = roster.WithTimeout(pg, cfg.LookupTimeout)
	} else {
		log.Warn("no roster database configured, reconciling without roster data")
	}

	g, gctx := errgroup.WithContext(ctx)

	var syncer lobby.Syncer
	var forget func(string)
	if cfg.SyncEndpoint != "" {
		d := metasync.NewDispatcher(
			metasync.NewHTTPTransport(cfg.SyncEndpoint, cfg.SyncToken, cfg.SyncTimeout),
			rate.NewLimiter(rate.Limit(cfg.SyncRate), max(cfg.SyncBurst, 1)),
			log, m,
		)
		g.Go(func() error { return d.Run(gctx) })
		syncer, forget = d, d.Forget
	}

	h := hub.NewHub(gctx, hub.Config{
		Store:         sessions,
		Syncer:        syncer,
		Log:           log,
		Metrics:       m,
		TTL:           cfg.MatchTTL,
		SweepInterval: cfg.SweepInterval,
		OnEvict:       forget,
	})
	defer h.Close()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:        h,
			Reconciler: engine.NewReconciler(lookup, log),
			Metrics:    m,
			Log:        log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.SessionStore, error) {
	switch cfg.StoreDriver {
	case "redis":
		return store.NewRedisStore(ctx, cfg.RedisURL, cfg.StoreTTL)
	case "postgres":
		return store.NewGormStore(cfg.DatabaseURL)
	default:
		return store.NewMemoryStore(), nil
	}
}
