// Package main provides the liftlog daemon entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/liftlog/internal/config"
	"github.com/thebtf/liftlog/internal/history"
	"github.com/thebtf/liftlog/internal/identity"
	"github.com/thebtf/liftlog/internal/kv"
	"github.com/thebtf/liftlog/internal/server"
	"github.com/thebtf/liftlog/internal/session"
	"github.com/thebtf/liftlog/internal/storage"
	"github.com/thebtf/liftlog/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	owner := flag.String("owner", "", "Default owner id (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load settings, using defaults")
		cfg = config.Default()
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *owner != "" {
		cfg.Owner = *owner
	}
	if *debug || cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, storeWatcher, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("Failed to open store")
	}
	defer store.Close()
	if storeWatcher != nil {
		if err := storeWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Store watcher not started")
		}
		defer storeWatcher.Stop()
	}

	gateway := storage.New(store, storage.Config{
		Timeout:       time.Duration(cfg.Storage.TimeoutSeconds) * time.Second,
		MaxRetries:    cfg.Storage.MaxRetries,
		BaseDelay:     time.Duration(cfg.Storage.BaseDelayMS) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Storage.MaxDelayMS) * time.Millisecond,
		BackoffFactor: cfg.Storage.BackoffFactor,
		Compressor:    storage.GzipCompressor{},
	})
	repo := history.NewRepository(gateway)
	provider := identity.Static{ID: cfg.Owner}
	controller := session.NewController(repo, provider)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(controller, repo, gateway, provider),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", Version).Msg("liftlog daemon listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Daemon exited with error")
	}
}

// openStore builds the configured kv backend, with a deletion watcher
// for the sqlite file so a wiped data dir recreates the schema.
func openStore(cfg *config.Config) (kv.Store, *watcher.StoreWatcher, error) {
	switch cfg.Store {
	case "sqlite", "":
		sqliteStore, err := kv.OpenSQLite(config.DBPath())
		if err != nil {
			return nil, nil, err
		}
		swappable := kv.NewSwappable(sqliteStore)
		storeWatcher, err := watcher.New(config.DBPath(), func() {
			reopened, err := kv.OpenSQLite(config.DBPath())
			if err != nil {
				log.Error().Err(err).Msg("Failed to reopen store after deletion")
				return
			}
			swappable.Swap(reopened)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Store watcher unavailable")
			return swappable, nil, nil
		}
		return swappable, storeWatcher, nil
	case "redis":
		return kv.OpenRedis(cfg.RedisAddr), nil, nil
	case "memory":
		log.Warn().Msg("Using in-memory store, history will not survive restarts")
		return kv.NewMemoryStore(), nil, nil
	default:
		return nil, nil, errors.New("unknown store backend " + cfg.Store)
	}
}
