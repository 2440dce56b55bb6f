// Package app composes the terminal process out of fx modules.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/config"
	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/identity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/logging"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote/httpremote"
	remotemem "github.com/prinzana/sellyticsOffline-sub004/internal/remote/memory"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote/postgres"
	"github.com/prinzana/sellyticsOffline-sub004/internal/service"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store/sqlite"
	"github.com/prinzana/sellyticsOffline-sub004/internal/syncengine"
	"github.com/prinzana/sellyticsOffline-sub004/internal/synclock"
)

const bootTimeout = 10 * time.Second

// Runtime is the set of components a command works with once the graph is
// started.
type Runtime struct {
	Config   config.Config
	Logger   *zap.Logger
	Local    store.LocalStore
	Remote   remote.Collaborator
	Conn     *connectivity.Tracker
	Engine   *syncengine.Engine
	Service  *service.Service
	Resolver *identity.Resolver
}

type runtimeParams struct {
	fx.In

	Config   config.Config
	Logger   *zap.Logger
	Local    store.LocalStore
	Remote   remote.Collaborator
	Conn     *connectivity.Tracker
	Engine   *syncengine.Engine
	Service  *service.Service
	Resolver *identity.Resolver
}

func newRuntime(p runtimeParams) *Runtime {
	return &Runtime{
		Config:   p.Config,
		Logger:   p.Logger,
		Local:    p.Local,
		Remote:   p.Remote,
		Conn:     p.Conn,
		Engine:   p.Engine,
		Service:  p.Service,
		Resolver: p.Resolver,
	}
}

// Module provides the local store, the remote collaborator, the sync lock and
// the services built on them.
func Module() fx.Option {
	return fx.Module(
		"kasirsync",
		fx.Provide(
			openLocal,
			openRemote,
			openLocker,
			newTracker,
			newEngine,
			newService,
			newResolver,
			newRuntime,
		),
		fx.Invoke(probeRemote),
	)
}

// New builds an application from the base modules plus extra, with fx events
// logged through zap.
func New(extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		config.Module(),
		logging.Module(),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		Module(),
	}
	return fx.New(append(opts, extra...)...)
}

// Run starts a short-lived application, hands its runtime to fn and stops
// the application afterwards.
func Run(ctx context.Context, fn func(ctx context.Context, rt *Runtime) error, extra ...fx.Option) error {
	var rt *Runtime
	application := New(append(extra, fx.Populate(&rt))...)

	startCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), bootTimeout)
		defer stopCancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(ctx, rt)
}

func openLocal(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (store.LocalStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()

	st, err := sqlite.Open(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	logger.Info("local store opened", zap.String("path", cfg.LocalDBPath))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return st.Close()
		},
	})
	return st, nil
}

func openRemote(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (remote.Collaborator, error) {
	switch cfg.RemoteKind() {
	case config.RemoteHTTP:
		client, err := httpremote.New(httpremote.Options{
			BaseURL: cfg.RemoteBaseURL,
			APIKey:  cfg.RemoteAPIKey,
			Timeout: cfg.RemoteTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("remote api: %w", err)
		}
		logger.Info("remote: http", zap.String("base_url", cfg.RemoteBaseURL))
		return client, nil
	case config.RemotePostgres:
		client, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("remote database: %w", err)
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx); err != nil {
					logger.Warn("remote database unreachable, schema migration skipped", zap.Error(err))
					return nil
				}
				return client.Migrate(ctx)
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		logger.Info("remote: postgres")
		return client, nil
	default:
		logger.Warn("no remote configured, using the in-memory demo backend", zap.String("store_id", cfg.StoreID))
		return remotemem.NewSeeded(cfg.StoreID), nil
	}
}

// openLocker prefers the shared Redis lock so two terminals of one store
// never drain the same queue, and falls back to an in-process lock.
func openLocker(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) synclock.Locker {
	if cfg.RedisAddr == "" {
		logger.Info("sync lock: local")
		return synclock.NewLocal()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	redisLock := synclock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisLock.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using local sync lock", zap.Error(err))
		_ = redisLock.Close()
		return synclock.NewLocal()
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return redisLock.Close()
		},
	})
	logger.Info("sync lock: redis", zap.String("addr", cfg.RedisAddr))
	return redisLock
}

func newTracker(logger *zap.Logger) *connectivity.Tracker {
	return connectivity.NewTracker(logger)
}

func newEngine(local store.LocalStore, rc remote.Collaborator, conn *connectivity.Tracker, locker synclock.Locker, cfg config.Config, logger *zap.Logger) *syncengine.Engine {
	return syncengine.New(local, rc, conn, locker, logger, syncengine.WithLockTTL(cfg.SyncLockTTL))
}

func newService(local store.LocalStore, rc remote.Collaborator, conn *connectivity.Tracker, engine *syncengine.Engine, cfg config.Config, logger *zap.Logger) *service.Service {
	return service.New(local, rc, conn, engine.Pusher(), logger, service.WithScanWindow(cfg.ScanWindow))
}

func newResolver(cfg config.Config, local store.LocalStore) *identity.Resolver {
	return identity.NewResolver(cfg.SessionSecret, local)
}

// probeRemote records whether the system of record answers at boot. An
// unreachable remote leaves the terminal offline instead of failing start.
func probeRemote(lc fx.Lifecycle, conn *connectivity.Tracker, rc remote.Collaborator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if !conn.Probe(probeCtx, rc) {
				logger.Warn("remote unreachable, starting offline")
			}
			return nil
		},
	})
}
