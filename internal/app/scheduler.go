package app

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/syncengine"
)

// SchedulerModule drains the queue on the configured cron schedule and
// whenever the remote becomes reachable again.
func SchedulerModule() fx.Option {
	return fx.Module(
		"scheduler",
		fx.Provide(NewAutoSyncer),
		fx.Invoke(startScheduler),
	)
}

type identitySource interface {
	Resolve(ctx context.Context) (domain.Identity, error)
}

type syncer interface {
	SyncAll(ctx context.Context, id domain.Identity) (domain.SyncReport, error)
	Status(storeID string) syncengine.Status
}

// AutoSyncer runs background syncs as the saved session's identity.
type AutoSyncer struct {
	identities identitySource
	engine     syncer
	timeout    time.Duration
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewAutoSyncer(rt *Runtime) *AutoSyncer {
	return newAutoSyncer(rt.Resolver, rt.Engine, rt.Config.SyncLockTTL, rt.Logger)
}

func newAutoSyncer(identities identitySource, engine syncer, timeout time.Duration, logger *zap.Logger) *AutoSyncer {
	if timeout <= 0 {
		timeout = syncengine.DefaultLockTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AutoSyncer{
		identities: identities,
		engine:     engine,
		timeout:    timeout,
		logger:     logger.Named("autosync"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run performs one background sync. Missing sessions, paused syncs and
// syncs already running elsewhere are skipped without noise.
func (a *AutoSyncer) Run() {
	id, err := a.identities.Resolve(a.ctx)
	if err != nil {
		a.logger.Debug("no saved session, auto sync skipped", zap.Error(err))
		return
	}
	if a.engine.Status(id.StoreID).State == syncengine.StatePaused {
		a.logger.Debug("sync paused, auto sync skipped", zap.String("store_id", id.StoreID))
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
	defer cancel()

	report, err := a.engine.SyncAll(ctx, id)
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		a.logger.Debug("sync already running", zap.String("store_id", id.StoreID))
	case err != nil:
		a.logger.Warn("auto sync failed", zap.String("store_id", id.StoreID), zap.Error(err))
	case report.Offline:
		a.logger.Debug("remote offline, auto sync deferred", zap.String("store_id", id.StoreID))
	case len(report.Entries) > 0:
		a.logger.Info("auto sync finished",
			zap.String("store_id", id.StoreID),
			zap.Int("synced", report.Synced),
			zap.Int("failed", report.Failed),
		)
	}
}

// Stop cancels a background sync in flight.
func (a *AutoSyncer) Stop() {
	a.cancel()
}

func startScheduler(lc fx.Lifecycle, rt *Runtime, auto *AutoSyncer) error {
	logger := rt.Logger.Named("scheduler")
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(rt.Config.AutoSyncSchedule, auto.Run); err != nil {
		return err
	}

	rt.Conn.OnChange(func(online bool) {
		if online {
			go auto.Run()
		}
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			scheduler.Start()
			logger.Info("auto sync scheduled", zap.String("schedule", rt.Config.AutoSyncSchedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			auto.Stop()
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
