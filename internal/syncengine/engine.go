// Package syncengine drains the pending queue of a store into the system of
// record, one entry at a time in creation order.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/identity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/metrics"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
	"github.com/prinzana/sellyticsOffline-sub004/internal/synclock"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotPaused      = errors.New("sync is not paused")
)

type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StatePaused  State = "paused"

	DefaultLockTTL = 2 * time.Minute
)

type Status struct {
	StoreID    string              `json:"store_id"`
	State      State               `json:"state"`
	Progress   domain.SyncProgress `json:"progress"`
	LastRunAt  time.Time           `json:"last_run_at,omitempty"`
	LastReport *domain.SyncReport  `json:"last_report,omitempty"`
}

type storeSync struct {
	state      State
	running    bool
	pause      bool
	progress   domain.SyncProgress
	lastRunAt  time.Time
	lastReport *domain.SyncReport
}

type Engine struct {
	local   store.LocalStore
	remote  remote.Collaborator
	pusher  *Pusher
	conn    *connectivity.Tracker
	locker  synclock.Locker
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	stores map[string]*storeSync
}

type Option func(*Engine)

func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(local store.LocalStore, rc remote.Collaborator, conn *connectivity.Tracker, locker synclock.Locker, logger *zap.Logger, opts ...Option) *Engine {
	if locker == nil {
		locker = synclock.NewLocal()
	}
	e := &Engine{
		local:   local,
		remote:  rc,
		pusher:  NewPusher(rc, logger),
		conn:    conn,
		locker:  locker,
		lockTTL: DefaultLockTTL,
		logger:  logger.Named("sync"),
		now:     func() time.Time { return time.Now().UTC() },
		stores:  make(map[string]*storeSync),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Pusher() *Pusher { return e.pusher }

// SyncAll pushes every created or interrupted entry of the identity's store.
// Failed entries stay failed until RetryEntry.
func (e *Engine) SyncAll(ctx context.Context, id domain.Identity) (domain.SyncReport, error) {
	return e.start(ctx, id, false)
}

// PauseSync asks a running sync to stop before its next entry. The entry
// being pushed finishes. It reports whether a sync was running.
func (e *Engine) PauseSync(storeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.storeLocked(storeID)
	if !st.running {
		return false
	}
	st.pause = true
	return true
}

// ResumeSync continues a paused sync; progress carries over.
func (e *Engine) ResumeSync(ctx context.Context, id domain.Identity) (domain.SyncReport, error) {
	e.mu.Lock()
	st := e.storeLocked(id.StoreID)
	paused := st.state == StatePaused
	e.mu.Unlock()
	if !paused {
		return domain.SyncReport{}, ErrNotPaused
	}
	return e.start(ctx, id, true)
}

func (e *Engine) SyncProgress(storeID string) domain.SyncProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storeLocked(storeID).progress
}

func (e *Engine) Status(storeID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.storeLocked(storeID)
	return Status{StoreID: storeID, State: st.state, Progress: st.progress, LastRunAt: st.lastRunAt, LastReport: st.lastReport}
}

func (e *Engine) Running(storeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storeLocked(storeID).running
}

// ClearQueue drops the store's unsynced entries locally and gives their
// stock back to the cache. Nothing is sent to the remote.
func (e *Engine) ClearQueue(ctx context.Context, id domain.Identity) (int, error) {
	const op = "sync.clear_queue"
	if !id.IsOwner {
		return 0, domain.PermissionError(op, "only the store owner can clear the queue")
	}
	if !e.claim(id.StoreID) {
		return 0, ErrSyncInProgress
	}
	defer e.unclaim(id.StoreID, false)

	cleared := 0
	err := e.local.Update(ctx, func(tx store.Tx) error {
		entries, err := store.GetAll[domain.PendingEntry](ctx, tx, store.Pending, id.StoreID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.State == domain.SyncStateSynced {
				continue
			}
			if err := store.ReleaseEntry(ctx, tx, entry); err != nil {
				return err
			}
			if err := tx.Delete(ctx, store.Pending, entry.ClientRef); err != nil {
				return err
			}
			cleared++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	st := e.storeLocked(id.StoreID)
	st.progress = domain.SyncProgress{}
	if st.state == StatePaused {
		st.state = StateIdle
	}
	e.mu.Unlock()

	e.logger.Warn("pending queue cleared", zap.String("store_id", id.StoreID), zap.String("user_id", id.UserID), zap.Int("entries", cleared))
	e.reportDepth(ctx, id.StoreID)
	return cleared, nil
}

// RetryEntry moves a failed entry back to created so the next sync picks it up.
func (e *Engine) RetryEntry(ctx context.Context, id domain.Identity, clientRef string) error {
	const op = "sync.retry_entry"
	return e.local.Update(ctx, func(tx store.Tx) error {
		entry, err := store.Get[domain.PendingEntry](ctx, tx, store.Pending, clientRef)
		if err != nil {
			return err
		}
		if !identity.ComputePermission(entry, id).CanEdit {
			return domain.PermissionError(op, "not allowed to retry this sale")
		}
		if entry.State != domain.SyncStateFailed {
			return domain.ValidationError(op, "entry %s is %s, not failed", clientRef, entry.State)
		}
		entry.State = domain.SyncStateCreated
		entry.LastError = ""
		entry.ErrorKind = ""
		entry.UpdatedAt = e.now()
		return store.Put(ctx, tx, store.Pending, entry)
	})
}

func (e *Engine) start(ctx context.Context, id domain.Identity, resume bool) (domain.SyncReport, error) {
	if id.StoreID == "" {
		return domain.SyncReport{}, domain.ConfigurationError("sync", "no store selected")
	}
	if !e.claim(id.StoreID) {
		return domain.SyncReport{}, ErrSyncInProgress
	}
	paused := false
	defer func() { e.unclaim(id.StoreID, paused) }()

	release, ok, err := e.locker.Acquire(ctx, synclock.Key(id.StoreID), e.lockTTL)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return domain.SyncReport{}, ErrSyncInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("sync lock release failed", zap.String("store_id", id.StoreID), zap.Error(err))
		}
	}()

	started := time.Now()
	report, err := e.run(ctx, id.StoreID, resume)
	paused = report.Paused

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
	case report.Paused:
		outcome = "paused"
	case report.Offline:
		outcome = "offline"
	}
	metrics.RecordSyncRun(outcome, time.Since(started))
	e.reportDepth(ctx, id.StoreID)

	e.mu.Lock()
	st := e.storeLocked(id.StoreID)
	st.lastRunAt = e.now()
	st.lastReport = &report
	e.mu.Unlock()

	return report, err
}

func (e *Engine) run(ctx context.Context, storeID string, resume bool) (domain.SyncReport, error) {
	var report domain.SyncReport

	if !e.conn.Online() && !e.conn.Probe(ctx, e.remote) {
		report.Offline = true
		return report, nil
	}

	entries, err := store.GetAll[domain.PendingEntry](ctx, e.local, store.Pending, storeID)
	if err != nil {
		return report, fmt.Errorf("read pending queue: %w", err)
	}
	entries = slices.DeleteFunc(entries, func(entry domain.PendingEntry) bool {
		return entry.State != domain.SyncStateCreated && entry.State != domain.SyncStateSyncing
	})
	slices.SortStableFunc(entries, func(a, b domain.PendingEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	e.mu.Lock()
	st := e.storeLocked(storeID)
	if resume {
		st.progress.Total = st.progress.Current + len(entries)
	} else {
		st.progress = domain.SyncProgress{Total: len(entries)}
	}
	report.Progress = st.progress
	e.mu.Unlock()

	for _, entry := range entries {
		if e.pauseRequested(storeID) {
			report.Paused = true
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, stop, err := e.syncEntry(ctx, entry)
		if err != nil {
			e.logger.Error("sync aborted", zap.String("client_ref", entry.ClientRef), zap.Error(err))
			return report, err
		}
		report.Entries = append(report.Entries, result)
		if stop {
			report.Offline = true
			break
		}
		switch result.State {
		case domain.SyncStateSynced:
			report.Synced++
		case domain.SyncStateFailed:
			report.Failed++
		}

		e.mu.Lock()
		st.progress.Current++
		report.Progress = st.progress
		e.mu.Unlock()
	}

	return report, nil
}

// syncEntry pushes one entry. stop is true when the remote went away; err is
// only returned for local store failures.
func (e *Engine) syncEntry(ctx context.Context, entry domain.PendingEntry) (domain.EntryResult, bool, error) {
	logger := e.logger.With(zap.String("client_ref", entry.ClientRef), zap.String("store_id", entry.StoreID))

	entry.State = domain.SyncStateSyncing
	entry.Attempts++
	entry.UpdatedAt = e.now()
	if err := e.save(ctx, entry); err != nil {
		return domain.EntryResult{}, false, err
	}

	sale, inventory, err := e.pusher.Push(ctx, &entry, e.save)
	if err != nil {
		var cpErr *CheckpointError
		if errors.As(err, &cpErr) {
			return domain.EntryResult{}, false, err
		}
		entry.LastError = err.Error()
		entry.ErrorKind = domain.KindOf(err)
		entry.UpdatedAt = e.now()

		if e.conn.Observe(err) {
			entry.State = domain.SyncStateCreated
			if saveErr := e.save(ctx, entry); saveErr != nil {
				return domain.EntryResult{}, false, saveErr
			}
			logger.Warn("remote unreachable, sync stopped", zap.Error(err))
			metrics.RecordSyncEntry("offline")
			return domain.EntryResult{ClientRef: entry.ClientRef, State: entry.State, ErrorKind: domain.KindNetwork, Error: err.Error()}, true, nil
		}

		entry.State = domain.SyncStateFailed
		if saveErr := e.save(ctx, entry); saveErr != nil {
			return domain.EntryResult{}, false, saveErr
		}
		logger.Warn("entry failed", zap.String("kind", string(entry.ErrorKind)), zap.Error(err))
		metrics.RecordSyncEntry("failed")
		return domain.EntryResult{ClientRef: entry.ClientRef, State: entry.State, ErrorKind: entry.ErrorKind, Error: err.Error()}, false, nil
	}

	err = e.local.Update(ctx, func(tx store.Tx) error {
		if err := tx.Delete(ctx, store.Pending, entry.ClientRef); err != nil {
			return err
		}
		if err := store.Put(ctx, tx, store.SyncedSales, sale); err != nil {
			return err
		}
		hints, err := store.PendingHints(ctx, tx, entry.StoreID, entry.ClientRef)
		if err != nil {
			return err
		}
		_, err = store.ReconcileInventory(ctx, tx, entry.StoreID, inventory, hints)
		return err
	})
	if err != nil {
		return domain.EntryResult{}, false, fmt.Errorf("mark %s synced: %w", entry.ClientRef, err)
	}

	logger.Info("entry synced", zap.String("sale_id", sale.Group.ID), zap.Int("attempts", entry.Attempts))
	metrics.RecordSyncEntry("synced")
	return domain.EntryResult{ClientRef: entry.ClientRef, State: domain.SyncStateSynced}, false, nil
}

func (e *Engine) save(ctx context.Context, entry domain.PendingEntry) error {
	return store.Save(ctx, e.local, store.Pending, []domain.PendingEntry{entry})
}

func (e *Engine) reportDepth(ctx context.Context, storeID string) {
	entries, err := store.GetAll[domain.PendingEntry](ctx, e.local, store.Pending, storeID)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(storeID, len(entries))
}

func (e *Engine) claim(storeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.storeLocked(storeID)
	if st.running {
		return false
	}
	st.running = true
	st.pause = false
	st.state = StateSyncing
	return true
}

func (e *Engine) unclaim(storeID string, paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.storeLocked(storeID)
	st.running = false
	st.pause = false
	if paused {
		st.state = StatePaused
		return
	}
	st.state = StateIdle
}

func (e *Engine) pauseRequested(storeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.storeLocked(storeID).pause
}

func (e *Engine) storeLocked(storeID string) *storeSync {
	st, ok := e.stores[storeID]
	if !ok {
		st = &storeSync{state: StateIdle}
		e.stores[storeID] = st
	}
	return st
}
