package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

type inventoryUpdate struct {
	soldDelta     int64
	remoteVersion int64
	hasVersion    bool
	remoteSold    int64
	inventoryID   string
	now           time.Time
}

type InventoryOption func(*inventoryUpdate)

// WithSoldDelta records units sold by this update.
func WithSoldDelta(n int64) InventoryOption {
	return func(u *inventoryUpdate) {
		if n > 0 {
			u.soldDelta = n
		}
	}
}

// WithRemote marks the update as a reconciliation against an authoritative
// remote record. Updates older than the cached version are ignored.
func WithRemote(rec domain.InventoryRecord) InventoryOption {
	return func(u *inventoryUpdate) {
		u.hasVersion = true
		u.remoteVersion = rec.Version
		u.remoteSold = rec.QuantitySold
		u.inventoryID = rec.ID
	}
}

func WithClock(now time.Time) InventoryOption {
	return func(u *inventoryUpdate) { u.now = now }
}

// UpdateCachedInventory is the only writer of cached inventory. It clamps
// AvailableQty at zero, never lowers QuantitySold and never applies a remote
// value older than what is cached. It reports whether the record changed.
func UpdateCachedInventory(ctx context.Context, tx Tx, productID string, storeID string, newQty int64, opts ...InventoryOption) (domain.InventoryRecord, bool, error) {
	u := inventoryUpdate{now: time.Now().UTC()}
	for _, opt := range opts {
		opt(&u)
	}

	key := domain.InventoryKey(storeID, productID)
	rec, err := Get[domain.InventoryRecord](ctx, tx, Inventory, key)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = domain.InventoryRecord{StoreID: storeID, ProductID: productID}
	case err != nil:
		return domain.InventoryRecord{}, false, err
	}

	if u.hasVersion {
		if u.remoteVersion < rec.Version {
			return rec, false, nil
		}
		rec.Version = u.remoteVersion
		if u.inventoryID != "" {
			rec.ID = u.inventoryID
		}
		if u.remoteSold > rec.QuantitySold {
			rec.QuantitySold = u.remoteSold
		}
	}
	if newQty < 0 {
		newQty = 0
	}
	rec.AvailableQty = newQty
	rec.QuantitySold += u.soldDelta
	rec.UpdatedAt = u.now

	if err := Put(ctx, tx, Inventory, rec); err != nil {
		return domain.InventoryRecord{}, false, err
	}
	return rec, true, nil
}

func CachedInventory(ctx context.Context, r Reader, storeID string, productID string) (domain.InventoryRecord, error) {
	return Get[domain.InventoryRecord](ctx, r, Inventory, domain.InventoryKey(storeID, productID))
}

// PendingHints sums the optimistic decrements still held by queued entries,
// keyed by product id. skipRef excludes one entry. Products an entry already
// applied to remote stock are not counted.
func PendingHints(ctx context.Context, r Reader, storeID string, skipRef string) (map[string]int64, error) {
	entries, err := GetAll[domain.PendingEntry](ctx, r, Pending, storeID)
	if err != nil {
		return nil, err
	}
	hints := make(map[string]int64)
	for _, entry := range entries {
		if entry.ClientRef == skipRef || entry.State == domain.SyncStateSynced {
			continue
		}
		for _, line := range entry.Lines {
			if slices.Contains(entry.InventoryApplied, line.ProductID) {
				continue
			}
			hints[line.ProductID] += line.Quantity
		}
	}
	return hints, nil
}

// ReconcileInventory sets cached stock to the remote value minus pending
// hints. Remote records older than the cache are skipped.
func ReconcileInventory(ctx context.Context, tx Tx, storeID string, remote []domain.InventoryRecord, hints map[string]int64) (int, error) {
	changed := 0
	for _, rec := range remote {
		_, ok, err := UpdateCachedInventory(ctx, tx, rec.ProductID, storeID, rec.AvailableQty-hints[rec.ProductID], WithRemote(rec))
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// ReleaseEntry gives an unsynced entry's optimistic decrement back to cached
// stock. Products whose remote stock the entry already updated are skipped.
func ReleaseEntry(ctx context.Context, tx Tx, entry domain.PendingEntry) error {
	order, qty := entry.QuantityByProduct()
	for _, productID := range order {
		if slices.Contains(entry.InventoryApplied, productID) {
			continue
		}
		rec, err := CachedInventory(ctx, tx, entry.StoreID, productID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, _, err := UpdateCachedInventory(ctx, tx, productID, entry.StoreID, rec.AvailableQty+qty[productID]); err != nil {
			return err
		}
	}
	return nil
}
