package syncengine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
)

// CheckpointError wraps a failure to persist progress locally. The sync loop
// treats it as a store failure and aborts.
type CheckpointError struct {
	Err error
}

func (e *CheckpointError) Error() string { return "save sync checkpoint: " + e.Err.Error() }
func (e *CheckpointError) Unwrap() error { return e.Err }

// Checkpoint persists entry after each remote step. Nil skips persistence,
// as the online commit path does.
type Checkpoint func(ctx context.Context, entry domain.PendingEntry) error

// Pusher writes one sale to the system of record in a fixed order: device
// check, stock pre-check, group, lines, stock updates. Progress is recorded
// on the entry so a retried push skips the steps that already landed.
//
// Stock updates write an absolute quantity computed from a fetched snapshot,
// so pushes for the same store run one at a time.
type Pusher struct {
	remote remote.Collaborator
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	stores map[string]chan struct{}
}

func NewPusher(rc remote.Collaborator, logger *zap.Logger) *Pusher {
	return &Pusher{
		remote: rc,
		logger: logger.Named("push"),
		now:    func() time.Time { return time.Now().UTC() },
		stores: make(map[string]chan struct{}),
	}
}

// Push returns the synced sale and the remote inventory snapshot, with the
// records this push changed replaced by their updated versions. It waits for
// any other push of the same store to finish first.
func (p *Pusher) Push(ctx context.Context, entry *domain.PendingEntry, save Checkpoint) (domain.SyncedSale, []domain.InventoryRecord, error) {
	const op = "sync.push"

	unlock, err := p.lockStore(ctx, entry.StoreID)
	if err != nil {
		return domain.SyncedSale{}, nil, err
	}
	defer unlock()

	if !entry.LinesPushed {
		if err := p.checkDevices(ctx, entry); err != nil {
			return domain.SyncedSale{}, nil, err
		}
	}

	inventory, err := p.remote.FetchInventory(ctx, entry.StoreID)
	if err != nil {
		return domain.SyncedSale{}, nil, err
	}
	if err := p.settleTargets(ctx, entry, inventory, save); err != nil {
		return domain.SyncedSale{}, nil, err
	}
	order, qty := entry.QuantityByProduct()
	for _, productID := range order {
		if slices.Contains(entry.InventoryApplied, productID) {
			continue
		}
		rec, ok := remote.InventoryFor(inventory, productID)
		if !ok {
			return domain.SyncedSale{}, nil, domain.ConflictError(op, "no remote stock record for product %s", productID)
		}
		if rec.AvailableQty-qty[productID] < 0 {
			return domain.SyncedSale{}, nil, domain.ConflictError(op, "product %s has %d available, sale needs %d", productID, rec.AvailableQty, qty[productID])
		}
	}

	if entry.RemoteGroupID == "" {
		group, err := p.remote.CreateSaleGroup(ctx, entry.Group)
		switch {
		case errors.Is(err, remote.ErrAlreadyExists):
			p.logger.Info("sale group already on remote", zap.String("client_ref", entry.ClientRef))
			if group.ID == "" {
				existing, err := p.remote.FindSaleGroupByClientRef(ctx, entry.StoreID, entry.ClientRef)
				if err != nil {
					return domain.SyncedSale{}, nil, err
				}
				group = existing.Group
			}
		case err != nil:
			return domain.SyncedSale{}, nil, err
		}
		entry.RemoteGroupID = group.ID
		if err := p.checkpoint(ctx, entry, save); err != nil {
			return domain.SyncedSale{}, nil, err
		}
	}

	lines := make([]domain.SaleLine, len(entry.Lines))
	for i, line := range entry.Lines {
		line.SaleGroupID = entry.RemoteGroupID
		line.SaleGroupRef = entry.ClientRef
		lines[i] = line
	}
	if !entry.LinesPushed {
		pushed, err := p.remote.CreateSaleLinesBulk(ctx, lines)
		if err != nil {
			return domain.SyncedSale{}, nil, err
		}
		if len(pushed) == len(lines) {
			for i := range lines {
				lines[i].ID = pushed[i].ID
			}
		}
		entry.LinesPushed = true
		if err := p.checkpoint(ctx, entry, save); err != nil {
			return domain.SyncedSale{}, nil, err
		}
	}

	for _, productID := range order {
		if slices.Contains(entry.InventoryApplied, productID) {
			continue
		}
		rec, _ := remote.InventoryFor(inventory, productID)
		setTarget(entry, domain.InventoryTarget{
			ProductID:   productID,
			InventoryID: rec.ID,
			FromVersion: rec.Version,
			FromQty:     rec.AvailableQty,
			ToQty:       rec.AvailableQty - qty[productID],
		})
		if err := p.checkpoint(ctx, entry, save); err != nil {
			return domain.SyncedSale{}, nil, err
		}
		updated, err := p.remote.UpdateInventoryQty(ctx, rec.ID, rec.AvailableQty-qty[productID])
		if err != nil {
			return domain.SyncedSale{}, nil, err
		}
		inventory = replaceRecord(inventory, updated)
		entry.InventoryApplied = append(entry.InventoryApplied, productID)
		if err := p.checkpoint(ctx, entry, save); err != nil {
			return domain.SyncedSale{}, nil, err
		}
	}

	for i := range lines {
		lines[i].SyncState = domain.SyncStateSynced
	}
	group := entry.Group
	group.ID = entry.RemoteGroupID
	return domain.SyncedSale{Group: group, Lines: lines, Version: 1, SyncedAt: p.now()}, inventory, nil
}

func (p *Pusher) lockStore(ctx context.Context, storeID string) (func(), error) {
	p.mu.Lock()
	sem, ok := p.stores[storeID]
	if !ok {
		sem = make(chan struct{}, 1)
		p.stores[storeID] = sem
	}
	p.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settleTargets resolves stock writes sent by an earlier attempt whose result
// was never checkpointed. A record still at the version seen before the write
// was not touched and is written again. A newer record holding the target
// quantity means the write landed. Anything else cannot be told apart from a
// concurrent change and fails the entry.
func (p *Pusher) settleTargets(ctx context.Context, entry *domain.PendingEntry, inventory []domain.InventoryRecord, save Checkpoint) error {
	for _, target := range entry.InventoryTargets {
		if slices.Contains(entry.InventoryApplied, target.ProductID) {
			continue
		}
		rec, ok := remote.InventoryFor(inventory, target.ProductID)
		if !ok || rec.ID != target.InventoryID || rec.Version == target.FromVersion {
			continue
		}
		if rec.AvailableQty != target.ToQty {
			return domain.ConflictError("sync.push", "stock of product %s moved from %d to %d while a write of %d was unconfirmed",
				target.ProductID, target.FromQty, rec.AvailableQty, target.ToQty)
		}
		p.logger.Info("stock write already applied",
			zap.String("client_ref", entry.ClientRef),
			zap.String("product_id", target.ProductID),
			zap.Int64("available_qty", rec.AvailableQty))
		entry.InventoryApplied = append(entry.InventoryApplied, target.ProductID)
		if err := p.checkpoint(ctx, entry, save); err != nil {
			return err
		}
	}
	return nil
}

func setTarget(entry *domain.PendingEntry, target domain.InventoryTarget) {
	for i := range entry.InventoryTargets {
		if entry.InventoryTargets[i].ProductID == target.ProductID {
			entry.InventoryTargets[i] = target
			return
		}
	}
	entry.InventoryTargets = append(entry.InventoryTargets, target)
}

// checkDevices fails when a device on the entry was sold by another sale.
// A hit that belongs to this entry's own group is a leftover of an earlier
// attempt whose checkpoint was lost.
func (p *Pusher) checkDevices(ctx context.Context, entry *domain.PendingEntry) error {
	var own *domain.SyncedSale
	for _, line := range entry.Lines {
		for _, deviceID := range line.DeviceIDs {
			sold, err := p.remote.IsDeviceSold(ctx, deviceID, entry.StoreID)
			if err != nil {
				return err
			}
			if !sold {
				continue
			}
			if own == nil {
				found, err := p.remote.FindSaleGroupByClientRef(ctx, entry.StoreID, entry.ClientRef)
				switch {
				case errors.Is(err, remote.ErrNotFound):
					return domain.DuplicateDeviceError("sync.push", deviceID)
				case err != nil:
					return err
				}
				own = &found
			}
			if !saleHasDevice(*own, deviceID) {
				return domain.DuplicateDeviceError("sync.push", deviceID)
			}
		}
	}
	return nil
}

func (p *Pusher) checkpoint(ctx context.Context, entry *domain.PendingEntry, save Checkpoint) error {
	if save == nil {
		return nil
	}
	entry.UpdatedAt = p.now()
	if err := save(ctx, *entry); err != nil {
		return &CheckpointError{Err: err}
	}
	return nil
}

func saleHasDevice(sale domain.SyncedSale, deviceID string) bool {
	for _, line := range sale.Lines {
		for _, id := range line.DeviceIDs {
			if domain.SameDevice(id, deviceID) {
				return true
			}
		}
	}
	return false
}

func replaceRecord(records []domain.InventoryRecord, rec domain.InventoryRecord) []domain.InventoryRecord {
	for i := range records {
		if records[i].ProductID == rec.ProductID {
			records[i] = rec
			return records
		}
	}
	return append(records, rec)
}
