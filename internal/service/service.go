package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/cart"
	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/dedup"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/identity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/metrics"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/scan"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
	"github.com/prinzana/sellyticsOffline-sub004/internal/syncengine"
	"github.com/prinzana/sellyticsOffline-sub004/internal/xid"
)

const (
	OfflineMessage = "saved locally, will sync"
	PartialMessage = "sale partly recorded, retry it from the pending queue"
)

var ErrCartNotFound = errors.New("cart not found")

type Service struct {
	local  store.LocalStore
	remote remote.Collaborator
	conn   *connectivity.Tracker
	dedup  *dedup.Service
	pusher *syncengine.Pusher
	logger *zap.Logger
	audit  *zap.Logger
	now    func() time.Time

	pipeline *scan.Pipeline
	keyGap   time.Duration

	mu     sync.Mutex
	carts  map[string]*cart.Cart
	wedges map[string]*scan.Wedge
}

type Option func(*Service)

func WithScanWindow(d time.Duration) Option {
	return func(s *Service) {
		s.pipeline = scan.New(s.applyScan, s.logger, scan.WithWindow(d))
	}
}

func WithKeyGap(d time.Duration) Option {
	return func(s *Service) { s.keyGap = d }
}

func New(local store.LocalStore, rc remote.Collaborator, conn *connectivity.Tracker, pusher *syncengine.Pusher, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		local:  local,
		remote: rc,
		conn:   conn,
		dedup:  dedup.New(local, rc, conn, logger),
		pusher: pusher,
		logger: logger.Named("service"),
		audit:  logger.Named("audit"),
		now:    func() time.Time { return time.Now().UTC() },
		keyGap: scan.DefaultKeyGap,
		carts:  make(map[string]*cart.Cart),
		wedges: make(map[string]*scan.Wedge),
	}
	s.pipeline = scan.New(s.applyScan, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Dedup() *dedup.Service { return s.dedup }

func (s *Service) Local() store.LocalStore { return s.local }

func (s *Service) NewCart(id domain.Identity) (*cart.Cart, error) {
	if id.StoreID == "" {
		return nil, domain.ConfigurationError("service.new_cart", "no store selected")
	}
	c := cart.New(xid.New("cart"), id, s.dedup)
	s.mu.Lock()
	s.carts[c.ID()] = c
	s.mu.Unlock()
	return c, nil
}

// Cart returns an open cart that belongs to the identity's store.
func (s *Service) Cart(id domain.Identity, cartID string) (*cart.Cart, error) {
	s.mu.Lock()
	c, ok := s.carts[cartID]
	s.mu.Unlock()
	if !ok || c.Identity().StoreID != id.StoreID {
		return nil, ErrCartNotFound
	}
	return c, nil
}

func (s *Service) DiscardCart(id domain.Identity, cartID string) error {
	c, err := s.Cart(id, cartID)
	if err != nil {
		return err
	}
	if c.State() != cart.StateCommitted {
		if err := c.Abort(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	delete(s.carts, cartID)
	delete(s.wedges, cartID)
	s.mu.Unlock()
	return nil
}

// ProcessScan is the single entry point for camera and manual codes.
func (s *Service) ProcessScan(ctx context.Context, id domain.Identity, in scan.Input) domain.ScanResult {
	if _, err := s.Cart(id, in.CartID); err != nil {
		return domain.ScanFailure{Reason: domain.KindValidation, Message: err.Error()}
	}
	return s.pipeline.ProcessCode(ctx, in)
}

// KeyboardInput relays keystrokes from a keyboard-wedge scanner bound to a
// cart through the same pipeline.
func (s *Service) KeyboardInput(ctx context.Context, id domain.Identity, target scan.Input, keys string) ([]domain.ScanResult, error) {
	if _, err := s.Cart(id, target.CartID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	w, ok := s.wedges[target.CartID]
	if !ok {
		w = scan.NewWedge(s.pipeline, s.keyGap)
		s.wedges[target.CartID] = w
	}
	s.mu.Unlock()
	return w.Type(ctx, keys, target), nil
}

// ApplyScan resolves code against the cached catalogue and places it on the
// cart, bypassing the debounce slot.
func (s *Service) ApplyScan(ctx context.Context, id domain.Identity, in scan.Input) domain.ScanResult {
	if _, err := s.Cart(id, in.CartID); err != nil {
		return domain.ScanFailure{Reason: domain.KindValidation, Message: err.Error()}
	}
	return s.applyScan(ctx, in)
}

func (s *Service) applyScan(ctx context.Context, in scan.Input) domain.ScanResult {
	s.mu.Lock()
	c, ok := s.carts[in.CartID]
	s.mu.Unlock()
	if !ok {
		return domain.ScanFailure{Reason: domain.KindValidation, Message: ErrCartNotFound.Error()}
	}

	product, deviceID, err := s.resolveCode(ctx, c, in)
	if err != nil {
		return domain.ScanFailureFrom(err)
	}
	res, err := c.ApplyScan(ctx, product, deviceID, "", in.LineID, in.RowKey)
	if err != nil {
		return domain.ScanFailureFrom(err)
	}
	return res
}

// resolveCode maps a scanned code to a product. Device identifiers win over
// barcodes; an unknown code on a row of a serialised line is taken as a new
// device of that line's product.
func (s *Service) resolveCode(ctx context.Context, c *cart.Cart, in scan.Input) (domain.Product, string, error) {
	const op = "service.scan"
	code := strings.TrimSpace(in.Code)
	products, err := store.GetAll[domain.Product](ctx, s.local, store.Products, c.Identity().StoreID)
	if err != nil {
		return domain.Product{}, "", err
	}

	for _, p := range products {
		if !p.IsUniqueTracked {
			continue
		}
		for _, known := range p.DeviceIdentifiers {
			if domain.SameDevice(known, code) {
				return p, code, nil
			}
		}
	}
	for _, p := range products {
		if strings.EqualFold(p.Barcode, code) || p.ID == code {
			if p.IsUniqueTracked {
				return domain.Product{}, "", domain.ValidationError(op, "%s is serialised; scan the device identifier", p.Name)
			}
			return p, "", nil
		}
	}

	if in.LineID != "" {
		for _, line := range c.View().Lines {
			if line.ID != in.LineID || !line.IsUnique {
				continue
			}
			for _, p := range products {
				if p.ID == line.ProductID {
					return p, code, nil
				}
			}
		}
	}
	return domain.Product{}, "", domain.ValidationError(op, "unknown code %q", code)
}

// CommitCart writes the cart's sale. Online the sale goes straight to the
// remote; any network failure on the way falls back to the pending queue
// with whatever the online attempt already pushed recorded as progress.
func (s *Service) CommitCart(ctx context.Context, id domain.Identity, cartID string) (domain.CommitOutcome, error) {
	c, err := s.Cart(id, cartID)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	draft, err := c.BeginCommit()
	if err != nil {
		return domain.CommitOutcome{}, err
	}

	entry := s.buildEntry(draft)

	if s.conn.Online() {
		outcome, err := s.commitOnline(ctx, &entry)
		switch {
		case err == nil:
			return s.finish(c, entry, outcome)
		case s.conn.Observe(err):
			s.logger.Warn("online commit failed, saving locally", zap.String("client_ref", entry.ClientRef), zap.Error(err))
		case entry.RemoteGroupID != "":
			// The group exists remotely. Queue the rest as a failed entry.
			s.logger.Warn("online commit stopped part way, keeping the sale for retry", zap.String("client_ref", entry.ClientRef), zap.Error(err))
			entry.State = domain.SyncStateFailed
			entry.LastError = err.Error()
			entry.ErrorKind = domain.KindOf(err)
			outcome, qerr := s.commitOffline(ctx, entry)
			if qerr != nil {
				_ = c.CancelCommit()
				return domain.CommitOutcome{}, errors.Join(err, qerr)
			}
			outcome.Message = PartialMessage
			return s.finish(c, entry, outcome)
		default:
			_ = c.CancelCommit()
			return domain.CommitOutcome{}, err
		}
	}

	outcome, err := s.commitOffline(ctx, entry)
	if err != nil {
		_ = c.CancelCommit()
		return domain.CommitOutcome{}, err
	}
	return s.finish(c, entry, outcome)
}

func (s *Service) finish(c *cart.Cart, entry domain.PendingEntry, outcome domain.CommitOutcome) (domain.CommitOutcome, error) {
	if err := c.FinishCommit(); err != nil {
		return domain.CommitOutcome{}, err
	}
	metrics.RecordCommit(string(outcome.Mode))
	s.auditLog(c.Identity(), "sale_commit", entry.ClientRef, zap.String("mode", string(outcome.Mode)), zap.Int64("total_cents", outcome.Total))
	return outcome, nil
}

func (s *Service) buildEntry(draft cart.Draft) domain.PendingEntry {
	now := s.now()
	ref := xid.New("sale")
	id := draft.Identity

	entry := domain.PendingEntry{
		ClientRef: ref,
		StoreID:   id.StoreID,
		Group: domain.SaleGroup{
			ClientRef:        ref,
			StoreID:          id.StoreID,
			TotalAmountCents: draft.TotalCents,
			PaymentMethod:    draft.PaymentMethod,
			CustomerID:       draft.CustomerID,
			CreatedByUserID:  id.UserID,
			CreatedAt:        now,
		},
		State:           domain.SyncStateCreated,
		CreatedByUserID: id.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, line := range draft.Lines {
		entry.Lines = append(entry.Lines, domain.SaleLine{
			ClientLineRef:   fmt.Sprintf("%s-%d", ref, i+1),
			SaleGroupRef:    ref,
			StoreID:         id.StoreID,
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			UnitPriceCents:  line.UnitPriceCents,
			AmountCents:     line.AmountCents,
			DeviceIDs:       slices.Clone(line.DeviceIDs),
			DeviceSizes:     slices.Clone(line.DeviceSizes),
			CreatedByUserID: id.UserID,
			SyncState:       domain.SyncStateCreated,
		})
	}
	return entry
}

func (s *Service) commitOnline(ctx context.Context, entry *domain.PendingEntry) (domain.CommitOutcome, error) {
	sale, inventory, err := s.pusher.Push(ctx, entry, nil)
	if err != nil {
		return domain.CommitOutcome{}, err
	}
	err = s.local.Update(ctx, func(tx store.Tx) error {
		if err := store.Put(ctx, tx, store.SyncedSales, sale); err != nil {
			return err
		}
		hints, err := store.PendingHints(ctx, tx, entry.StoreID, "")
		if err != nil {
			return err
		}
		_, err = store.ReconcileInventory(ctx, tx, entry.StoreID, inventory, hints)
		return err
	})
	if err != nil {
		return domain.CommitOutcome{}, fmt.Errorf("cache committed sale: %w", err)
	}
	return domain.CommitOutcome{
		Mode:      domain.CommitOnline,
		ClientRef: entry.ClientRef,
		SaleID:    sale.Group.ID,
		Total:     sale.Group.TotalAmountCents,
		Message:   "sale recorded",
	}, nil
}

// commitOffline queues the sale in its current state and takes the units not
// yet applied remotely out of cached stock, in one local transaction.
func (s *Service) commitOffline(ctx context.Context, entry domain.PendingEntry) (domain.CommitOutcome, error) {
	err := s.local.Update(ctx, func(tx store.Tx) error {
		if err := store.Put(ctx, tx, store.Pending, entry); err != nil {
			return err
		}
		order, qty := entry.QuantityByProduct()
		for _, productID := range order {
			if slices.Contains(entry.InventoryApplied, productID) {
				continue
			}
			var available int64
			rec, err := store.CachedInventory(ctx, tx, entry.StoreID, productID)
			switch {
			case err == nil:
				available = rec.AvailableQty
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			if _, _, err := store.UpdateCachedInventory(ctx, tx, productID, entry.StoreID, available-qty[productID], store.WithSoldDelta(qty[productID])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.CommitOutcome{}, fmt.Errorf("queue sale: %w", err)
	}
	s.reportDepth(ctx, entry.StoreID)
	return domain.CommitOutcome{
		Mode:      domain.CommitOffline,
		ClientRef: entry.ClientRef,
		Total:     entry.Group.TotalAmountCents,
		Message:   OfflineMessage,
	}, nil
}

type WarmReport struct {
	Products  int `json:"products"`
	Inventory int `json:"inventory"`
	Customers int `json:"customers"`
	Sales     int `json:"sales"`
}

// WarmCache pulls the store's catalogue, stock, customers and synced sales
// into the local cache in one transaction. Cached stock keeps the decrements
// of sales still in the queue.
func (s *Service) WarmCache(ctx context.Context, id domain.Identity) (WarmReport, error) {
	if id.StoreID == "" {
		return WarmReport{}, domain.ConfigurationError("service.warm_cache", "no store selected")
	}
	products, err := s.remote.FetchProducts(ctx, id.StoreID)
	if err != nil {
		s.conn.Observe(err)
		return WarmReport{}, err
	}
	inventory, err := s.remote.FetchInventory(ctx, id.StoreID)
	if err != nil {
		s.conn.Observe(err)
		return WarmReport{}, err
	}
	customers, err := s.remote.FetchCustomers(ctx, id.StoreID)
	if err != nil {
		s.conn.Observe(err)
		return WarmReport{}, err
	}
	sales, err := s.remote.FetchSyncedSales(ctx, id.StoreID)
	if err != nil {
		s.conn.Observe(err)
		return WarmReport{}, err
	}
	s.conn.SetOnline(true)

	report := WarmReport{Products: len(products), Customers: len(customers), Sales: len(sales)}
	err = s.local.Update(ctx, func(tx store.Tx) error {
		if err := store.UpsertMany(ctx, tx, store.Products, products); err != nil {
			return err
		}
		if err := store.UpsertMany(ctx, tx, store.Customers, customers); err != nil {
			return err
		}
		if err := store.UpsertMany(ctx, tx, store.SyncedSales, sales); err != nil {
			return err
		}
		hints, err := store.PendingHints(ctx, tx, id.StoreID, "")
		if err != nil {
			return err
		}
		report.Inventory, err = store.ReconcileInventory(ctx, tx, id.StoreID, inventory, hints)
		return err
	})
	if err != nil {
		return WarmReport{}, fmt.Errorf("warm cache: %w", err)
	}
	s.logger.Info("cache warmed",
		zap.String("store_id", id.StoreID),
		zap.Int("products", report.Products),
		zap.Int("inventory_changed", report.Inventory),
		zap.Int("sales", report.Sales),
	)
	return report, nil
}

type ProductView struct {
	domain.Product
	AvailableQty int64 `json:"available_qty"`
}

// Catalogue lists cached products with their cached stock.
func (s *Service) Catalogue(ctx context.Context, id domain.Identity) ([]ProductView, error) {
	products, err := store.GetAll[domain.Product](ctx, s.local, store.Products, id.StoreID)
	if err != nil {
		return nil, err
	}
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		view := ProductView{Product: p}
		rec, err := store.CachedInventory(ctx, s.local, id.StoreID, p.ID)
		switch {
		case err == nil:
			view.AvailableQty = rec.AvailableQty
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		out = append(out, view)
	}
	slices.SortStableFunc(out, func(a, b ProductView) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Service) Customers(ctx context.Context, id domain.Identity) ([]domain.Customer, error) {
	return store.GetAll[domain.Customer](ctx, s.local, store.Customers, id.StoreID)
}

type SaleView struct {
	ClientRef  string            `json:"client_ref"`
	SaleID     string            `json:"sale_id,omitempty"`
	Group      domain.SaleGroup  `json:"group"`
	Lines      []domain.SaleLine `json:"lines"`
	State      domain.SyncState  `json:"state"`
	Version    int64             `json:"version,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	Permission domain.Permission `json:"permission"`
}

// PendingSales lists the queue entries the identity may see, oldest first.
func (s *Service) PendingSales(ctx context.Context, id domain.Identity) ([]SaleView, error) {
	entries, err := store.GetAll[domain.PendingEntry](ctx, s.local, store.Pending, id.StoreID)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b domain.PendingEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })

	out := make([]SaleView, 0, len(entries))
	for _, entry := range entries {
		perm := identity.ComputePermission(entry, id)
		if !perm.CanView {
			continue
		}
		out = append(out, SaleView{
			ClientRef:  entry.ClientRef,
			Group:      entry.Group,
			Lines:      entry.Lines,
			State:      entry.State,
			LastError:  entry.LastError,
			Permission: perm,
		})
	}
	return out, nil
}

// FilteredSalesForIdentity merges synced and pending sales, newest first,
// dropping everything the identity may not view.
func (s *Service) FilteredSalesForIdentity(ctx context.Context, id domain.Identity) ([]SaleView, error) {
	out, err := s.PendingSales(ctx, id)
	if err != nil {
		return nil, err
	}
	synced, err := store.GetAll[domain.SyncedSale](ctx, s.local, store.SyncedSales, id.StoreID)
	if err != nil {
		return nil, err
	}
	for _, sale := range synced {
		perm := identity.ComputePermission(sale, id)
		if !perm.CanView {
			continue
		}
		out = append(out, SaleView{
			ClientRef:  sale.Group.ClientRef,
			SaleID:     sale.Group.ID,
			Group:      sale.Group,
			Lines:      sale.Lines,
			State:      domain.SyncStateSynced,
			Version:    sale.Version,
			Permission: perm,
		})
	}
	slices.SortStableFunc(out, func(a, b SaleView) int { return b.Group.CreatedAt.Compare(a.Group.CreatedAt) })
	return out, nil
}

// QueueCount counts entries not yet synced.
func (s *Service) QueueCount(ctx context.Context, storeID string) (int, error) {
	entries, err := store.GetAll[domain.PendingEntry](ctx, s.local, store.Pending, storeID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.State != domain.SyncStateSynced {
			n++
		}
	}
	return n, nil
}

// DeletePending removes a never-synced sale from the queue and returns its
// units to cached stock. It works offline.
func (s *Service) DeletePending(ctx context.Context, id domain.Identity, clientRef string) error {
	const op = "service.delete_pending"
	var entry domain.PendingEntry
	err := s.local.Update(ctx, func(tx store.Tx) error {
		var err error
		entry, err = store.Get[domain.PendingEntry](ctx, tx, store.Pending, clientRef)
		if err != nil {
			return err
		}
		if !identity.ComputePermission(entry, id).CanDelete {
			return domain.PermissionError(op, "not allowed to delete this sale")
		}
		switch {
		case entry.State == domain.SyncStateSyncing:
			return domain.ValidationError(op, "sale %s is being synced", clientRef)
		case entry.RemoteGroupID != "":
			return domain.ConflictError(op, "sale %s is already partly on the server; sync it first", clientRef)
		}
		if err := store.ReleaseEntry(ctx, tx, entry); err != nil {
			return err
		}
		return tx.Delete(ctx, store.Pending, clientRef)
	})
	if err != nil {
		return err
	}
	s.reportDepth(ctx, id.StoreID)
	s.auditLog(id, "pending_delete", clientRef, zap.Int64("total_cents", entry.Group.TotalAmountCents))
	return nil
}

// DeleteSale deletes a synced sale on the remote and drops it from the
// mirror. Only available online.
func (s *Service) DeleteSale(ctx context.Context, id domain.Identity, saleID string) error {
	const op = "service.delete_sale"
	sale, err := s.syncedSale(ctx, saleID)
	if err != nil {
		return err
	}
	if !identity.ComputePermission(sale, id).CanDelete {
		return domain.PermissionError(op, "not allowed to delete this sale")
	}
	if !s.conn.Online() {
		return domain.NetworkError(op, errors.New("deleting a synced sale needs a connection"))
	}
	if err := s.remote.DeleteSale(ctx, saleID); err != nil {
		s.conn.Observe(err)
		return err
	}
	if err := store.Remove(ctx, s.local, store.SyncedSales, saleID); err != nil {
		return err
	}
	s.refreshInventory(ctx, id.StoreID)
	s.auditLog(id, "sale_delete", saleID, zap.String("client_ref", sale.Group.ClientRef))
	return nil
}

// UpdateSale patches a synced sale on the remote and stores the new version.
func (s *Service) UpdateSale(ctx context.Context, id domain.Identity, saleID string, patch domain.SalePatch) (domain.SyncedSale, error) {
	const op = "service.update_sale"
	sale, err := s.syncedSale(ctx, saleID)
	if err != nil {
		return domain.SyncedSale{}, err
	}
	if !identity.ComputePermission(sale, id).CanEdit {
		return domain.SyncedSale{}, domain.PermissionError(op, "not allowed to edit this sale")
	}
	if patch.PaymentMethod != nil && strings.TrimSpace(*patch.PaymentMethod) == "" {
		return domain.SyncedSale{}, domain.ValidationError(op, "payment method cannot be empty")
	}
	if !s.conn.Online() {
		return domain.SyncedSale{}, domain.NetworkError(op, errors.New("editing a synced sale needs a connection"))
	}
	updated, err := s.remote.UpdateSale(ctx, saleID, patch)
	if err != nil {
		s.conn.Observe(err)
		return domain.SyncedSale{}, err
	}
	if updated.Version <= sale.Version {
		updated.Version = sale.Version + 1
	}
	if err := store.Save(ctx, s.local, store.SyncedSales, []domain.SyncedSale{updated}); err != nil {
		return domain.SyncedSale{}, err
	}
	s.auditLog(id, "sale_update", saleID, zap.Int64("version", updated.Version))
	return updated, nil
}

func (s *Service) syncedSale(ctx context.Context, saleID string) (domain.SyncedSale, error) {
	return store.Get[domain.SyncedSale](ctx, s.local, store.SyncedSales, saleID)
}

// refreshInventory re-reads remote stock after a remote-side change. Failures
// only cost freshness.
func (s *Service) refreshInventory(ctx context.Context, storeID string) {
	inventory, err := s.remote.FetchInventory(ctx, storeID)
	if err != nil {
		s.conn.Observe(err)
		return
	}
	err = s.local.Update(ctx, func(tx store.Tx) error {
		hints, err := store.PendingHints(ctx, tx, storeID, "")
		if err != nil {
			return err
		}
		_, err = store.ReconcileInventory(ctx, tx, storeID, inventory, hints)
		return err
	})
	if err != nil {
		s.logger.Warn("inventory refresh failed", zap.String("store_id", storeID), zap.Error(err))
	}
}

func (s *Service) reportDepth(ctx context.Context, storeID string) {
	if n, err := s.QueueCount(ctx, storeID); err == nil {
		metrics.SetQueueDepth(storeID, n)
	}
}

func (s *Service) auditLog(id domain.Identity, action string, entityID string, fields ...zap.Field) {
	actor := id.UserID
	if actor == "" {
		actor = "system"
	}
	s.audit.Info(action, append([]zap.Field{
		zap.String("store_id", id.StoreID),
		zap.String("actor", actor),
		zap.Bool("owner", id.IsOwner),
		zap.String("entity_id", entityID),
	}, fields...)...)
}
