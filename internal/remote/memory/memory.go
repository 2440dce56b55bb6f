// Package memory is an in-process system of record used by the demo mode
// and by tests that need to count remote writes.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/xid"
)

var errOffline = errors.New("remote unreachable")

type Stats struct {
	GroupsCreated    int
	LinesWritten     int
	InventoryUpdates int
}

type Backend struct {
	mu          sync.RWMutex
	online      bool
	products    map[string]domain.Product
	inventory   map[string]domain.InventoryRecord
	customers   map[string]domain.Customer
	groups      map[string]domain.SaleGroup
	groupsByRef map[string]string
	lines       map[string]domain.SaleLine
	versions    map[string]int64
	stats       Stats
	failures    map[string]error
}

func New() *Backend {
	return &Backend{
		online:      true,
		products:    make(map[string]domain.Product),
		inventory:   make(map[string]domain.InventoryRecord),
		customers:   make(map[string]domain.Customer),
		groups:      make(map[string]domain.SaleGroup),
		groupsByRef: make(map[string]string),
		lines:       make(map[string]domain.SaleLine),
		versions:    make(map[string]int64),
		failures:    make(map[string]error),
	}
}

// NewSeeded returns a backend with a small demo catalogue for storeID.
func NewSeeded(storeID string) *Backend {
	b := New()
	b.SeedProduct(domain.Product{
		ID:                "prd-phone-a15",
		StoreID:           storeID,
		Name:              "Galaxy A15",
		Barcode:           "8806095",
		IsUniqueTracked:   true,
		SellingPriceCents: 250000000,
		DeviceIdentifiers: []string{"IMEI-350000000000001", "IMEI-350000000000002", "IMEI-350000000000003"},
	}, 3)
	b.SeedProduct(domain.Product{
		ID:                "prd-case-a15",
		StoreID:           storeID,
		Name:              "Silicone Case A15",
		Barcode:           "8991234",
		SellingPriceCents: 7500000,
	}, 40)
	b.SeedProduct(domain.Product{
		ID:                "prd-charger-25w",
		StoreID:           storeID,
		Name:              "Charger 25W",
		Barcode:           "8997001",
		SellingPriceCents: 19900000,
	}, 15)
	b.SeedCustomer(domain.Customer{ID: "cus-walkin", StoreID: storeID, Name: "Walk-in"})
	return b
}

func (b *Backend) SeedProduct(p domain.Product, qty int64) domain.InventoryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.products[p.ID] = p
	rec := domain.InventoryRecord{
		ID:           xid.New("inv"),
		StoreID:      p.StoreID,
		ProductID:    p.ID,
		AvailableQty: qty,
		Version:      1,
		UpdatedAt:    time.Now().UTC(),
	}
	b.inventory[rec.ID] = rec
	return rec
}

func (b *Backend) SeedCustomer(c domain.Customer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.customers[c.ID] = c
}

func (b *Backend) SetOnline(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = online
}

// FailNext makes the next call of op return err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

func (b *Backend) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

func (b *Backend) Inventory(productID string) (domain.InventoryRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, rec := range b.inventory {
		if rec.ProductID == productID {
			return rec, true
		}
	}
	return domain.InventoryRecord{}, false
}

// SetAvailable changes stock behind the terminal's back, as another till would.
func (b *Backend) SetAvailable(productID string, qty int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, rec := range b.inventory {
		if rec.ProductID == productID {
			rec.AvailableQty = qty
			rec.Version++
			b.inventory[id] = rec
		}
	}
}

// check must be called with mu held.
func (b *Backend) check(op string) error {
	if !b.online {
		return domain.NetworkError(op, errOffline)
	}
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

func (b *Backend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.check("ping")
}

func (b *Backend) CreateSaleGroup(_ context.Context, group domain.SaleGroup) (domain.SaleGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("create_sale_group"); err != nil {
		return domain.SaleGroup{}, err
	}
	if id, ok := b.groupsByRef[group.ClientRef]; ok {
		return b.groups[id], remote.ErrAlreadyExists
	}
	group.ID = xid.New("sale")
	b.groups[group.ID] = group
	b.groupsByRef[group.ClientRef] = group.ID
	b.versions[group.ID] = 1
	b.stats.GroupsCreated++
	return group, nil
}

func (b *Backend) CreateSaleLinesBulk(_ context.Context, lines []domain.SaleLine) ([]domain.SaleLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("create_sale_lines"); err != nil {
		return nil, err
	}
	out := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if _, ok := b.groups[line.SaleGroupID]; !ok {
			return nil, domain.ConflictError("create_sale_lines", "unknown sale group %q", line.SaleGroupID)
		}
		if existing, ok := b.lines[line.ClientLineRef]; ok {
			out = append(out, existing)
			continue
		}
		line.ID = xid.New("line")
		line.SyncState = domain.SyncStateSynced
		b.lines[line.ClientLineRef] = line
		b.stats.LinesWritten++
		out = append(out, line)
	}
	return out, nil
}

func (b *Backend) UpdateInventoryQty(_ context.Context, inventoryID string, newQty int64) (domain.InventoryRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("update_inventory"); err != nil {
		return domain.InventoryRecord{}, err
	}
	rec, ok := b.inventory[inventoryID]
	if !ok {
		return domain.InventoryRecord{}, remote.ErrNotFound
	}
	if newQty < 0 {
		return domain.InventoryRecord{}, domain.ConflictError("update_inventory", "available quantity would be %d", newQty)
	}
	if newQty < rec.AvailableQty {
		rec.QuantitySold += rec.AvailableQty - newQty
	}
	rec.AvailableQty = newQty
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	b.inventory[inventoryID] = rec
	b.stats.InventoryUpdates++
	return rec, nil
}

func (b *Backend) IsDeviceSold(_ context.Context, deviceID string, storeID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("is_device_sold"); err != nil {
		return false, err
	}
	for _, line := range b.lines {
		if line.StoreID != storeID {
			continue
		}
		for _, sold := range line.DeviceIDs {
			if domain.SameDevice(sold, deviceID) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (b *Backend) FindSaleGroupByClientRef(_ context.Context, storeID string, clientRef string) (domain.SyncedSale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("find_sale_group"); err != nil {
		return domain.SyncedSale{}, err
	}
	id, ok := b.groupsByRef[clientRef]
	if !ok || b.groups[id].StoreID != storeID {
		return domain.SyncedSale{}, remote.ErrNotFound
	}
	return b.saleLocked(id), nil
}

func (b *Backend) FetchProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("fetch_products"); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(b.products))
	for _, p := range b.products {
		if p.StoreID == storeID {
			p.DeviceIdentifiers = slices.Clone(p.DeviceIdentifiers)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, c domain.Product) int { return cmp.Compare(a.ID, c.ID) })
	return out, nil
}

func (b *Backend) FetchInventory(_ context.Context, storeID string) ([]domain.InventoryRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("fetch_inventory"); err != nil {
		return nil, err
	}
	out := make([]domain.InventoryRecord, 0, len(b.inventory))
	for _, rec := range b.inventory {
		if rec.StoreID == storeID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, c domain.InventoryRecord) int { return cmp.Compare(a.ProductID, c.ProductID) })
	return out, nil
}

func (b *Backend) FetchCustomers(_ context.Context, storeID string) ([]domain.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("fetch_customers"); err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(b.customers))
	for _, c := range b.customers {
		if c.StoreID == storeID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, c domain.Customer) int { return cmp.Compare(a.ID, c.ID) })
	return out, nil
}

func (b *Backend) FetchSyncedSales(_ context.Context, storeID string) ([]domain.SyncedSale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("fetch_synced_sales"); err != nil {
		return nil, err
	}
	out := make([]domain.SyncedSale, 0, len(b.groups))
	for id, g := range b.groups {
		if g.StoreID == storeID {
			out = append(out, b.saleLocked(id))
		}
	}
	slices.SortFunc(out, func(a, c domain.SyncedSale) int { return a.Group.CreatedAt.Compare(c.Group.CreatedAt) })
	return out, nil
}

func (b *Backend) DeleteSale(_ context.Context, saleID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("delete_sale"); err != nil {
		return err
	}
	g, ok := b.groups[saleID]
	if !ok {
		return remote.ErrNotFound
	}
	for ref, line := range b.lines {
		if line.SaleGroupID == saleID {
			delete(b.lines, ref)
		}
	}
	delete(b.groupsByRef, g.ClientRef)
	delete(b.groups, saleID)
	delete(b.versions, saleID)
	return nil
}

func (b *Backend) UpdateSale(_ context.Context, saleID string, patch domain.SalePatch) (domain.SyncedSale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("update_sale"); err != nil {
		return domain.SyncedSale{}, err
	}
	g, ok := b.groups[saleID]
	if !ok {
		return domain.SyncedSale{}, remote.ErrNotFound
	}
	if patch.PaymentMethod != nil {
		g.PaymentMethod = *patch.PaymentMethod
	}
	if patch.CustomerID != nil {
		g.CustomerID = *patch.CustomerID
	}
	b.groups[saleID] = g
	b.versions[saleID]++
	return b.saleLocked(saleID), nil
}

func (b *Backend) saleLocked(groupID string) domain.SyncedSale {
	sale := domain.SyncedSale{Group: b.groups[groupID], Version: b.versions[groupID], SyncedAt: time.Now().UTC()}
	for _, line := range b.lines {
		if line.SaleGroupID == groupID {
			line.DeviceIDs = slices.Clone(line.DeviceIDs)
			sale.Lines = append(sale.Lines, line)
		}
	}
	slices.SortFunc(sale.Lines, func(a, c domain.SaleLine) int { return cmp.Compare(a.ClientLineRef, c.ClientLineRef) })
	return sale
}

var _ remote.Collaborator = (*Backend)(nil)
