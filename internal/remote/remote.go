// Package remote defines the system of record the terminal syncs against.
package remote

import (
	"context"
	"errors"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

var (
	// ErrAlreadyExists is returned with the existing group when a clientRef
	// was already written.
	ErrAlreadyExists = errors.New("already exists for client ref")
	ErrNotFound      = errors.New("remote record not found")
)

type Collaborator interface {
	CreateSaleGroup(ctx context.Context, group domain.SaleGroup) (domain.SaleGroup, error)
	// CreateSaleLinesBulk upserts by ClientLineRef in one round trip.
	CreateSaleLinesBulk(ctx context.Context, lines []domain.SaleLine) ([]domain.SaleLine, error)
	UpdateInventoryQty(ctx context.Context, inventoryID string, newQty int64) (domain.InventoryRecord, error)
	IsDeviceSold(ctx context.Context, deviceID string, storeID string) (bool, error)
	FindSaleGroupByClientRef(ctx context.Context, storeID string, clientRef string) (domain.SyncedSale, error)

	FetchProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	FetchInventory(ctx context.Context, storeID string) ([]domain.InventoryRecord, error)
	FetchCustomers(ctx context.Context, storeID string) ([]domain.Customer, error)
	FetchSyncedSales(ctx context.Context, storeID string) ([]domain.SyncedSale, error)

	DeleteSale(ctx context.Context, saleID string) error
	UpdateSale(ctx context.Context, saleID string, patch domain.SalePatch) (domain.SyncedSale, error)
	Ping(ctx context.Context) error
}

func InventoryFor(records []domain.InventoryRecord, productID string) (domain.InventoryRecord, bool) {
	for _, rec := range records {
		if rec.ProductID == productID {
			return rec, true
		}
	}
	return domain.InventoryRecord{}, false
}
