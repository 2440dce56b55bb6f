package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	remotemem "github.com/prinzana/sellyticsOffline-sub004/internal/remote/memory"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store/memory"
)

const storeID = "store-a"

type fixture struct {
	svc    *Service
	local  *memory.Store
	remote *remotemem.Backend
	conn   *connectivity.Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	local := memory.New()
	rb := remotemem.New()
	conn := connectivity.NewTracker(zap.NewNop())
	return fixture{svc: New(local, rb, conn, zap.NewNop()), local: local, remote: rb, conn: conn}
}

func (f fixture) queue(t *testing.T, ref string, devices ...string) {
	t.Helper()
	entry := domain.PendingEntry{
		ClientRef: ref,
		StoreID:   storeID,
		State:     domain.SyncStateCreated,
		Lines:     []domain.SaleLine{{ClientLineRef: ref + "-1", ProductID: "p-phone", Quantity: int64(len(devices)), DeviceIDs: devices}},
	}
	require.NoError(t, store.Save(context.Background(), f.local, store.Pending, []domain.PendingEntry{entry}))
}

func TestIsDeviceSoldFindsPendingWithNormalisation(t *testing.T) {
	f := newFixture(t)
	f.queue(t, "ref-1", "IMEI-0001")

	sold, err := f.svc.IsDeviceSold(context.Background(), "  imei-0001 ", storeID)
	require.NoError(t, err)
	assert.True(t, sold)

	sold, err = f.svc.IsDeviceSold(context.Background(), "IMEI-0001", "store-b")
	require.NoError(t, err)
	assert.False(t, sold, "other stores are partitioned")
}

func TestIsDeviceSoldFindsSyncedMirror(t *testing.T) {
	f := newFixture(t)
	sale := domain.SyncedSale{
		Group: domain.SaleGroup{ID: "sale-1", StoreID: storeID},
		Lines: []domain.SaleLine{{DeviceIDs: []string{"SN-77"}}},
	}
	require.NoError(t, store.Save(context.Background(), f.local, store.SyncedSales, []domain.SyncedSale{sale}))

	sold, err := f.svc.IsDeviceSold(context.Background(), "sn-77", storeID)
	require.NoError(t, err)
	assert.True(t, sold)
}

func TestIsDeviceSoldLocalHitSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	f.queue(t, "ref-1", "IMEI-9")
	f.remote.FailNext("is_device_sold", domain.NetworkError("is_device_sold", assert.AnError))

	sold, err := f.svc.IsDeviceSold(context.Background(), "IMEI-9", storeID)
	require.NoError(t, err)
	assert.True(t, sold)
	assert.True(t, f.conn.Online(), "remote must not have been called")
}

func TestIsDeviceSoldRemoteFailureGoesOffline(t *testing.T) {
	f := newFixture(t)
	f.remote.SetOnline(false)

	sold, err := f.svc.IsDeviceSold(context.Background(), "IMEI-404", storeID)
	require.NoError(t, err)
	assert.False(t, sold)
	assert.False(t, f.conn.Online())
}

func TestIsDeviceSoldOfflineNeverAsksRemote(t *testing.T) {
	f := newFixture(t)
	f.conn.SetOnline(false)
	f.remote.FailNext("is_device_sold", assert.AnError)

	sold, err := f.svc.IsDeviceSold(context.Background(), "IMEI-1", storeID)
	require.NoError(t, err)
	assert.False(t, sold)
}

func TestHasDuplicateInCartExcludesEditedRow(t *testing.T) {
	lines := []domain.CartLine{
		{ID: "l1", Rows: []domain.DeviceRow{{Key: "r1", DeviceID: "IMEI-1"}, {Key: "r2", DeviceID: "IMEI-2"}}},
		{ID: "l2", Rows: []domain.DeviceRow{{Key: "r1", DeviceID: "IMEI-3"}}},
	}

	assert.True(t, HasDuplicateInCart("imei-2", lines, "", ""))
	assert.False(t, HasDuplicateInCart("IMEI-2", lines, "l1", "r2"))
	assert.True(t, HasDuplicateInCart("IMEI-2", lines, "l2", "r1"))
	assert.False(t, HasDuplicateInCart("", lines, "", ""))
}

func TestCheckScanOrderAndWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue(t, "ref-1", "IMEI-SOLD")
	require.NoError(t, f.local.Update(ctx, func(tx store.Tx) error {
		_, _, err := store.UpdateCachedInventory(ctx, tx, "p-phone", storeID, 1)
		return err
	}))
	cart := []domain.CartLine{{ID: "l1", ProductID: "p-phone", Quantity: 1, Rows: []domain.DeviceRow{{Key: "r1", DeviceID: "IMEI-A"}}}}

	_, err := f.svc.CheckScan(ctx, ScanCheck{DeviceID: "IMEI-A", StoreID: storeID, ProductID: "p-phone", Lines: cart})
	assert.ErrorIs(t, err, domain.ErrDuplicateDevice)

	_, err = f.svc.CheckScan(ctx, ScanCheck{DeviceID: "imei-sold", StoreID: storeID, ProductID: "p-phone"})
	assert.ErrorIs(t, err, domain.ErrDuplicateDevice)

	warning, err := f.svc.CheckScan(ctx, ScanCheck{DeviceID: "IMEI-B", StoreID: storeID, ProductID: "p-phone", Lines: cart})
	require.NoError(t, err)
	assert.Equal(t, OutOfStockWarning, warning, "second unit exceeds cached stock of one")

	warning, err = f.svc.CheckScan(ctx, ScanCheck{DeviceID: "IMEI-B", StoreID: storeID, ProductID: "p-phone"})
	require.NoError(t, err)
	assert.Empty(t, warning)
}
