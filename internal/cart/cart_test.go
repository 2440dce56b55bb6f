package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/dedup"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store/memory"
)

var (
	owner = domain.Identity{UserID: "u-1", StoreID: "store-a", IsOwner: true}

	phone = domain.Product{ID: "p-phone", StoreID: "store-a", Name: "Phone", IsUniqueTracked: true, SellingPriceCents: 500}
	cable = domain.Product{ID: "p-cable", StoreID: "store-a", Name: "Cable", SellingPriceCents: 100}
)

// cartOnlyChecker only applies the in-cart duplicate rule.
type cartOnlyChecker struct{}

func (cartOnlyChecker) CheckScan(_ context.Context, req dedup.ScanCheck) (string, error) {
	if dedup.HasDuplicateInCart(req.DeviceID, req.Lines, req.ExcludingLineID, req.ExcludingRowKey) {
		return "", domain.DuplicateDeviceError("test", req.DeviceID)
	}
	return "", nil
}

func newCart() *Cart {
	return New("cart-1", owner, cartOnlyChecker{})
}

func TestScanBuildsLinesAndTotal(t *testing.T) {
	c := newCart()
	ctx := context.Background()
	assert.Equal(t, StateEmpty, c.State())

	first, err := c.ApplyScan(ctx, phone, "IMEI-1", "", "", "")
	require.NoError(t, err)
	second, err := c.ApplyScan(ctx, phone, "IMEI-2", "128GB", "", "")
	require.NoError(t, err)
	assert.Equal(t, first.LineID, second.LineID, "same product joins the existing line")
	assert.NotEqual(t, first.RowKey, second.RowKey)

	for range 3 {
		_, err = c.ApplyScan(ctx, cable, "", "", "", "")
		require.NoError(t, err)
	}

	view := c.View()
	assert.Equal(t, StateBuilding, view.State)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, int64(2), view.Lines[0].Quantity)
	assert.Equal(t, int64(3), view.Lines[1].Quantity)
	assert.Equal(t, int64(1300), c.Total())
}

func TestDuplicateDeviceInCartIsRejectedWithoutMutation(t *testing.T) {
	c := newCart()
	ctx := context.Background()
	_, err := c.ApplyScan(ctx, phone, "IMEI-1", "", "", "")
	require.NoError(t, err)
	before := c.View()

	_, err = c.ApplyScan(ctx, phone, " imei-1 ", "", "", "")
	require.ErrorIs(t, err, domain.ErrDuplicateDevice)
	assert.Equal(t, before.Lines, c.View().Lines)
}

func TestRescanIntoSameRowIsAllowed(t *testing.T) {
	c := newCart()
	ctx := context.Background()
	res, err := c.ApplyScan(ctx, phone, "IMEI-1", "", "", "")
	require.NoError(t, err)

	again, err := c.ApplyScan(ctx, phone, "IMEI-1", "256GB", res.LineID, res.RowKey)
	require.NoError(t, err)
	assert.Equal(t, res.RowKey, again.RowKey)
	assert.Equal(t, "256GB", c.View().Lines[0].Rows[0].DeviceSize)
}

func TestAddRowThenScanFillsEmptyRow(t *testing.T) {
	c := newCart()
	ctx := context.Background()
	line, err := c.AddLine()
	require.NoError(t, err)
	require.NoError(t, c.SetLineProduct(line.ID, phone))
	key, err := c.AddRow(line.ID)
	require.NoError(t, err)

	res, err := c.ApplyScan(ctx, phone, "IMEI-9", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, line.ID, res.LineID)
	assert.Equal(t, key, res.RowKey)
	require.NoError(t, c.ConfirmRow(line.ID, key))
	assert.True(t, c.View().Lines[0].Rows[0].IsConfirmed)
}

func TestUniqueProductNeedsDeviceID(t *testing.T) {
	c := newCart()
	_, err := c.ApplyScan(context.Background(), phone, "  ", "", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, StateEmpty, c.State())
}

func TestRemoveLastLineIsRejected(t *testing.T) {
	c := newCart()
	a, err := c.AddLine()
	require.NoError(t, err)
	b, err := c.AddLine()
	require.NoError(t, err)

	require.NoError(t, c.RemoveLine(a.ID))
	assert.ErrorIs(t, c.RemoveLine(b.ID), domain.ErrValidation)
	assert.ErrorIs(t, c.RemoveLine("missing"), domain.ErrValidation)
}

func TestSetLineProductKeepsOverriddenPrice(t *testing.T) {
	c := newCart()
	line, _ := c.AddLine()
	require.NoError(t, c.SetLineProduct(line.ID, cable))
	assert.Equal(t, int64(100), c.View().Lines[0].UnitPriceCents)

	require.NoError(t, c.SetUnitPrice(line.ID, 80))
	require.NoError(t, c.SetLineProduct(line.ID, domain.Product{ID: "p-other", Name: "Other", SellingPriceCents: 999}))
	assert.Equal(t, int64(80), c.View().Lines[0].UnitPriceCents)
}

func TestSetQuantityOnUniqueLineIsRejected(t *testing.T) {
	c := newCart()
	res, err := c.ApplyScan(context.Background(), phone, "IMEI-1", "", "", "")
	require.NoError(t, err)
	assert.ErrorIs(t, c.SetQuantity(res.LineID, 3), domain.ErrValidation)
}

func TestBeginCommitValidatesAndRecomputesAmounts(t *testing.T) {
	c := newCart()
	ctx := context.Background()

	_, err := c.BeginCommit()
	require.ErrorIs(t, err, domain.ErrValidation, "empty cart")

	res, err := c.ApplyScan(ctx, phone, "IMEI-1", "", "", "")
	require.NoError(t, err)
	_, err = c.AddRow(res.LineID)
	require.NoError(t, err)

	_, err = c.BeginCommit()
	require.ErrorIs(t, err, domain.ErrValidation, "row without device")
	assert.Equal(t, StateBuilding, c.State())

	_, err = c.ApplyScan(ctx, phone, "IMEI-2", "", "", "")
	require.NoError(t, err)
	_, err = c.ApplyScan(ctx, cable, "", "", "", "")
	require.NoError(t, err)
	line := c.View().Lines[1]
	require.NoError(t, c.SetQuantity(line.ID, 3))

	draft, err := c.BeginCommit()
	require.NoError(t, err)
	assert.Equal(t, StateSubmitting, c.State())
	assert.Equal(t, int64(1300), draft.TotalCents)
	require.Len(t, draft.Lines, 2)
	assert.Equal(t, int64(1000), draft.Lines[0].AmountCents)
	assert.Equal(t, []string{"IMEI-1", "IMEI-2"}, draft.Lines[0].DeviceIDs)
	assert.Equal(t, int64(300), draft.Lines[1].AmountCents)

	_, err = c.ApplyScan(ctx, cable, "", "", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation, "no edits while submitting")

	require.NoError(t, c.CancelCommit())
	assert.Equal(t, StateBuilding, c.State())
	_, err = c.BeginCommit()
	require.NoError(t, err)
	require.NoError(t, c.FinishCommit())
	assert.Equal(t, StateCommitted, c.State())
	assert.ErrorIs(t, c.Abort(), domain.ErrValidation)
}

func TestZeroPriceFailsCommit(t *testing.T) {
	c := newCart()
	res, err := c.ApplyScan(context.Background(), cable, "", "", "", "")
	require.NoError(t, err)
	require.NoError(t, c.SetUnitPrice(res.LineID, 0))

	_, err = c.BeginCommit()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAbortStopsEdits(t *testing.T) {
	c := newCart()
	require.NoError(t, c.Abort())
	assert.Equal(t, StateAborted, c.State())
	_, err := c.AddLine()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcurrentScansOfSameDeviceLandOnce(t *testing.T) {
	local := memory.New()
	checker := dedup.New(local, nil, nil, zap.NewNop())
	c := New("cart-race", owner, checker)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ApplyScan(context.Background(), phone, "IMEI-RACE", "", "", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateDevice)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, c.View().Lines[0].Rows, 1)
}
