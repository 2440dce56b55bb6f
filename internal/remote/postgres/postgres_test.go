package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
)

// arrayConverter lets []string reach the mock the way pgx accepts it.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newWithDB(db), mock
}

func TestCreateSaleGroupUniqueViolationReturnsExisting(t *testing.T) {
	c, mock := newMockClient(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO sale_groups").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery("FROM sale_groups g").
		WithArgs("store-a", "ref-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_ref", "store_id", "total_amount_cents", "payment_method", "customer_id", "created_by", "created_at", "version",
		}).AddRow("sale-1", "ref-1", "store-a", int64(1300), "cash", "", "u-1", created, int64(1)))
	mock.ExpectQuery("FROM sale_lines l").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_line_ref", "sale_group_id", "client_ref", "store_id", "product_id",
			"quantity", "unit_price_cents", "amount_cents", "device_ids", "device_sizes", "created_by",
		}).AddRow("line-1", "ref-1-1", "sale-1", "ref-1", "store-a", "p-1", int64(2), int64(500), int64(1000), []byte(`["imei-1","imei-2"]`), []byte(`[]`), "u-1"))

	got, err := c.CreateSaleGroup(context.Background(), domain.SaleGroup{ClientRef: "ref-1", StoreID: "store-a"})
	require.ErrorIs(t, err, remote.ErrAlreadyExists)
	assert.Equal(t, "sale-1", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSaleGroupLoadsLines(t *testing.T) {
	c, mock := newMockClient(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM sale_groups g").
		WithArgs("store-a", "ref-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_ref", "store_id", "total_amount_cents", "payment_method", "customer_id", "created_by", "created_at", "version",
		}).AddRow("sale-1", "ref-1", "store-a", int64(1300), "cash", "", "u-1", created, int64(3)))
	mock.ExpectQuery("FROM sale_lines l").
		WithArgs([]string{"sale-1"}).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_line_ref", "sale_group_id", "client_ref", "store_id", "product_id",
			"quantity", "unit_price_cents", "amount_cents", "device_ids", "device_sizes", "created_by",
		}).
			AddRow("line-1", "ref-1-1", "sale-1", "ref-1", "store-a", "p-1", int64(2), int64(500), int64(1000), []byte(`["imei-1","imei-2"]`), []byte(`["", ""]`), "u-1").
			AddRow("line-2", "ref-1-2", "sale-1", "ref-1", "store-a", "p-2", int64(3), int64(100), int64(300), []byte(`[]`), []byte(`[]`), "u-1"))

	sale, err := c.FindSaleGroupByClientRef(context.Background(), "store-a", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sale.Version)
	require.Len(t, sale.Lines, 2)
	assert.Equal(t, []string{"imei-1", "imei-2"}, sale.Lines[0].DeviceIDs)
	assert.Equal(t, domain.SyncStateSynced, sale.Lines[1].SyncState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSaleGroupMissing(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery("FROM sale_groups g").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := c.FindSaleGroupByClientRef(context.Background(), "store-a", "nope")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestUpdateInventoryRejectsNegative(t *testing.T) {
	c, mock := newMockClient(t)

	_, err := c.UpdateInventoryQty(context.Background(), "inv-1", -1)
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInventoryCheckViolationIsConflict(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery("UPDATE inventory").
		WithArgs("inv-1", int64(2)).
		WillReturnError(&pgconn.PgError{Code: "23514"})

	_, err := c.UpdateInventoryQty(context.Background(), "inv-1", 2)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestIsDeviceSoldQueriesNormalizedID(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery("device_ids @> jsonb_build_array").
		WithArgs("store-a", "imei-77").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	sold, err := c.IsDeviceSold(context.Background(), "  IMEI-77 ", "store-a")
	require.NoError(t, err)
	assert.True(t, sold)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionFailureIsNetworkError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery("FROM inventory").
		WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

	_, err := c.FetchInventory(context.Background(), "store-a")
	assert.True(t, domain.IsNetwork(err))
}

func TestDeleteSaleMissingIsNotFound(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sale_lines").WithArgs("sale-x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM sale_groups").WithArgs("sale-x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := c.DeleteSale(context.Background(), "sale-x")
	assert.ErrorIs(t, err, remote.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesEveryStatement(t *testing.T) {
	c, mock := newMockClient(t)
	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, c.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRoundTripIntegration(t *testing.T) {
	dsn := os.Getenv("KASIRSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set KASIRSYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Migrate(ctx))

	ref := "it-" + time.Now().UTC().Format("20060102150405.000000000")
	group, err := c.CreateSaleGroup(ctx, domain.SaleGroup{ClientRef: ref, StoreID: "store-it", TotalAmountCents: 500, PaymentMethod: "cash"})
	require.NoError(t, err)

	_, err = c.CreateSaleGroup(ctx, domain.SaleGroup{ClientRef: ref, StoreID: "store-it", TotalAmountCents: 500, PaymentMethod: "cash"})
	require.ErrorIs(t, err, remote.ErrAlreadyExists)

	_, err = c.CreateSaleLinesBulk(ctx, []domain.SaleLine{{
		ClientLineRef: ref + "-1", SaleGroupID: group.ID, StoreID: "store-it", ProductID: "p-it",
		Quantity: 1, UnitPriceCents: 500, AmountCents: 500, DeviceIDs: []string{"SN-" + ref},
	}})
	require.NoError(t, err)

	sold, err := c.IsDeviceSold(ctx, "sn-"+ref, "store-it")
	require.NoError(t, err)
	assert.True(t, sold)

	require.NoError(t, c.DeleteSale(ctx, group.ID))
}
