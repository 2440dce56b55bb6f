// Package postgres talks to the back-office database directly. It is used
// when the terminal runs next to the store server instead of the REST API.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/xid"
)

type Client struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Client, error) {
	c, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := c.db.PingContext(pingCtx); err != nil {
		_ = c.db.Close()
		return nil, err
	}

	return c, nil
}

// Open prepares the pool without connecting, so a terminal can boot while
// the database is unreachable.
func Open(databaseURL string) (*Client, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newWithDB(db), nil
}

func newWithDB(db *sql.DB) *Client {
	return &Client{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return domain.NetworkError("ping", err)
	}
	return nil
}

func (c *Client) CreateSaleGroup(ctx context.Context, group domain.SaleGroup) (domain.SaleGroup, error) {
	group.ID = xid.New("sale")
	if group.CreatedAt.IsZero() {
		group.CreatedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sale_groups (id, client_ref, store_id, total_amount_cents, payment_method, customer_id, created_by, created_at, version)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,1)
	`, group.ID, group.ClientRef, group.StoreID, group.TotalAmountCents, group.PaymentMethod, group.CustomerID, group.CreatedByUserID, group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := c.FindSaleGroupByClientRef(ctx, group.StoreID, group.ClientRef)
			if lookupErr != nil {
				return domain.SaleGroup{}, lookupErr
			}
			return existing.Group, remote.ErrAlreadyExists
		}
		return domain.SaleGroup{}, wrap("create_sale_group", err)
	}
	return group, nil
}

func (c *Client) CreateSaleLinesBulk(ctx context.Context, lines []domain.SaleLine) ([]domain.SaleLine, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("create_sale_lines", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	out := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		devices, err := json.Marshal(normalizedDevices(line.DeviceIDs))
		if err != nil {
			return nil, err
		}
		sizes, err := json.Marshal(line.DeviceSizes)
		if err != nil {
			return nil, err
		}
		id := xid.New("line")
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sale_lines (
				id, client_line_ref, sale_group_id, store_id, product_id,
				quantity, unit_price_cents, amount_cents, device_ids, device_sizes, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10::jsonb,NULLIF($11,''),now())
			ON CONFLICT (client_line_ref) DO UPDATE SET client_line_ref = EXCLUDED.client_line_ref
			RETURNING id
		`, id, line.ClientLineRef, line.SaleGroupID, line.StoreID, line.ProductID,
			line.Quantity, line.UnitPriceCents, line.AmountCents, string(devices), string(sizes), line.CreatedByUserID,
		).Scan(&line.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, domain.ConflictError("create_sale_lines", "unknown sale group %q", line.SaleGroupID)
			}
			return nil, wrap("create_sale_lines", err)
		}
		line.SyncState = domain.SyncStateSynced
		out = append(out, line)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("create_sale_lines", err)
	}
	return out, nil
}

func (c *Client) UpdateInventoryQty(ctx context.Context, inventoryID string, newQty int64) (domain.InventoryRecord, error) {
	if newQty < 0 {
		return domain.InventoryRecord{}, domain.ConflictError("update_inventory", "available quantity would be %d", newQty)
	}
	var rec domain.InventoryRecord
	err := c.db.QueryRowContext(ctx, `
		UPDATE inventory
		SET quantity_sold = quantity_sold + GREATEST(available_qty - $2, 0),
			available_qty = $2,
			version = version + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING id, store_id, product_id, available_qty, quantity_sold, version, updated_at
	`, inventoryID, newQty).Scan(&rec.ID, &rec.StoreID, &rec.ProductID, &rec.AvailableQty, &rec.QuantitySold, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryRecord{}, remote.ErrNotFound
		}
		if isCheckViolation(err) {
			return domain.InventoryRecord{}, domain.ConflictError("update_inventory", "available quantity would be %d", newQty)
		}
		return domain.InventoryRecord{}, wrap("update_inventory", err)
	}
	return rec, nil
}

func (c *Client) IsDeviceSold(ctx context.Context, deviceID string, storeID string) (bool, error) {
	var sold bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sale_lines
			WHERE store_id = $1 AND device_ids @> jsonb_build_array($2::text)
		)
	`, storeID, domain.NormalizeDeviceID(deviceID)).Scan(&sold)
	if err != nil {
		return false, wrap("is_device_sold", err)
	}
	return sold, nil
}

func (c *Client) FindSaleGroupByClientRef(ctx context.Context, storeID string, clientRef string) (domain.SyncedSale, error) {
	sales, err := c.querySales(ctx, `WHERE g.store_id = $1 AND g.client_ref = $2`, storeID, clientRef)
	if err != nil {
		return domain.SyncedSale{}, err
	}
	if len(sales) == 0 {
		return domain.SyncedSale{}, remote.ErrNotFound
	}
	return sales[0], nil
}

func (c *Client) FetchProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, store_id, name, COALESCE(barcode, ''), is_unique, selling_price_cents, COALESCE(device_identifiers, '[]'::jsonb)
		FROM products
		WHERE store_id = $1
		ORDER BY id
	`, storeID)
	if err != nil {
		return nil, wrap("fetch_products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var devices []byte
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Barcode, &p.IsUniqueTracked, &p.SellingPriceCents, &devices); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(devices, &p.DeviceIdentifiers); err != nil {
			return nil, fmt.Errorf("decode device identifiers for %s: %w", p.ID, err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (c *Client) FetchInventory(ctx context.Context, storeID string) ([]domain.InventoryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, store_id, product_id, available_qty, quantity_sold, version, updated_at
		FROM inventory
		WHERE store_id = $1
		ORDER BY product_id
	`, storeID)
	if err != nil {
		return nil, wrap("fetch_inventory", err)
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ID, &rec.StoreID, &rec.ProductID, &rec.AvailableQty, &rec.QuantitySold, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (c *Client) FetchCustomers(ctx context.Context, storeID string) ([]domain.Customer, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, store_id, name, COALESCE(phone, '')
		FROM customers
		WHERE store_id = $1
		ORDER BY name
	`, storeID)
	if err != nil {
		return nil, wrap("fetch_customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var cu domain.Customer
		if err := rows.Scan(&cu.ID, &cu.StoreID, &cu.Name, &cu.Phone); err != nil {
			return nil, err
		}
		customers = append(customers, cu)
	}
	return customers, rows.Err()
}

func (c *Client) FetchSyncedSales(ctx context.Context, storeID string) ([]domain.SyncedSale, error) {
	return c.querySales(ctx, `WHERE g.store_id = $1`, storeID)
}

func (c *Client) DeleteSale(ctx context.Context, saleID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete_sale", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_group_id = $1`, saleID); err != nil {
		return wrap("delete_sale", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sale_groups WHERE id = $1`, saleID)
	if err != nil {
		return wrap("delete_sale", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return remote.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return wrap("delete_sale", err)
	}
	return nil
}

func (c *Client) UpdateSale(ctx context.Context, saleID string, patch domain.SalePatch) (domain.SyncedSale, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE sale_groups
		SET payment_method = COALESCE($2, payment_method),
			customer_id = COALESCE($3, customer_id),
			version = version + 1
		WHERE id = $1
	`, saleID, nullable(patch.PaymentMethod), nullable(patch.CustomerID))
	if err != nil {
		return domain.SyncedSale{}, wrap("update_sale", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.SyncedSale{}, remote.ErrNotFound
	}
	sales, err := c.querySales(ctx, `WHERE g.id = $1`, saleID)
	if err != nil {
		return domain.SyncedSale{}, err
	}
	if len(sales) == 0 {
		return domain.SyncedSale{}, remote.ErrNotFound
	}
	return sales[0], nil
}

// querySales loads groups and their lines in two queries.
func (c *Client) querySales(ctx context.Context, where string, args ...any) ([]domain.SyncedSale, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT g.id, g.client_ref, g.store_id, g.total_amount_cents, g.payment_method,
			COALESCE(g.customer_id, ''), COALESCE(g.created_by, ''), g.created_at, g.version
		FROM sale_groups g
		`+where+`
		ORDER BY g.created_at
	`, args...)
	if err != nil {
		return nil, wrap("query_sales", err)
	}
	defer rows.Close()

	sales := make([]domain.SyncedSale, 0, 16)
	index := make(map[string]int)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var s domain.SyncedSale
		g := &s.Group
		if err := rows.Scan(&g.ID, &g.ClientRef, &g.StoreID, &g.TotalAmountCents, &g.PaymentMethod, &g.CustomerID, &g.CreatedByUserID, &g.CreatedAt, &s.Version); err != nil {
			return nil, err
		}
		s.SyncedAt = c.now()
		index[g.ID] = len(sales)
		ids = append(ids, g.ID)
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	lineRows, err := c.db.QueryContext(ctx, `
		SELECT l.id, l.client_line_ref, l.sale_group_id, g.client_ref, l.store_id, l.product_id,
			l.quantity, l.unit_price_cents, l.amount_cents, l.device_ids, COALESCE(l.device_sizes, '[]'::jsonb), COALESCE(l.created_by, '')
		FROM sale_lines l
		JOIN sale_groups g ON g.id = l.sale_group_id
		WHERE l.sale_group_id = ANY($1)
		ORDER BY l.client_line_ref
	`, ids)
	if err != nil {
		return nil, wrap("query_sales", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var l domain.SaleLine
		var devices, sizes []byte
		if err := lineRows.Scan(&l.ID, &l.ClientLineRef, &l.SaleGroupID, &l.SaleGroupRef, &l.StoreID, &l.ProductID,
			&l.Quantity, &l.UnitPriceCents, &l.AmountCents, &devices, &sizes, &l.CreatedByUserID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(devices, &l.DeviceIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sizes, &l.DeviceSizes); err != nil {
			return nil, err
		}
		l.SyncState = domain.SyncStateSynced
		if i, ok := index[l.SaleGroupID]; ok {
			sales[i].Lines = append(sales[i].Lines, l)
		}
	}
	return sales, lineRows.Err()
}

func normalizedDevices(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := domain.NormalizeDeviceID(id); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// wrap maps connection-level failures onto the network kind so callers fall
// back to the offline path.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NetworkError(op, err)
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ remote.Collaborator = (*Client)(nil)
