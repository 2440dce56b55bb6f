package domain

import "time"

type Identity struct {
	UserID    string `json:"user_id,omitempty"`
	StoreID   string `json:"store_id"`
	UserEmail string `json:"user_email,omitempty"`
	IsOwner   bool   `json:"is_owner"`
}

type Permission struct {
	CanView   bool `json:"can_view"`
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type Product struct {
	ID                string   `json:"id"`
	StoreID           string   `json:"store_id"`
	Name              string   `json:"name"`
	Barcode           string   `json:"barcode,omitempty"`
	IsUniqueTracked   bool     `json:"is_unique_tracked"`
	SellingPriceCents int64    `json:"selling_price_cents"`
	DeviceIdentifiers []string `json:"device_identifiers,omitempty"`
}

func (p Product) StoreKey() (string, string) { return p.ID, p.StoreID }

type InventoryRecord struct {
	ID           string    `json:"id"`
	StoreID      string    `json:"store_id"`
	ProductID    string    `json:"product_id"`
	AvailableQty int64     `json:"available_qty"`
	QuantitySold int64     `json:"quantity_sold"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StoreKey keys cached inventory by product so the single-writer path can
// address a record without knowing the remote inventory id.
func (r InventoryRecord) StoreKey() (string, string) {
	return InventoryKey(r.StoreID, r.ProductID), r.StoreID
}

func InventoryKey(storeID string, productID string) string {
	return storeID + "/" + productID
}

type Customer struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
}

func (c Customer) StoreKey() (string, string) { return c.ID, c.StoreID }

type SyncState string

const (
	SyncStateCreated SyncState = "created"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

type SaleGroup struct {
	ID               string    `json:"id,omitempty"`
	ClientRef        string    `json:"client_ref"`
	StoreID          string    `json:"store_id"`
	TotalAmountCents int64     `json:"total_amount_cents"`
	PaymentMethod    string    `json:"payment_method"`
	CustomerID       string    `json:"customer_id,omitempty"`
	CreatedByUserID  string    `json:"created_by_user_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type SaleLine struct {
	ID              string    `json:"id,omitempty"`
	ClientLineRef   string    `json:"client_line_ref"`
	SaleGroupID     string    `json:"sale_group_id,omitempty"`
	SaleGroupRef    string    `json:"sale_group_ref"`
	StoreID         string    `json:"store_id"`
	ProductID       string    `json:"product_id"`
	Quantity        int64     `json:"quantity"`
	UnitPriceCents  int64     `json:"unit_price_cents"`
	AmountCents     int64     `json:"amount_cents"`
	DeviceIDs       []string  `json:"device_ids,omitempty"`
	DeviceSizes     []string  `json:"device_sizes,omitempty"`
	CreatedByUserID string    `json:"created_by_user_id,omitempty"`
	SyncState       SyncState `json:"sync_state"`
}

type PendingEntry struct {
	ClientRef        string            `json:"client_ref"`
	StoreID          string            `json:"store_id"`
	Group            SaleGroup         `json:"group"`
	Lines            []SaleLine        `json:"lines"`
	State            SyncState         `json:"state"`
	LastError        string            `json:"last_error,omitempty"`
	ErrorKind        ErrorKind         `json:"error_kind,omitempty"`
	Attempts         int               `json:"attempts"`
	RemoteGroupID    string            `json:"remote_group_id,omitempty"`
	LinesPushed      bool              `json:"lines_pushed"`
	InventoryApplied []string          `json:"inventory_applied,omitempty"`
	InventoryTargets []InventoryTarget `json:"inventory_targets,omitempty"`
	CreatedByUserID  string            `json:"created_by_user_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// InventoryTarget records a stock write before it is sent, so a retry can
// tell whether the write landed from the record's version.
type InventoryTarget struct {
	ProductID   string `json:"product_id"`
	InventoryID string `json:"inventory_id"`
	FromVersion int64  `json:"from_version"`
	FromQty     int64  `json:"from_qty"`
	ToQty       int64  `json:"to_qty"`
}

func (e PendingEntry) StoreKey() (string, string) { return e.ClientRef, e.StoreID }

func (e PendingEntry) CreatorID() string { return e.CreatedByUserID }
func (e PendingEntry) OwningStoreID() string { return e.StoreID }
func (e PendingEntry) IsSynced() bool { return e.State == SyncStateSynced }

// QuantityByProduct sums line quantities per product, in first-seen order.
func (e PendingEntry) QuantityByProduct() ([]string, map[string]int64) {
	order := make([]string, 0, len(e.Lines))
	qty := make(map[string]int64, len(e.Lines))
	for _, line := range e.Lines {
		if _, ok := qty[line.ProductID]; !ok {
			order = append(order, line.ProductID)
		}
		qty[line.ProductID] += line.Quantity
	}
	return order, qty
}

type SyncedSale struct {
	Group    SaleGroup  `json:"group"`
	Lines    []SaleLine `json:"lines"`
	Version  int64      `json:"version"`
	SyncedAt time.Time  `json:"synced_at"`
}

func (s SyncedSale) StoreKey() (string, string) { return s.Group.ID, s.Group.StoreID }

func (s SyncedSale) CreatorID() string { return s.Group.CreatedByUserID }
func (s SyncedSale) OwningStoreID() string { return s.Group.StoreID }
func (s SyncedSale) IsSynced() bool { return true }

type SalePatch struct {
	PaymentMethod *string `json:"payment_method,omitempty"`
	CustomerID    *string `json:"customer_id,omitempty"`
}

type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (s Session) StoreKey() (string, string) { return s.ID, "" }

type DeviceRow struct {
	Key         string `json:"key"`
	DeviceID    string `json:"device_id"`
	DeviceSize  string `json:"device_size,omitempty"`
	IsScanned   bool   `json:"is_scanned"`
	IsConfirmed bool   `json:"is_confirmed"`
}

// CartLine is one product line of an open cart. Unique-tracked lines carry
// one row per physical unit.
type CartLine struct {
	ID              string      `json:"id"`
	ProductID       string      `json:"product_id,omitempty"`
	ProductName     string      `json:"product_name,omitempty"`
	IsUnique        bool        `json:"is_unique"`
	Quantity        int64       `json:"quantity"`
	UnitPriceCents  int64       `json:"unit_price_cents"`
	PriceOverridden bool        `json:"price_overridden"`
	Rows            []DeviceRow `json:"rows,omitempty"`
}

// DeviceIDs lists the non-empty device identifiers on the line's rows.
func (l CartLine) DeviceIDs() []string {
	out := make([]string, 0, len(l.Rows))
	for _, row := range l.Rows {
		if row.DeviceID != "" {
			out = append(out, row.DeviceID)
		}
	}
	return out
}

type SyncProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type CommitMode string

const (
	CommitOnline  CommitMode = "online"
	CommitOffline CommitMode = "offline"
)

type CommitOutcome struct {
	Mode      CommitMode `json:"mode"`
	ClientRef string     `json:"client_ref"`
	SaleID    string     `json:"sale_id,omitempty"`
	Total     int64      `json:"total_amount_cents"`
	Message   string     `json:"message"`
}

type EntryResult struct {
	ClientRef string    `json:"client_ref"`
	State     SyncState `json:"state"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type SyncReport struct {
	Entries  []EntryResult `json:"entries"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Paused   bool          `json:"paused"`
	Offline  bool          `json:"offline"`
	Progress SyncProgress  `json:"progress"`
}
