// Package cart holds the checkout state machine of one terminal cart.
//
// A cart moves empty -> building -> submitting -> committed, or to aborted
// from any state before committed. Every mutation is serialised by the cart
// mutex, which stays held while a scan is checked against the dedup service,
// so two scans of the same unit can never both land on the cart.
package cart

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prinzana/sellyticsOffline-sub004/internal/dedup"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

type State string

const (
	StateEmpty      State = "empty"
	StateBuilding   State = "building"
	StateSubmitting State = "submitting"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"

	DefaultPaymentMethod = "cash"
)

type Checker interface {
	CheckScan(ctx context.Context, req dedup.ScanCheck) (string, error)
}

type Cart struct {
	mu            sync.Mutex
	id            string
	identity      domain.Identity
	state         State
	lines         []domain.CartLine
	customerID    string
	paymentMethod string
	checker       Checker
	seq           int
	createdAt     time.Time
}

type View struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	State         State             `json:"state"`
	Lines         []domain.CartLine `json:"lines"`
	TotalCents    int64             `json:"total_amount_cents"`
	CustomerID    string            `json:"customer_id,omitempty"`
	PaymentMethod string            `json:"payment_method"`
	CreatedAt     time.Time         `json:"created_at"`
}

type DraftLine struct {
	ProductID      string
	Quantity       int64
	UnitPriceCents int64
	AmountCents    int64
	DeviceIDs      []string
	DeviceSizes    []string
}

// Draft is the sale a cart hands to the commit path. Amounts are recomputed
// from quantity and unit price when the draft is built.
type Draft struct {
	CartID        string
	Identity      domain.Identity
	CustomerID    string
	PaymentMethod string
	Lines         []DraftLine
	TotalCents    int64
}

func New(id string, identity domain.Identity, checker Checker) *Cart {
	return &Cart{
		id:            id,
		identity:      identity,
		state:         StateEmpty,
		paymentMethod: DefaultPaymentMethod,
		checker:       checker,
		createdAt:     time.Now().UTC(),
	}
}

func (c *Cart) ID() string { return c.id }

func (c *Cart) Identity() domain.Identity { return c.identity }

func (c *Cart) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cart) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		ID:            c.id,
		StoreID:       c.identity.StoreID,
		State:         c.state,
		Lines:         cloneLines(c.lines),
		TotalCents:    total(c.lines),
		CustomerID:    c.customerID,
		PaymentMethod: c.paymentMethod,
		CreatedAt:     c.createdAt,
	}
}

// Total is derived from the lines on every call.
func (c *Cart) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return total(c.lines)
}

func (c *Cart) AddLine() (domain.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable("cart.add_line"); err != nil {
		return domain.CartLine{}, err
	}
	line := c.newLineLocked()
	return line, nil
}

func (c *Cart) RemoveLine(lineID string) error {
	const op = "cart.remove_line"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	if len(c.lines) == 1 {
		return domain.ValidationError(op, "cannot remove the last line")
	}
	c.lines = slices.Delete(c.lines, idx, idx+1)
	return nil
}

// SetLineProduct points a line at product. The unit price follows the
// product's selling price unless the operator has overridden it.
func (c *Cart) SetLineProduct(lineID string, product domain.Product) error {
	const op = "cart.set_line_product"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	line := &c.lines[idx]
	setProduct(line, product)
	if !line.IsUnique && line.Quantity == 0 {
		line.Quantity = 1
	}
	return nil
}

func (c *Cart) SetUnitPrice(lineID string, cents int64) error {
	const op = "cart.set_unit_price"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	if cents < 0 {
		return domain.ValidationError(op, "unit price cannot be negative")
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	c.lines[idx].UnitPriceCents = cents
	c.lines[idx].PriceOverridden = true
	return nil
}

func (c *Cart) SetQuantity(lineID string, qty int64) error {
	const op = "cart.set_quantity"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	if qty < 1 {
		return domain.ValidationError(op, "quantity must be at least 1")
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	if c.lines[idx].IsUnique {
		return domain.ValidationError(op, "quantity of a serialised product follows its device rows")
	}
	c.lines[idx].Quantity = qty
	return nil
}

func (c *Cart) SetCustomer(customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable("cart.set_customer"); err != nil {
		return err
	}
	c.customerID = strings.TrimSpace(customerID)
	return nil
}

func (c *Cart) SetPaymentMethod(method string) error {
	const op = "cart.set_payment_method"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return domain.ValidationError(op, "payment method is required")
	}
	c.paymentMethod = method
	return nil
}

// AddRow appends an empty device row to a serialised line.
func (c *Cart) AddRow(lineID string) (string, error) {
	const op = "cart.add_row"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return "", err
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return "", err
	}
	if !c.lines[idx].IsUnique {
		return "", domain.ValidationError(op, "line %s does not track devices", lineID)
	}
	return c.appendRowLocked(idx, domain.DeviceRow{}), nil
}

func (c *Cart) RemoveRow(lineID string, rowKey string) error {
	const op = "cart.remove_row"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	line := &c.lines[idx]
	r := rowIndex(line, rowKey)
	if r < 0 {
		return domain.ValidationError(op, "unknown row %s", rowKey)
	}
	line.Rows = slices.Delete(line.Rows, r, r+1)
	line.Quantity = int64(len(line.Rows))
	return nil
}

func (c *Cart) ConfirmRow(lineID string, rowKey string) error {
	const op = "cart.confirm_row"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return err
	}
	idx, err := c.lineIndex(op, lineID)
	if err != nil {
		return err
	}
	line := &c.lines[idx]
	r := rowIndex(line, rowKey)
	if r < 0 {
		return domain.ValidationError(op, "unknown row %s", rowKey)
	}
	if line.Rows[r].DeviceID == "" {
		return domain.ValidationError(op, "row %s has no device", rowKey)
	}
	line.Rows[r].IsConfirmed = true
	return nil
}

// ApplyScan places one scanned unit of product on the cart. With a target
// row the row is filled; otherwise the unit joins a line of the same product
// or a fresh line. The cart is not touched when the dedup check fails.
func (c *Cart) ApplyScan(ctx context.Context, product domain.Product, deviceID string, size string, targetLineID string, targetRowKey string) (domain.ScanSuccess, error) {
	const op = "cart.apply_scan"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(op); err != nil {
		return domain.ScanSuccess{}, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if product.IsUniqueTracked && deviceID == "" {
		return domain.ScanSuccess{}, domain.ValidationError(op, "%s needs a device identifier", product.Name)
	}
	if !product.IsUniqueTracked {
		deviceID = ""
	}

	lineIdx, rowKey, err := c.placement(op, product, targetLineID, targetRowKey)
	if err != nil {
		return domain.ScanSuccess{}, err
	}

	check := dedup.ScanCheck{
		DeviceID:  deviceID,
		StoreID:   c.identity.StoreID,
		ProductID: product.ID,
		Lines:     c.lines,
	}
	if lineIdx >= 0 && rowKey != "" {
		check.ExcludingLineID = c.lines[lineIdx].ID
		check.ExcludingRowKey = rowKey
	}
	warning := ""
	if c.checker != nil {
		warning, err = c.checker.CheckScan(ctx, check)
		if err != nil {
			return domain.ScanSuccess{}, err
		}
	}

	if lineIdx < 0 {
		c.newLineLocked()
		lineIdx = len(c.lines) - 1
	}
	line := &c.lines[lineIdx]
	if line.ProductID != product.ID {
		setProduct(line, product)
	}

	if product.IsUniqueTracked {
		row := domain.DeviceRow{DeviceID: deviceID, DeviceSize: strings.TrimSpace(size), IsScanned: true}
		if r := rowIndex(line, rowKey); rowKey != "" && r >= 0 {
			row.Key = rowKey
			line.Rows[r] = row
		} else {
			rowKey = c.appendRowLocked(lineIdx, row)
		}
	} else {
		line.Quantity++
		rowKey = ""
	}

	return domain.ScanSuccess{
		ProductName: product.Name,
		CartID:      c.id,
		LineID:      line.ID,
		RowKey:      rowKey,
		Warning:     warning,
	}, nil
}

// BeginCommit validates the cart and moves it to submitting. On a
// validation error the cart stays in building.
func (c *Cart) BeginCommit() (Draft, error) {
	const op = "cart.commit"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateBuilding && c.state != StateEmpty {
		return Draft{}, domain.ValidationError(op, "cart is %s", c.state)
	}
	if err := validateLines(op, c.lines); err != nil {
		return Draft{}, err
	}

	draft := Draft{
		CartID:        c.id,
		Identity:      c.identity,
		CustomerID:    c.customerID,
		PaymentMethod: c.paymentMethod,
		Lines:         make([]DraftLine, 0, len(c.lines)),
	}
	for _, line := range c.lines {
		dl := DraftLine{
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			AmountCents:    line.Quantity * line.UnitPriceCents,
		}
		if line.IsUnique {
			for _, row := range line.Rows {
				dl.DeviceIDs = append(dl.DeviceIDs, row.DeviceID)
				dl.DeviceSizes = append(dl.DeviceSizes, row.DeviceSize)
			}
		}
		draft.TotalCents += dl.AmountCents
		draft.Lines = append(draft.Lines, dl)
	}
	c.state = StateSubmitting
	return draft, nil
}

func (c *Cart) FinishCommit() error {
	return c.transition("cart.finish_commit", StateSubmitting, StateCommitted)
}

func (c *Cart) CancelCommit() error {
	return c.transition("cart.cancel_commit", StateSubmitting, StateBuilding)
}

func (c *Cart) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCommitted {
		return domain.ValidationError("cart.abort", "cart is already committed")
	}
	c.state = StateAborted
	return nil
}

func (c *Cart) transition(op string, from State, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return domain.ValidationError(op, "cart is %s, want %s", c.state, from)
	}
	c.state = to
	return nil
}

func (c *Cart) editable(op string) error {
	switch c.state {
	case StateEmpty, StateBuilding:
		return nil
	default:
		return domain.ValidationError(op, "cart is %s", c.state)
	}
}

func (c *Cart) lineIndex(op string, lineID string) (int, error) {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			return i, nil
		}
	}
	return -1, domain.ValidationError(op, "unknown line %s", lineID)
}

// placement picks the line (and row) a scan lands on; -1 means a new line.
func (c *Cart) placement(op string, product domain.Product, targetLineID string, targetRowKey string) (int, string, error) {
	if targetLineID != "" {
		idx, err := c.lineIndex(op, targetLineID)
		if err != nil {
			return -1, "", err
		}
		line := c.lines[idx]
		if targetRowKey != "" {
			if rowIndex(&line, targetRowKey) < 0 {
				return -1, "", domain.ValidationError(op, "unknown row %s", targetRowKey)
			}
			if line.ProductID != product.ID {
				return -1, "", domain.ValidationError(op, "row %s belongs to another product", targetRowKey)
			}
			return idx, targetRowKey, nil
		}
		return idx, emptyRow(&line, product), nil
	}

	for i := range c.lines {
		if c.lines[i].ProductID == product.ID {
			return i, emptyRow(&c.lines[i], product), nil
		}
	}
	for i := range c.lines {
		if c.lines[i].ProductID == "" {
			return i, "", nil
		}
	}
	return -1, "", nil
}

func (c *Cart) newLineLocked() domain.CartLine {
	c.seq++
	line := domain.CartLine{ID: fmt.Sprintf("%s-L%d", c.id, c.seq)}
	c.lines = append(c.lines, line)
	c.state = StateBuilding
	return line
}

func (c *Cart) appendRowLocked(lineIdx int, row domain.DeviceRow) string {
	c.seq++
	row.Key = fmt.Sprintf("R%d", c.seq)
	line := &c.lines[lineIdx]
	line.Rows = append(line.Rows, row)
	line.Quantity = int64(len(line.Rows))
	return row.Key
}

func setProduct(line *domain.CartLine, product domain.Product) {
	changed := line.ProductID != product.ID
	line.ProductID = product.ID
	line.ProductName = product.Name
	line.IsUnique = product.IsUniqueTracked
	if !line.PriceOverridden {
		line.UnitPriceCents = product.SellingPriceCents
	}
	if !changed {
		return
	}
	line.Rows = nil
	line.Quantity = 0
}

// emptyRow returns the first unscanned row of a serialised line of product.
func emptyRow(line *domain.CartLine, product domain.Product) string {
	if !product.IsUniqueTracked || line.ProductID != product.ID {
		return ""
	}
	for _, row := range line.Rows {
		if row.DeviceID == "" {
			return row.Key
		}
	}
	return ""
}

func rowIndex(line *domain.CartLine, rowKey string) int {
	for i := range line.Rows {
		if line.Rows[i].Key == rowKey {
			return i
		}
	}
	return -1
}

func validateLines(op string, lines []domain.CartLine) error {
	if len(lines) == 0 {
		return domain.ValidationError(op, "cart has no lines")
	}
	for i, line := range lines {
		n := i + 1
		if line.ProductID == "" {
			return domain.ValidationError(op, "line %d has no product", n)
		}
		if line.Quantity <= 0 {
			return domain.ValidationError(op, "line %d has no quantity", n)
		}
		if line.UnitPriceCents <= 0 {
			return domain.ValidationError(op, "line %d has no price", n)
		}
		if line.IsUnique && int64(len(line.DeviceIDs())) != line.Quantity {
			return domain.ValidationError(op, "line %d needs %d device identifiers, has %d", n, line.Quantity, len(line.DeviceIDs()))
		}
	}
	return nil
}

func total(lines []domain.CartLine) int64 {
	var sum int64
	for _, line := range lines {
		sum += line.Quantity * line.UnitPriceCents
	}
	return sum
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, len(lines))
	for i, line := range lines {
		line.Rows = slices.Clone(line.Rows)
		out[i] = line
	}
	return out
}
