// Package dedup answers whether a physical unit (IMEI or serial) has already
// been sold, looking at the pending queue, the synced mirror and, when the
// terminal is online, the system of record, in that order.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/connectivity"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/remote"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

const OutOfStockWarning = "no stock left in the local cache; sale will be checked on sync"

type Service struct {
	local  store.Reader
	remote remote.Collaborator
	conn   *connectivity.Tracker
	logger *zap.Logger
}

func New(local store.Reader, rc remote.Collaborator, conn *connectivity.Tracker, logger *zap.Logger) *Service {
	return &Service{local: local, remote: rc, conn: conn, logger: logger.Named("dedup")}
}

// IsDeviceSold reports whether deviceID was sold in storeID. The remote is
// only asked when both local sources miss and the terminal is online; a
// transport failure there flips the terminal offline and the local answer
// stands.
func (s *Service) IsDeviceSold(ctx context.Context, deviceID string, storeID string) (bool, error) {
	if domain.NormalizeDeviceID(deviceID) == "" {
		return false, nil
	}

	pending, err := store.GetAll[domain.PendingEntry](ctx, s.local, store.Pending, storeID)
	if err != nil {
		return false, fmt.Errorf("read pending queue: %w", err)
	}
	for _, entry := range pending {
		if linesContain(entry.Lines, deviceID) {
			return true, nil
		}
	}

	synced, err := store.GetAll[domain.SyncedSale](ctx, s.local, store.SyncedSales, storeID)
	if err != nil {
		return false, fmt.Errorf("read synced sales: %w", err)
	}
	for _, sale := range synced {
		if linesContain(sale.Lines, deviceID) {
			return true, nil
		}
	}

	if s.remote == nil || s.conn == nil || !s.conn.Online() {
		return false, nil
	}
	sold, err := s.remote.IsDeviceSold(ctx, deviceID, storeID)
	if err != nil {
		if s.conn.Observe(err) {
			s.logger.Debug("remote device check skipped", zap.String("device_id", deviceID), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return sold, nil
}

// HasDuplicateInCart reports whether deviceID already sits on a row of the
// cart other than the one identified by excludingLineID/excludingRowKey.
func HasDuplicateInCart(deviceID string, lines []domain.CartLine, excludingLineID string, excludingRowKey string) bool {
	if domain.NormalizeDeviceID(deviceID) == "" {
		return false
	}
	for _, line := range lines {
		for _, row := range line.Rows {
			if line.ID == excludingLineID && row.Key == excludingRowKey {
				continue
			}
			if domain.SameDevice(row.DeviceID, deviceID) {
				return true
			}
		}
	}
	return false
}

type ScanCheck struct {
	DeviceID        string
	StoreID         string
	ProductID       string
	Lines           []domain.CartLine
	ExcludingLineID string
	ExcludingRowKey string
}

// CheckScan runs cart duplicate, already sold and stock checks in that
// order. Missing stock only produces a warning.
func (s *Service) CheckScan(ctx context.Context, req ScanCheck) (string, error) {
	const op = "dedup.check_scan"

	if req.DeviceID != "" {
		if HasDuplicateInCart(req.DeviceID, req.Lines, req.ExcludingLineID, req.ExcludingRowKey) {
			return "", domain.DuplicateDeviceError(op, req.DeviceID)
		}
		sold, err := s.IsDeviceSold(ctx, req.DeviceID, req.StoreID)
		if err != nil {
			return "", err
		}
		if sold {
			return "", domain.DuplicateDeviceError(op, req.DeviceID)
		}
	}

	if req.ProductID == "" {
		return "", nil
	}
	rec, err := store.CachedInventory(ctx, s.local, req.StoreID, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return OutOfStockWarning, nil
	}
	if err != nil {
		return "", fmt.Errorf("read cached inventory: %w", err)
	}
	need := inCart(req.Lines, req.ProductID)
	if req.ExcludingRowKey == "" {
		need++
	}
	if rec.AvailableQty < need {
		return OutOfStockWarning, nil
	}
	return "", nil
}

func inCart(lines []domain.CartLine, productID string) int64 {
	var n int64
	for _, line := range lines {
		if line.ProductID == productID {
			n += line.Quantity
		}
	}
	return n
}

func linesContain(lines []domain.SaleLine, deviceID string) bool {
	for _, line := range lines {
		for _, sold := range line.DeviceIDs {
			if domain.SameDevice(sold, deviceID) {
				return true
			}
		}
	}
	return false
}
