package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrClosed            = errors.New("store closed")
)

type Collection string

const (
	Products    Collection = "products"
	Inventory   Collection = "inventory"
	Customers   Collection = "customers"
	SyncedSales Collection = "synced_sales"
	Pending     Collection = "pending_queue"
	Sessions    Collection = "sessions"
)

var Collections = []Collection{Products, Inventory, Customers, SyncedSales, Pending, Sessions}

func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Reader returns raw JSON payloads. GetAll returns rows in insertion order.
type Reader interface {
	Get(ctx context.Context, c Collection, id string) ([]byte, error)
	GetAll(ctx context.Context, c Collection, storeID string) ([][]byte, error)
}

type Tx interface {
	Reader
	Put(ctx context.Context, c Collection, id string, storeID string, payload []byte) error
	Delete(ctx context.Context, c Collection, id string) error
}

// LocalStore applies every write made inside one Update call atomically.
type LocalStore interface {
	Reader
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

type Keyed interface {
	StoreKey() (id string, storeID string)
}

func Get[T any](ctx context.Context, r Reader, c Collection, id string) (T, error) {
	var out T
	raw, err := r.Get(ctx, c, id)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", c, id, err)
	}
	return out, nil
}

func GetAll[T any](ctx context.Context, r Reader, c Collection, storeID string) ([]T, error) {
	rows, err := r.GetAll(ctx, c, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func UpsertMany[T Keyed](ctx context.Context, tx Tx, c Collection, records []T) error {
	for _, record := range records {
		id, storeID := record.StoreKey()
		if id == "" {
			return fmt.Errorf("upsert %s: empty id", c)
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", c, id, err)
		}
		if err := tx.Put(ctx, c, id, storeID, payload); err != nil {
			return err
		}
	}
	return nil
}

func Put[T Keyed](ctx context.Context, tx Tx, c Collection, record T) error {
	return UpsertMany(ctx, tx, c, []T{record})
}

// Save upserts records in their own transaction.
func Save[T Keyed](ctx context.Context, s LocalStore, c Collection, records []T) error {
	return s.Update(ctx, func(tx Tx) error {
		return UpsertMany(ctx, tx, c, records)
	})
}

func Remove(ctx context.Context, s LocalStore, c Collection, id string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(ctx, c, id)
	})
}
