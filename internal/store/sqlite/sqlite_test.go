package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

func TestOpenSetsSchemaVersionAndPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)

	var version int
	require.NoError(t, s.db.GetContext(ctx, &version, "PRAGMA user_version"))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, s.db.GetContext(ctx, &mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
	require.NoError(t, s.Close())

	// reopening an existing file is idempotent
	s, err = Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestInventoryTableRejectsNegativeStock(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, store.Inventory, "s/p-1", "s", []byte(`{"product_id":"p-1","available_qty":-1}`))
	})
	require.Error(t, err)

	_, err = s.Get(ctx, store.Inventory, "s/p-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	put := func(id, payload string) {
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
			return tx.Put(ctx, store.Customers, id, "s", []byte(payload))
		}))
	}
	put("b", `{"id":"b"}`)
	put("a", `{"id":"a"}`)
	put("b", `{"id":"b","name":"again"}`)

	rows, err := s.GetAll(ctx, store.Customers, "s")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"id":"b","name":"again"}`, string(rows[0]))
	assert.JSONEq(t, `{"id":"a"}`, string(rows[1]))
}
