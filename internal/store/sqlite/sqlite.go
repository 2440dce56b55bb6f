// Package sqlite is the durable terminal cache. Each collection is a table of
// JSON payloads; insertion order is the rowid, which upserts preserve.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

const currentSchemaVersion = 2

type Store struct {
	db *sqlx.DB
}

type payloadRow struct {
	Payload string `db:"payload"`
}

// DSN builds a modernc.org/sqlite connection string. Pragmas are applied to
// every pooled connection and writers take the lock up front.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local store: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) ([]byte, error) {
	return get(ctx, s.db, c, id)
}

func (s *Store) GetAll(ctx context.Context, c store.Collection, storeID string) ([][]byte, error) {
	return getAll(ctx, s.db, c, storeID)
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type tx struct {
	tx *sqlx.Tx
}

func (t *tx) Get(ctx context.Context, c store.Collection, id string) ([]byte, error) {
	return get(ctx, t.tx, c, id)
}

func (t *tx) GetAll(ctx context.Context, c store.Collection, storeID string) ([][]byte, error) {
	return getAll(ctx, t.tx, c, storeID)
}

func (t *tx) Put(ctx context.Context, c store.Collection, id string, storeID string, payload []byte) error {
	if !c.Valid() {
		return store.ErrUnknownCollection
	}
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, store_id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			store_id = excluded.store_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, c), id, storeID, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", c, id, err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, c store.Collection, id string) error {
	if !c.Valid() {
		return store.ErrUnknownCollection
	}
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, c), id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return nil
}

func get(ctx context.Context, q sqlx.QueryerContext, c store.Collection, id string) ([]byte, error) {
	if !c.Valid() {
		return nil, store.ErrUnknownCollection
	}
	var r payloadRow
	err := sqlx.GetContext(ctx, q, &r, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, c), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return []byte(r.Payload), nil
}

func getAll(ctx context.Context, q sqlx.QueryerContext, c store.Collection, storeID string) ([][]byte, error) {
	if !c.Valid() {
		return nil, store.ErrUnknownCollection
	}
	var rows []payloadRow
	err := sqlx.SelectContext(ctx, q, &rows, fmt.Sprintf(`SELECT payload FROM %s WHERE store_id = ? ORDER BY rowid`, c), storeID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		out = append(out, []byte(r.Payload))
	}
	return out, nil
}
