package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

type row struct {
	storeID string
	payload []byte
	seq     int64
}

// Store keeps collections in maps. Update calls are serialised by writeMu
// and buffer their writes, so readers only wait for the final apply.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	rows    map[store.Collection]map[string]row
	seq     int64
	closed  bool
}

func New() *Store {
	rows := make(map[store.Collection]map[string]row, len(store.Collections))
	for _, c := range store.Collections {
		rows[c] = make(map[string]row)
	}
	return &Store{rows: rows}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) Get(_ context.Context, c store.Collection, id string) ([]byte, error) {
	if !c.Valid() {
		return nil, store.ErrUnknownCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	r, ok := s.rows[c][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(r.payload), nil
}

func (s *Store) GetAll(_ context.Context, c store.Collection, storeID string) ([][]byte, error) {
	if !c.Valid() {
		return nil, store.ErrUnknownCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return collect(s.rows[c], nil, nil, storeID), nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		parent: s,
		writes: make(map[store.Collection]map[string]*row),
		keys:   make(map[store.Collection][]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for _, c := range tx.order {
		for _, id := range tx.keys[c] {
			w := tx.writes[c][id]
			if w == nil {
				delete(s.rows[c], id)
				continue
			}
			if existing, ok := s.rows[c][id]; ok {
				w.seq = existing.seq
			} else {
				s.seq++
				w.seq = s.seq
			}
			s.rows[c][id] = *w
		}
	}
	return nil
}

type memTx struct {
	parent *Store
	writes map[store.Collection]map[string]*row
	keys   map[store.Collection][]string
	order  []store.Collection
}

func (t *memTx) Get(ctx context.Context, c store.Collection, id string) ([]byte, error) {
	if w, ok := t.writes[c][id]; ok {
		if w == nil {
			return nil, store.ErrNotFound
		}
		return slices.Clone(w.payload), nil
	}
	return t.parent.Get(ctx, c, id)
}

func (t *memTx) GetAll(_ context.Context, c store.Collection, storeID string) ([][]byte, error) {
	if !c.Valid() {
		return nil, store.ErrUnknownCollection
	}
	t.parent.mu.RLock()
	defer t.parent.mu.RUnlock()
	return collect(t.parent.rows[c], t.writes[c], t.keys[c], storeID), nil
}

func (t *memTx) Put(_ context.Context, c store.Collection, id string, storeID string, payload []byte) error {
	if !c.Valid() {
		return store.ErrUnknownCollection
	}
	t.stage(c, id, &row{storeID: storeID, payload: slices.Clone(payload)})
	return nil
}

func (t *memTx) Delete(_ context.Context, c store.Collection, id string) error {
	if !c.Valid() {
		return store.ErrUnknownCollection
	}
	t.stage(c, id, nil)
	return nil
}

func (t *memTx) stage(c store.Collection, id string, w *row) {
	staged, ok := t.writes[c]
	if !ok {
		staged = make(map[string]*row)
		t.writes[c] = staged
		t.order = append(t.order, c)
	}
	if _, seen := staged[id]; !seen {
		t.keys[c] = append(t.keys[c], id)
	}
	staged[id] = w
}

// collect merges committed rows with staged writes. New staged rows sort
// after every committed row, in staging order.
func collect(base map[string]row, staged map[string]*row, stagedKeys []string, storeID string) [][]byte {
	type item struct {
		seq     int64
		id      string
		payload []byte
	}
	items := make([]item, 0, len(base)+len(staged))
	for id, r := range base {
		if w, ok := staged[id]; ok {
			if w == nil || w.storeID != storeID {
				continue
			}
			items = append(items, item{seq: r.seq, id: id, payload: w.payload})
			continue
		}
		if r.storeID == storeID {
			items = append(items, item{seq: r.seq, id: id, payload: r.payload})
		}
	}
	next := int64(1 << 62)
	for _, id := range stagedKeys {
		w := staged[id]
		if _, ok := base[id]; ok || w == nil || w.storeID != storeID {
			continue
		}
		next++
		items = append(items, item{seq: next, id: id, payload: w.payload})
	}
	slices.SortFunc(items, func(a, b item) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([][]byte, 0, len(items))
	for _, it := range items {
		out = append(out, slices.Clone(it.payload))
	}
	return out
}
