// Package synclock guards the sync loop of one store so that two processes
// sharing a terminal database (or two terminals sharing a store) never push
// the same pending queue at the same time.
package synclock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotHeld = errors.New("sync lock not held")

type Release func(ctx context.Context) error

type Locker interface {
	// Acquire tries once. ok is false when somebody else holds key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

func Key(storeID string) string {
	return "kasirsync:lock:sync:" + storeID
}

// Local is an in-process Locker with the same expiry semantics as Redis.
type Local struct {
	mu    sync.Mutex
	held  map[string]localLease
	now   func() time.Time
	nonce uint64
}

type localLease struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]localLease), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return nil, false, nil
	}
	l.nonce++
	token := l.nonce
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		lease, ok := l.held[key]
		if !ok || lease.token != token {
			return ErrNotHeld
		}
		delete(l.held, key)
		return nil
	}, true, nil
}
