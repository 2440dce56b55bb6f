// Package connectivity tracks whether the system of record is reachable.
// Any network-kind error flips the terminal offline; a successful probe
// brings it back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Tracker struct {
	mu        sync.RWMutex
	online    bool
	changedAt time.Time
	lastErr   string
	listeners []func(online bool)
	logger    *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	metrics.SetOnline(true)
	return &Tracker{online: true, changedAt: time.Now().UTC(), logger: logger.Named("connectivity")}
}

func (t *Tracker) Online() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

func (t *Tracker) SetOnline(online bool) {
	t.set(online, "")
}

// Observe inspects err and goes offline when it is a network failure.
// It reports whether the error was a network failure.
func (t *Tracker) Observe(err error) bool {
	if err == nil || !domain.IsNetwork(err) {
		return false
	}
	t.set(false, err.Error())
	return true
}

// Probe pings the remote and records the outcome.
func (t *Tracker) Probe(ctx context.Context, p Pinger) bool {
	err := p.Ping(ctx)
	if err != nil {
		t.set(false, err.Error())
		return false
	}
	t.set(true, "")
	return true
}

// OnChange registers fn to run after every offline/online transition.
func (t *Tracker) OnChange(fn func(online bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

type Status struct {
	Online    bool      `json:"online"`
	ChangedAt time.Time `json:"changed_at"`
	LastError string    `json:"last_error,omitempty"`
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{Online: t.online, ChangedAt: t.changedAt, LastError: t.lastErr}
}

func (t *Tracker) set(online bool, reason string) {
	t.mu.Lock()
	changed := t.online != online
	t.online = online
	t.lastErr = reason
	if changed {
		t.changedAt = time.Now().UTC()
	}
	listeners := append([]func(bool){}, t.listeners...)
	t.mu.Unlock()

	metrics.SetOnline(online)
	if !changed {
		return
	}
	if online {
		t.logger.Info("remote reachable again")
	} else {
		t.logger.Warn("remote unreachable, working offline", zap.String("reason", reason))
	}
	for _, fn := range listeners {
		fn(online)
	}
}
