package scan

import (
	"context"
	"sync"
	"time"
	"unicode"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

const (
	DefaultKeyGap = 100 * time.Millisecond
	minCodeLength = 3
)

// Wedge assembles keystrokes from a keyboard-emulating scanner into codes.
// Scanners type much faster than people, so a pause longer than the key gap
// drops whatever was buffered.
type Wedge struct {
	pipeline *Pipeline
	gap      time.Duration
	now      func() time.Time

	mu   sync.Mutex
	buf  []rune
	last time.Time
}

func NewWedge(p *Pipeline, gap time.Duration) *Wedge {
	if gap <= 0 {
		gap = DefaultKeyGap
	}
	return &Wedge{pipeline: p, gap: gap, now: p.now}
}

// Key feeds one keystroke. On Enter the buffered code is sent through the
// pipeline with target's cart, line and row, and the result is returned.
func (w *Wedge) Key(ctx context.Context, r rune, target Input) (domain.ScanResult, bool) {
	w.mu.Lock()
	now := w.now()
	if len(w.buf) > 0 && now.Sub(w.last) > w.gap {
		w.buf = w.buf[:0]
	}
	w.last = now

	if r == '\r' || r == '\n' {
		code := string(w.buf)
		w.buf = w.buf[:0]
		w.mu.Unlock()
		if len([]rune(code)) < minCodeLength {
			return nil, false
		}
		target.Source = SourceKeyboard
		target.Code = code
		return w.pipeline.ProcessCode(ctx, target), true
	}
	if unicode.IsPrint(r) {
		w.buf = append(w.buf, r)
	}
	w.mu.Unlock()
	return nil, false
}

// Type feeds every rune of keys and returns the results of completed codes.
func (w *Wedge) Type(ctx context.Context, keys string, target Input) []domain.ScanResult {
	var out []domain.ScanResult
	for _, r := range keys {
		if res, ok := w.Key(ctx, r, target); ok {
			out = append(out, res)
		}
	}
	return out
}

func (w *Wedge) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = w.buf[:0]
}
