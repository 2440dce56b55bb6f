// Package scan funnels camera, keyboard-wedge and manual codes through one
// single-slot lock so a burst of reads of the same barcode is processed once.
package scan

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/metrics"
)

type Source string

const (
	SourceCamera   Source = "camera"
	SourceKeyboard Source = "keyboard"
	SourceManual   Source = "manual"

	DefaultWindow = 1500 * time.Millisecond
	MinWindow     = 300 * time.Millisecond
	MaxWindow     = 2000 * time.Millisecond
)

func (s Source) Valid() bool {
	switch s {
	case SourceCamera, SourceKeyboard, SourceManual:
		return true
	default:
		return false
	}
}

type Input struct {
	Source Source `json:"source"`
	Code   string `json:"code"`
	CartID string `json:"cart_id"`
	LineID string `json:"line_id,omitempty"`
	RowKey string `json:"row_key,omitempty"`
}

type Handler func(ctx context.Context, in Input) domain.ScanResult

type Option func(*Pipeline)

// WithClock replaces time.Now. The default clock carries a monotonic
// reading, so wall-clock jumps never reopen the window early.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.window = ClampWindow(d) }
}

type Pipeline struct {
	mu      sync.Mutex
	handler Handler
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger

	// slot
	held      bool
	token     uint64
	code      string
	cart      string
	startedAt time.Time
	last      domain.ScanResult
}

func New(handler Handler, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		handler: handler,
		window:  DefaultWindow,
		now:     time.Now,
		logger:  logger.Named("scan"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func ClampWindow(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultWindow
	}
	if d < MinWindow {
		return MinWindow
	}
	if d > MaxWindow {
		return MaxWindow
	}
	return d
}

func (p *Pipeline) Window() time.Duration { return p.window }

// ProcessCode runs the handler for in unless the slot collapses it. A code
// equal to the previous one for the same cart inside the window returns the
// previous result;
// any code arriving while another is still being handled returns
// ScanCollapsed. The slot expires after the window even if the handler has
// not returned.
func (p *Pipeline) ProcessCode(ctx context.Context, in Input) domain.ScanResult {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		res := domain.ScanFailure{Reason: domain.KindValidation, Message: "empty code"}
		metrics.RecordScan(string(in.Source), resultLabel(res))
		return res
	}

	p.mu.Lock()
	now := p.now()
	fresh := p.code != "" && now.Sub(p.startedAt) < p.window
	switch {
	case fresh && p.held:
		p.mu.Unlock()
		p.logger.Debug("scan collapsed, slot busy", zap.String("code", in.Code), zap.String("source", string(in.Source)))
		metrics.RecordScan(string(in.Source), "collapsed")
		return domain.ScanCollapsed{Code: in.Code}
	case fresh && p.code == in.Code && p.cart == in.CartID && p.last != nil:
		last := p.last
		p.mu.Unlock()
		metrics.RecordScan(string(in.Source), "collapsed")
		return last
	}
	p.token++
	token := p.token
	p.held = true
	p.code = in.Code
	p.cart = in.CartID
	p.startedAt = now
	p.last = nil
	p.mu.Unlock()

	res := p.handler(ctx, in)

	p.mu.Lock()
	if p.token == token {
		p.held = false
		p.last = res
	}
	p.mu.Unlock()

	metrics.RecordScan(string(in.Source), resultLabel(res))
	return res
}

func resultLabel(res domain.ScanResult) string {
	switch r := res.(type) {
	case domain.ScanSuccess:
		if r.Warning != "" {
			return "accepted_warning"
		}
		return "accepted"
	case domain.ScanFailure:
		return string(r.Reason)
	case domain.ScanCollapsed:
		return "collapsed"
	default:
		return "unknown"
	}
}
