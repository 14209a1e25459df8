package matching

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/metrics"
)

// MatchFunc receives a reserved match set. order and every member of matches
// already carry LocalLock in the registry when it is called.
type MatchFunc func(ctx context.Context, order book.ServerOrder, matches []book.ServerOrder)

// FindMatch walks candidates first-fit, in the order given, and returns the
// set whose ToAmounts sum exactly to order.FromAmount.
//
// A candidate qualifies when its implied price toAmount/fromAmount is at most
// the order's limit price fromAmount/toAmount and it still fits in the
// remaining amount. Prices are compared by cross-multiplication so that no
// division rounding creeps in.
func FindMatch(order book.ServerOrder, candidates []book.ServerOrder) ([]book.ServerOrder, bool) {
	remaining := order.FromAmount
	var matches []book.ServerOrder
	for _, c := range candidates {
		// c.To/c.From <= o.From/o.To  <=>  c.To*o.To <= o.From*c.From
		if c.ToAmount.Mul(order.ToAmount).GreaterThan(order.FromAmount.Mul(c.FromAmount)) {
			continue
		}
		if remaining.LessThan(c.ToAmount) {
			continue
		}
		matches = append(matches, c)
		remaining = remaining.Sub(c.ToAmount)
		if remaining.IsZero() {
			return matches, true
		}
	}
	return nil, false
}

// Engine periodically matches the node's own open orders against every
// replicated order it knows about.
type Engine struct {
	Registry *book.Registry
	Self     book.NodeID
	Interval time.Duration
	OnMatch  MatchFunc
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics

	mu       sync.Mutex // one tick at a time
	inflight sync.WaitGroup
}

func NewEngine(reg *book.Registry, self book.NodeID, interval time.Duration, onMatch MatchFunc, log *zap.SugaredLogger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Engine{Registry: reg, Self: self, Interval: interval, OnMatch: onMatch, Logger: log, Metrics: m}
}

// Run ticks every Interval until ctx ends, then waits for in-flight matches.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one matching pass and returns the number of match sets it handed
// off. Match sets are reserved before Tick returns; execution runs in the
// background.
func (e *Engine) Tick(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	triggered := 0
	for _, order := range e.Registry.Owned(e.Self) {
		if order.LocalLock {
			continue
		}
		candidates := e.foreign(e.Registry.Select(order.ToProduct, order.FromProduct))
		matches, ok := FindMatch(order, candidates)
		if !ok {
			continue
		}

		ids := make([]string, 0, len(matches)+1)
		ids = append(ids, order.ID)
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		if !e.Registry.Reserve(ids...) {
			// Closed or reserved between Select and now; retry next tick.
			continue
		}
		order.LocalLock = true
		for i := range matches {
			matches[i].LocalLock = true
		}

		triggered++
		e.Metrics.Matches.Inc()
		e.Logger.Infow("order_matched", "order", order.ID, "matches", ids[1:], "limit_price", order.LimitPrice().String())

		if e.OnMatch != nil {
			e.inflight.Add(1)
			go func(order book.ServerOrder, matches []book.ServerOrder) {
				defer e.inflight.Done()
				e.OnMatch(ctx, order, matches)
			}(order, matches)
		}
	}
	return triggered
}

// foreign drops candidates this node owns; a trade always spans two owners.
func (e *Engine) foreign(cands []book.ServerOrder) []book.ServerOrder {
	out := cands[:0]
	for _, c := range cands {
		if c.ServerID != e.Self {
			out = append(out, c)
		}
	}
	return out
}

// Wait blocks until every handed-off match set has been processed.
func (e *Engine) Wait() { e.inflight.Wait() }
