package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/lock"
	"github.com/uhyunpark/distex/pkg/metrics"
	"github.com/uhyunpark/distex/pkg/settlement"
	"github.com/uhyunpark/distex/pkg/util"
	"github.com/uhyunpark/distex/pkg/wire"
)

// Event names passed to OnEvent.
const (
	EventExecuted   = "order_executed"
	EventClosed     = "order_closed"
	EventRolledBack = "match_rolled_back"
	EventIncomplete = "trade_incomplete"
)

// Coordinator drives a reserved match set to completion: lock every match,
// settle, ask each owner to execute, close the originating order.
//
// A lock failure releases the local reservations; the engine may find the
// orders again on a later tick. Once any transfer has been attempted the set
// stays reserved even if a later step fails, so the originating order can
// never be filled twice.
type Coordinator struct {
	Self        book.NodeID
	Registry    *book.Registry
	Locks       *lock.Coordinator
	Broadcaster *broadcast.Broadcaster
	Settler     settlement.Settler
	Clock       util.Clock
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics

	// OnEvent, when set, is told about executions, closes, rollbacks and
	// incomplete trades.
	OnEvent func(event, orderID string)

	bg sync.WaitGroup
}

func New(self book.NodeID, reg *book.Registry, locks *lock.Coordinator, bc *broadcast.Broadcaster, settler settlement.Settler, log *zap.SugaredLogger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.Nop()
	}
	if settler == nil {
		settler = settlement.Nop
	}
	return &Coordinator{
		Self:        self,
		Registry:    reg,
		Locks:       locks,
		Broadcaster: bc,
		Settler:     settler,
		Clock:       util.RealClock{},
		Logger:      log,
		Metrics:     m,
	}
}

func (c *Coordinator) emit(event, orderID string) {
	if c.OnEvent != nil {
		c.OnEvent(event, orderID)
	}
}

// OnMatch has the signature of matching.MatchFunc.
func (c *Coordinator) OnMatch(ctx context.Context, order book.ServerOrder, matches []book.ServerOrder) {
	if err := c.lockAll(ctx, matches); err != nil {
		c.rollback(order, matches, err)
		return
	}
	if err := c.executeAll(ctx, order, matches); err != nil {
		c.incomplete(order, matches, err)
		return
	}

	now := c.Clock.Now()
	_ = c.Registry.Update(order.ID, func(o *book.ServerOrder) error {
		o.Executed = &book.Execution{Time: now, ServerID: c.Self}
		o.Closed = true
		return nil
	})
	for _, m := range matches {
		c.Registry.MarkClosed(m.ID)
	}
	c.Metrics.Trades.Inc()
	c.Metrics.Closes.Inc()
	c.Logger.Infow("trade_completed", "order", order.ID, "matches", ids(matches))
	c.emit(EventExecuted, order.ID)
	c.emit(EventClosed, order.ID)

	c.Broadcaster.Broadcast(ctx, wire.NewOrderClose(order.ID))
}

func (c *Coordinator) lockAll(ctx context.Context, matches []book.ServerOrder) error {
	var locks errgroup.Group
	for _, m := range matches {
		locks.Go(func() error {
			_, err := c.Locks.RequestLock(ctx, m)
			return err
		})
	}
	if err := locks.Wait(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	return nil
}

func (c *Coordinator) executeAll(ctx context.Context, order book.ServerOrder, matches []book.ServerOrder) error {
	var execs errgroup.Group
	for _, m := range matches {
		execs.Go(func() error {
			if err := c.Settler.Transfer(m.ID, order.FromProduct, m.ToAmount, m.ServerID); err != nil {
				return fmt.Errorf("transfer for %s: %w", m.ID, err)
			}
			return c.Broadcaster.Send(ctx, m.ServerID, wire.NewOrderExecute(m.ID), nil)
		})
	}
	if err := execs.Wait(); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// incomplete gives up on a set whose execution partly went out. Every order of
// the set keeps LocalLock so none of them is matched again.
func (c *Coordinator) incomplete(order book.ServerOrder, matches []book.ServerOrder, err error) {
	c.Metrics.IncompleteTrades.Inc()
	c.Logger.Errorw("trade_incomplete", "order", order.ID, "matches", ids(matches), "err", err)
	c.emit(EventIncomplete, order.ID)
}

// rollback releases LocalLock on the originating order and its matches.
// Remote locks already granted stay with their owners.
func (c *Coordinator) rollback(order book.ServerOrder, matches []book.ServerOrder, err error) {
	c.Registry.Release(append([]string{order.ID}, ids(matches)...)...)
	c.Metrics.Rollbacks.Inc()
	c.Logger.Warnw("match_rolled_back", "order", order.ID, "matches", ids(matches), "err", err)
	c.emit(EventRolledBack, order.ID)
}

// HandleExecute executes one of our orders for the node holding its lock and
// pays the requester. The close is announced in the background.
func (c *Coordinator) HandleExecute(ctx context.Context, sender book.NodeID, req *wire.OrderExecuteRequest) error {
	now := c.Clock.Now()
	var executed book.ServerOrder
	err := c.Registry.Update(req.OrderID, func(o *book.ServerOrder) error {
		switch {
		case o.ServerID != c.Self:
			return book.ErrOwnershipViolation
		case o.Closed:
			return book.ErrOrderClosed
		case o.RemoteLock == nil || o.RemoteLock.ServerID != sender:
			return book.ErrLockNotHeld
		}
		o.Executed = &book.Execution{Time: now, ServerID: sender}
		o.Closed = true
		executed = *o
		return nil
	})
	if err != nil {
		if errors.Is(err, book.ErrOwnershipViolation) {
			c.Logger.Errorw("ownership_violation", "req_type", wire.OrderExecute, "order", req.OrderID, "sender", sender)
		} else {
			c.Logger.Infow("execute_rejected", "order", req.OrderID, "sender", sender, "err", err)
		}
		return err
	}

	if err := c.Settler.Transfer(executed.ID, executed.FromProduct, executed.FromAmount, sender); err != nil {
		// The order is already closed; the transfer is only bookkeeping.
		c.Logger.Errorw("transfer_failed", "order", executed.ID, "to", sender, "err", err)
	}
	c.Metrics.Executions.Inc()
	c.Metrics.Closes.Inc()
	c.Logger.Infow("order_executed", "order", executed.ID, "holder", sender)
	c.emit(EventExecuted, executed.ID)
	c.emit(EventClosed, executed.ID)

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.Broadcaster.Broadcast(ctx, wire.NewOrderClose(executed.ID))
	}()
	return nil
}

// HandleClose closes a replica. Unknown ids are ignored.
func (c *Coordinator) HandleClose(sender book.NodeID, req *wire.OrderCloseRequest) {
	if !c.Registry.MarkClosed(req.OrderID) {
		c.Logger.Debugw("close_unknown_order", "order", req.OrderID, "sender", sender)
		return
	}
	c.Metrics.Closes.Inc()
	c.Logger.Debugw("order_closed", "order", req.OrderID, "sender", sender)
	c.emit(EventClosed, req.OrderID)
}

// Wait blocks until background close broadcasts have finished.
func (c *Coordinator) Wait() { c.bg.Wait() }

func ids(orders []book.ServerOrder) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
