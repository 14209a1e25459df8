package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/metrics"
	"github.com/uhyunpark/distex/pkg/util"
	"github.com/uhyunpark/distex/pkg/wire"
)

// Coordinator acquires remote locks on orders owned by other nodes and grants
// them on orders owned by this node. Locks never expire.
type Coordinator struct {
	Self        book.NodeID
	Registry    *book.Registry
	Broadcaster *broadcast.Broadcaster
	Clock       util.Clock
	NewID       func() string
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Metrics
}

func New(self book.NodeID, reg *book.Registry, bc *broadcast.Broadcaster, log *zap.SugaredLogger, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Coordinator{
		Self:        self,
		Registry:    reg,
		Broadcaster: bc,
		Clock:       util.RealClock{},
		NewID:       uuid.NewString,
		Logger:      log,
		Metrics:     m,
	}
}

// RequestLock asks the owner of order for its lock and returns the lock id.
func (c *Coordinator) RequestLock(ctx context.Context, order book.ServerOrder) (string, error) {
	var resp wire.OrderLockResponse
	if err := c.Broadcaster.Send(ctx, order.ServerID, wire.NewOrderLock(order.ID), &resp); err != nil {
		return "", fmt.Errorf("lock order %s: %w", order.ID, err)
	}
	c.Logger.Debugw("lock_acquired", "order", order.ID, "owner", order.ServerID, "lock", resp.LockID)
	return resp.LockID, nil
}

// HandleLock grants sender the lock on one of our orders. A repeated request
// from the current holder returns the same lock id.
func (c *Coordinator) HandleLock(sender book.NodeID, req *wire.OrderLockRequest) (wire.OrderLockResponse, error) {
	var granted book.Lock
	err := c.Registry.Update(req.OrderID, func(o *book.ServerOrder) error {
		if o.ServerID != c.Self {
			return book.ErrOwnershipViolation
		}
		if o.Closed {
			return book.ErrOrderClosed
		}
		if o.RemoteLock != nil {
			if o.RemoteLock.ServerID != sender {
				return book.ErrLockConflict
			}
			granted = *o.RemoteLock
			return nil
		}
		o.RemoteLock = &book.Lock{ID: c.NewID(), ServerID: sender, Time: c.Clock.Now()}
		granted = *o.RemoteLock
		return nil
	})
	if err != nil {
		c.reject(sender, req.OrderID, err)
		return wire.OrderLockResponse{}, err
	}

	c.Metrics.LocksGranted.Inc()
	c.Logger.Infow("order_locked", "order", req.OrderID, "holder", sender, "lock", granted.ID)
	return wire.OrderLockResponse{LockID: granted.ID}, nil
}

func (c *Coordinator) reject(sender book.NodeID, orderID string, err error) {
	reason := "other"
	switch {
	case errors.Is(err, book.ErrOwnershipViolation):
		reason = "ownership"
		c.Logger.Errorw("ownership_violation", "req_type", wire.OrderLock, "order", orderID, "sender", sender)
	case errors.Is(err, book.ErrMissingOrder):
		reason = "missing"
	case errors.Is(err, book.ErrOrderClosed):
		reason = "closed"
	case errors.Is(err, book.ErrLockConflict):
		reason = "conflict"
	}
	c.Metrics.LocksRejected.WithLabelValues(reason).Inc()
	if reason != "ownership" {
		c.Logger.Infow("lock_rejected", "order", orderID, "sender", sender, "reason", reason)
	}
}
