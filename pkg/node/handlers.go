package node

import (
	"context"
	"fmt"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/wire"
)

// handle is the transport entry point for every inbound request.
func (n *Node) handle(_ context.Context, payload []byte) (reply []byte) {
	req, err := wire.Decode(payload)
	if err != nil {
		n.log.Warnw("bad_request", "err", err)
		return wire.Fail(err)
	}
	h := req.Envelope()
	if h.Sender == n.id || (h.Receiver != "" && h.Receiver != n.id) {
		return wire.Ignored()
	}

	defer func() {
		if r := recover(); r != nil {
			n.log.Errorw("handler_panic", "req_type", h.Type, "sender", h.Sender, "panic", r)
			reply = wire.Fail(fmt.Errorf("handler panic: %v", r))
		}
	}()

	n.mu.Lock()
	defer n.mu.Unlock()

	switch r := req.(type) {
	case *wire.ClientOrderAddRequest:
		return wire.OK(n.clientOrderAdd(h.Sender, r.Order))
	case *wire.OrderAddRequest:
		return wire.OK(n.orderAdd(h.Sender, r.Order))
	case *wire.OrderLockRequest:
		resp, err := n.locks.HandleLock(h.Sender, r)
		if err != nil {
			return wire.Fail(err)
		}
		n.publish(EventLocked, r.OrderID)
		return wire.OK(resp)
	case *wire.OrderExecuteRequest:
		if err := n.exec.HandleExecute(n.runContext(), h.Sender, r); err != nil {
			return wire.Fail(err)
		}
		return wire.OK(nil)
	case *wire.OrderCloseRequest:
		n.exec.HandleClose(h.Sender, r)
		return wire.OK(nil)
	default:
		return wire.Fail(fmt.Errorf("%w: unhandled reqType %q", wire.ErrBadRequest, h.Type))
	}
}

// clientOrderAdd stores a new order owned by this node and replicates it to
// every peer in the background. The caller holds n.mu.
func (n *Node) clientOrderAdd(sender book.NodeID, o book.Order) wire.ClientOrderAddResponse {
	if err := o.Validate(); err != nil {
		n.log.Infow("order_rejected", "order", o.ID, "client", sender, "err", err)
		return wire.ClientOrderAddResponse{IsAccepted: false}
	}

	so := book.ServerOrder{Order: o, ServerID: n.id}
	n.registry.Insert(so)
	n.metrics.OrdersAdded.WithLabelValues("client").Inc()
	n.log.Infow("order_added", "order", o.ID, "client", sender,
		"from", o.FromProduct, "from_amount", o.FromAmount.String(),
		"to", o.ToProduct, "to_amount", o.ToAmount.String())
	n.publish(EventAdded, o.ID)

	ctx := n.runContext()
	n.bg.Add(1)
	go func() {
		defer n.bg.Done()
		n.bc.Broadcast(ctx, wire.NewOrderAdd(so))
	}()
	return wire.ClientOrderAddResponse{IsAccepted: true}
}

// orderAdd stores a replica announced by its owner. The caller holds n.mu.
func (n *Node) orderAdd(sender book.NodeID, so book.ServerOrder) wire.OrderAddResponse {
	reject := func(reason string) wire.OrderAddResponse {
		n.log.Warnw("replica_rejected", "order", so.ID, "sender", sender, "owner", so.ServerID, "reason", reason)
		return wire.OrderAddResponse{IsAccepted: false, ServerID: n.id}
	}
	switch {
	case so.ServerID == "":
		return reject("missing owner")
	case so.ServerID == n.id:
		return reject("claims this node as owner")
	}
	if err := so.Validate(); err != nil {
		return reject(err.Error())
	}

	n.registry.Insert(so.Replica())
	n.metrics.OrdersAdded.WithLabelValues("peer").Inc()
	n.log.Debugw("replica_added", "order", so.ID, "owner", so.ServerID)
	n.publish(EventAdded, so.ID)
	return wire.OrderAddResponse{IsAccepted: true, ServerID: n.id}
}
