package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/metrics"
	"github.com/uhyunpark/distex/pkg/p2p"
	"github.com/uhyunpark/distex/pkg/wire"
)

// Broadcaster fans requests out to every node advertising the order-book
// service. It never retries; each call is bounded by Timeout.
type Broadcaster struct {
	Net     p2p.Transport
	Service string
	Self    book.NodeID
	Timeout time.Duration
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func New(net p2p.Transport, service string, self book.NodeID, timeout time.Duration, log *zap.SugaredLogger, m *metrics.Metrics) *Broadcaster {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Broadcaster{Net: net, Service: service, Self: self, Timeout: timeout, Logger: log, Metrics: m}
}

// PeerFunc receives the outcome of one provider: its raw reply or an error.
type PeerFunc func(nodeID book.NodeID, reply []byte, err error)

func (b *Broadcaster) stamp(req wire.Request) ([]byte, wire.ReqType, error) {
	h := req.Envelope()
	h.Sender = b.Self
	payload, err := wire.Encode(req)
	if err != nil {
		return nil, h.Type, fmt.Errorf("encode %s: %w", h.Type, err)
	}
	return payload, h.Type, nil
}

func (b *Broadcaster) request(ctx context.Context, nodeID string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()
	return b.Net.Request(ctx, b.Service, nodeID, payload)
}

// Map sends req to every current provider concurrently and calls fn once per
// provider. It returns after every provider answered or timed out.
func (b *Broadcaster) Map(ctx context.Context, req wire.Request, fn PeerFunc) error {
	payload, rt, err := b.stamp(req)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, id := range b.Net.Providers(b.Service) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			reply, err := b.request(ctx, id, payload)
			b.Metrics.PeerRequests.WithLabelValues(string(rt), result(err)).Inc()
			fn(book.NodeID(id), reply, err)
		}(id)
	}
	wg.Wait()
	return nil
}

// Broadcast is Map with per-peer logging and nothing reported back.
func (b *Broadcaster) Broadcast(ctx context.Context, req wire.Request) {
	rt := req.Envelope().Type
	err := b.Map(ctx, req, func(id book.NodeID, reply []byte, err error) {
		if err == nil {
			err = wire.DecodeReply(reply, nil)
		}
		switch {
		case err == nil:
			b.Logger.Debugw("broadcast_delivered", "req_type", rt, "peer", id)
		case errors.Is(err, wire.ErrIgnored):
		default:
			b.Logger.Warnw("broadcast_failed", "req_type", rt, "peer", id, "err", err)
		}
	})
	if err != nil {
		b.Logger.Errorw("broadcast_encode_failed", "req_type", rt, "err", err)
	}
}

// Send addresses req to a single node and decodes its reply into resp (which
// may be nil). Typed failures from the peer come back as *wire.RemoteError.
func (b *Broadcaster) Send(ctx context.Context, to book.NodeID, req wire.Request, resp any) error {
	req.Envelope().Receiver = to
	payload, rt, err := b.stamp(req)
	if err != nil {
		return err
	}
	reply, err := b.request(ctx, string(to), payload)
	b.Metrics.PeerRequests.WithLabelValues(string(rt), result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s to %s: %w", rt, to, err)
	}
	if err := wire.DecodeReply(reply, resp); err != nil {
		return fmt.Errorf("%s to %s: %w", rt, to, err)
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
