package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/p2p"
	"github.com/uhyunpark/distex/pkg/util"
	"github.com/uhyunpark/distex/pkg/wire"
)

func TestGenerator_OrdersAreValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := NewGenerator(rapid.Uint64().Draw(t, "seed"))
		for i := 0; i < 20; i++ {
			o := g.Next()
			if err := o.Validate(); err != nil {
				t.Fatalf("invalid order %+v: %v", o, err)
			}
			for _, amt := range []decimal.Decimal{o.FromAmount, o.ToAmount} {
				if amt.LessThan(decimal.NewFromInt(3)) || amt.GreaterThan(decimal.NewFromInt(10)) || !amt.IsInteger() {
					t.Fatalf("amount %s out of range", amt)
				}
			}
		}
	})
}

func TestClient_SubmitsToItsNode(t *testing.T) {
	hub := p2p.NewHub()

	var mu sync.Mutex
	var got []wire.ClientOrderAddRequest
	node := func(_ context.Context, payload []byte) []byte {
		req, err := wire.Decode(payload)
		if err != nil {
			return wire.Fail(err)
		}
		mu.Lock()
		got = append(got, *req.(*wire.ClientOrderAddRequest))
		mu.Unlock()
		return wire.OK(wire.ClientOrderAddResponse{IsAccepted: true})
	}
	require.NoError(t, hub.Join("1001").Announce(context.Background(), "orderbook", node))

	c := &Client{
		Node:      "1001",
		Sender:    broadcast.New(hub.Join("1001"), "orderbook", "client-1001", time.Second, nil, nil),
		Generator: NewGenerator(1),
		Delay:     10 * time.Millisecond,
		Interval:  10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	for _, r := range got {
		assert.Equal(t, book.NodeID("client-1001"), r.Sender)
		assert.Equal(t, book.NodeID("1001"), r.Receiver)
		assert.NoError(t, r.Order.Validate())
	}
}

func TestClient_FollowsClock(t *testing.T) {
	hub := p2p.NewHub()
	var mu sync.Mutex
	sent := 0
	require.NoError(t, hub.Join("1001").Announce(context.Background(), "orderbook", func(_ context.Context, _ []byte) []byte {
		mu.Lock()
		sent++
		mu.Unlock()
		return wire.OK(wire.ClientOrderAddResponse{IsAccepted: true})
	}))
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return sent
	}

	clk := util.NewManualClock(time.Unix(1700000000, 0))
	c := &Client{
		Node:      "1001",
		Sender:    broadcast.New(hub.Join("1001"), "orderbook", "client-1001", time.Second, nil, nil),
		Generator: NewGenerator(2),
		Delay:     2 * time.Second,
		Interval:  2 * time.Second,
		Clock:     clk,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// nothing goes out while the clock stands still
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, count())

	require.Eventually(t, func() bool {
		clk.Advance(2 * time.Second)
		return count() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
