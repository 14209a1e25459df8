package client

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/util"
	"github.com/uhyunpark/distex/pkg/wire"
)

// Generator produces random all-or-none orders.
type Generator struct {
	Rand     *rand.Rand
	NewID    func() string
	Products []book.Product
	Min, Max int64 // inclusive amount range
}

func NewGenerator(seed uint64) *Generator {
	return &Generator{
		Rand:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		NewID:    uuid.NewString,
		Products: book.Products,
		Min:      3,
		Max:      10,
	}
}

func (g *Generator) amount() decimal.Decimal {
	return decimal.NewFromInt(g.Min + g.Rand.Int64N(g.Max-g.Min+1))
}

func (g *Generator) Next() book.Order {
	i := g.Rand.IntN(len(g.Products))
	// any product but the one offered
	j := g.Rand.IntN(len(g.Products) - 1)
	if j >= i {
		j++
	}
	return book.Order{
		ID:          g.NewID(),
		FromProduct: g.Products[i],
		FromAmount:  g.amount(),
		ToProduct:   g.Products[j],
		ToAmount:    g.amount(),
		Type:        book.AllOrNone,
	}
}

// Client submits a random order to one node after Delay and then every
// Interval.
type Client struct {
	Node      book.NodeID
	Sender    *broadcast.Broadcaster
	Generator *Generator
	Delay     time.Duration
	Interval  time.Duration
	Clock     util.Clock
	Logger    *zap.SugaredLogger
}

func (c *Client) Run(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Clock == nil {
		c.Clock = util.RealClock{}
	}
	wait := c.Delay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Clock.After(wait):
			c.submit(ctx)
		}
		wait = c.Interval
	}
}

func (c *Client) submit(ctx context.Context) {
	o := c.Generator.Next()
	var resp wire.ClientOrderAddResponse
	if err := c.Sender.Send(ctx, c.Node, wire.NewClientOrderAdd(c.Node, o), &resp); err != nil {
		if ctx.Err() == nil {
			c.Logger.Warnw("client_submit_failed", "order", o.ID, "node", c.Node, "err", err)
		}
		return
	}
	c.Logger.Infow("client_order_sent", "order", o.ID, "node", c.Node,
		"from", o.FromProduct, "from_amount", o.FromAmount.String(),
		"to", o.ToProduct, "to_amount", o.ToAmount.String(),
		"accepted", resp.IsAccepted)
}
