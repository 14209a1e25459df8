package book

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// NodeID identifies a node; it doubles as the node's listen port.
type NodeID string

type Product string

const (
	USD Product = "usd"
	BTC Product = "btc"
	ETH Product = "eth"
)

// Products lists every tradeable product.
var Products = []Product{USD, BTC, ETH}

func (p Product) Valid() bool {
	for _, q := range Products {
		if p == q {
			return true
		}
	}
	return false
}

type OrderType int

const (
	// AllOrNone fills must consume the order's exact FromAmount.
	AllOrNone OrderType = iota
)

func (t OrderType) String() string {
	switch t {
	case AllOrNone:
		return "ALL_OR_NONE"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// Order offers FromAmount of FromProduct in exchange for ToAmount of ToProduct.
type Order struct {
	ID          string          `json:"id"`
	FromProduct Product         `json:"fromProduct"`
	FromAmount  decimal.Decimal `json:"fromAmount"`
	ToProduct   Product         `json:"toProduct"`
	ToAmount    decimal.Decimal `json:"toAmount"`
	Type        OrderType       `json:"type"`
}

// LimitPrice is the amount of FromProduct given per unit of ToProduct.
func (o Order) LimitPrice() decimal.Decimal {
	return o.FromAmount.Div(o.ToAmount)
}

// Validate reports why an order cannot be accepted from a client.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("missing order id")
	}
	if !o.FromProduct.Valid() || !o.ToProduct.Valid() {
		return fmt.Errorf("unknown product pair %s/%s", o.FromProduct, o.ToProduct)
	}
	if o.FromProduct == o.ToProduct {
		return fmt.Errorf("product pair %s/%s trades against itself", o.FromProduct, o.ToProduct)
	}
	if !o.FromAmount.IsPositive() || !o.ToAmount.IsPositive() {
		return fmt.Errorf("amounts must be positive (from=%s to=%s)", o.FromAmount, o.ToAmount)
	}
	if o.Type != AllOrNone {
		return fmt.Errorf("unsupported order type %s", o.Type)
	}
	return nil
}

// Lock is the remote lock an owning node grants to exactly one requester.
type Lock struct {
	ID       string    `json:"id"`
	ServerID NodeID    `json:"serverID"`
	Time     time.Time `json:"time"`
}

// Execution records which requester executed an order and when.
type Execution struct {
	Time     time.Time `json:"time"`
	ServerID NodeID    `json:"serverID"`
}

// ServerOrder is an Order as seen by a node: the owner's copy or a replica.
type ServerOrder struct {
	Order
	ServerID   NodeID     `json:"serverID"`
	RemoteLock *Lock      `json:"remoteLock,omitempty"`
	LocalLock  bool       `json:"-"`
	Executed   *Execution `json:"executed,omitempty"`
	Closed     bool       `json:"closed,omitempty"`
}

// Replica returns the copy of o that is safe to ship to peers.
func (o ServerOrder) Replica() ServerOrder {
	return ServerOrder{Order: o.Order, ServerID: o.ServerID, Closed: o.Closed}
}

func (o ServerOrder) clone() ServerOrder {
	if o.RemoteLock != nil {
		l := *o.RemoteLock
		o.RemoteLock = &l
	}
	if o.Executed != nil {
		e := *o.Executed
		o.Executed = &e
	}
	return o
}
