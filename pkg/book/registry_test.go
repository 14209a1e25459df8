package book

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order(id string, from Product, fromAmt int64, to Product, toAmt int64, owner NodeID) ServerOrder {
	return ServerOrder{
		Order: Order{
			ID:          id,
			FromProduct: from,
			FromAmount:  decimal.NewFromInt(fromAmt),
			ToProduct:   to,
			ToAmount:    decimal.NewFromInt(toAmt),
			Type:        AllOrNone,
		},
		ServerID: owner,
	}
}

func ids(orders []ServerOrder) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestRegistry_SelectKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "y"))
	r.Insert(order("b", USD, 5, BTC, 1, "y"))
	r.Insert(order("c", BTC, 2, USD, 9, "z"))
	r.Insert(order("d", BTC, 3, USD, 1, "y"))

	assert.Equal(t, []string{"a", "c", "d"}, ids(r.Select(BTC, USD)))
	assert.Equal(t, []string{"b"}, ids(r.Select(USD, BTC)))
	assert.Empty(t, r.Select(ETH, USD))
}

func TestRegistry_SelectSkipsClosedAndReserved(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "y"))
	r.Insert(order("b", BTC, 1, USD, 5, "y"))
	r.Insert(order("c", BTC, 1, USD, 5, "y"))

	require.True(t, r.MarkClosed("a"))
	require.True(t, r.Reserve("b"))

	assert.Equal(t, []string{"c"}, ids(r.Select(BTC, USD)))

	r.Release("b")
	assert.Equal(t, []string{"b", "c"}, ids(r.Select(BTC, USD)))
}

func TestRegistry_MarkClosedUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "y"))

	assert.False(t, r.MarkClosed("nope"))
	assert.True(t, r.MarkClosed("a"))
	assert.True(t, r.MarkClosed("a"))

	o, ok := r.Find("a")
	require.True(t, ok)
	assert.True(t, o.Closed)
}

func TestRegistry_ReserveIsAllOrNothing(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "y"))
	r.Insert(order("b", BTC, 1, USD, 5, "y"))
	r.Insert(order("c", BTC, 1, USD, 5, "y"))
	r.MarkClosed("c")

	assert.False(t, r.Reserve("a", "c"), "closed member")
	assert.False(t, r.Reserve("a", "missing"), "unknown member")

	a, _ := r.Find("a")
	assert.False(t, a.LocalLock, "failed reserve must not leave partial locks")

	require.True(t, r.Reserve("a", "b"))
	assert.False(t, r.Reserve("b"), "already reserved")
}

func TestRegistry_DuplicateIDsResolveToFirst(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("dup", BTC, 1, USD, 5, "y"))
	r.Insert(order("dup", ETH, 1, USD, 5, "z"))

	assert.Equal(t, 2, r.Len())
	o, ok := r.Find("dup")
	require.True(t, ok)
	assert.Equal(t, NodeID("y"), o.ServerID)
}

func TestRegistry_CopiesDoNotAlias(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "y"))

	err := r.Update("a", func(o *ServerOrder) error {
		o.RemoteLock = &Lock{ID: "l1", ServerID: "x", Time: time.Unix(0, 0)}
		return nil
	})
	require.NoError(t, err)

	got, _ := r.Find("a")
	got.RemoteLock.ServerID = "z"
	got.Closed = true

	again, _ := r.Find("a")
	assert.Equal(t, NodeID("x"), again.RemoteLock.ServerID)
	assert.False(t, again.Closed)

	assert.ErrorIs(t, r.Update("missing", func(*ServerOrder) error { return nil }), ErrMissingOrder)
}

func TestRegistry_Owned(t *testing.T) {
	r := NewRegistry()
	r.Insert(order("a", BTC, 1, USD, 5, "x"))
	r.Insert(order("b", BTC, 1, USD, 5, "y"))
	r.Insert(order("c", USD, 1, BTC, 5, "x"))
	r.MarkClosed("c")

	assert.Equal(t, []string{"a"}, ids(r.Owned("x")))
}

func TestServerOrder_LocalLockStaysOffTheWire(t *testing.T) {
	o := order("a", BTC, 1, USD, 5, "x")
	o.LocalLock = true
	o.RemoteLock = &Lock{ID: "l", ServerID: "y"}

	b, err := json.Marshal(o.Replica())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "LocalLock")
	assert.NotContains(t, string(b), "remoteLock")

	var back ServerOrder
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, NodeID("x"), back.ServerID)
	assert.True(t, back.FromAmount.Equal(decimal.NewFromInt(1)))
	assert.False(t, back.LocalLock)
	assert.False(t, back.Closed)
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
	}{
		{name: "valid", mutate: func(o *Order) {}},
		{name: "missing id", mutate: func(o *Order) { o.ID = "" }, wantErr: true},
		{name: "same product", mutate: func(o *Order) { o.ToProduct = o.FromProduct }, wantErr: true},
		{name: "unknown product", mutate: func(o *Order) { o.FromProduct = "doge" }, wantErr: true},
		{name: "zero amount", mutate: func(o *Order) { o.ToAmount = decimal.Zero }, wantErr: true},
		{name: "negative amount", mutate: func(o *Order) { o.FromAmount = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "unknown type", mutate: func(o *Order) { o.Type = 7 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := order("o1", USD, 10, BTC, 2, "x").Order
			tt.mutate(&o)
			err := o.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrder_LimitPrice(t *testing.T) {
	o := order("o1", USD, 10, BTC, 2, "x")
	assert.True(t, o.LimitPrice().Equal(decimal.NewFromInt(5)))
}
