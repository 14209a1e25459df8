package api

import (
	"time"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/storage"
)

// ==============================
// REST API Response Types
// ==============================

// OrderView is one registry entry as served by the API.
type OrderView struct {
	ID          string `json:"id"`
	FromProduct string `json:"fromProduct"`
	FromAmount  string `json:"fromAmount"`
	ToProduct   string `json:"toProduct"`
	ToAmount    string `json:"toAmount"`
	Type        string `json:"type"`
	LimitPrice  string `json:"limitPrice"`
	ServerID    string `json:"serverID"`
	Owned       bool   `json:"owned"`
	LocalLock   bool   `json:"localLock"`
	RemoteLock  string `json:"remoteLock,omitempty"` // holder node id
	ExecutedBy  string `json:"executedBy,omitempty"`
	Closed      bool   `json:"closed"`
}

func orderView(o book.ServerOrder, self book.NodeID) OrderView {
	v := OrderView{
		ID:          o.ID,
		FromProduct: string(o.FromProduct),
		FromAmount:  o.FromAmount.String(),
		ToProduct:   string(o.ToProduct),
		ToAmount:    o.ToAmount.String(),
		Type:        o.Type.String(),
		LimitPrice:  o.LimitPrice().StringFixed(8),
		ServerID:    string(o.ServerID),
		Owned:       o.ServerID == self,
		LocalLock:   o.LocalLock,
		Closed:      o.Closed,
	}
	if o.RemoteLock != nil {
		v.RemoteLock = string(o.RemoteLock.ServerID)
	}
	if o.Executed != nil {
		v.ExecutedBy = string(o.Executed.ServerID)
	}
	return v
}

// TransferView is one settlement journal entry.
type TransferView struct {
	Time    int64  `json:"time"` // Unix millis
	From    string `json:"from"`
	To      string `json:"to"`
	Product string `json:"product"`
	Amount  string `json:"amount"`
	OrderID string `json:"orderID"`
}

func transferView(t storage.Transfer) TransferView {
	return TransferView{
		Time:    t.Time.UnixMilli(),
		From:    string(t.From),
		To:      string(t.To),
		Product: string(t.Product),
		Amount:  t.Amount.String(),
		OrderID: t.OrderID,
	}
}

// NodeStatus answers /health.
type NodeStatus struct {
	Status string `json:"status"`
	NodeID string `json:"nodeID"`
	Orders int    `json:"orders"`
	Time   int64  `json:"time"`
}

// ==============================
// Request Types
// ==============================

// SubmitOrderRequest is the body of POST /api/v1/orders. Amounts are decimal
// strings.
type SubmitOrderRequest struct {
	ID          string `json:"id"`
	FromProduct string `json:"fromProduct"`
	FromAmount  string `json:"fromAmount"`
	ToProduct   string `json:"toProduct"`
	ToAmount    string `json:"toAmount"`
}

type SubmitOrderResponse struct {
	IsAccepted bool   `json:"isAccepted"`
	OrderID    string `json:"orderID"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest subscribes to event types ("order_added", ...) or "*".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage is pushed to subscribed clients.
type WSMessage struct {
	Channel string    `json:"channel"`
	OrderID string    `json:"orderID"`
	Node    string    `json:"node"`
	Time    time.Time `json:"time"`
}
