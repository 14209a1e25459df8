package wire

import (
	"github.com/uhyunpark/distex/pkg/book"
)

// ReqType discriminates requests on the wire.
//
// OrderClose has its own tag; earlier deployments sent it as "OrderExecute".
type ReqType string

const (
	ClientOrderAdd ReqType = "ClientOrderAdd"
	OrderAdd       ReqType = "OrderAdd"
	OrderLock      ReqType = "OrderLock"
	OrderExecute   ReqType = "OrderExecute"
	OrderClose     ReqType = "OrderClose"
)

// Header is the envelope every request carries. Receiver, when set, restricts
// a multicast to a single node.
type Header struct {
	Type     ReqType     `json:"reqType"`
	Sender   book.NodeID `json:"reqSender"`
	Receiver book.NodeID `json:"reqReceiver,omitempty"`
}

func (h *Header) Envelope() *Header { return h }

// Request is implemented by every request type via its embedded Header.
type Request interface {
	Envelope() *Header
}

// ==============================
// Requests
// ==============================

type ClientOrderAddRequest struct {
	Header
	Order book.Order `json:"order"`
}

type OrderAddRequest struct {
	Header
	Order book.ServerOrder `json:"order"`
}

type OrderLockRequest struct {
	Header
	OrderID string `json:"orderID"`
}

type OrderExecuteRequest struct {
	Header
	OrderID string `json:"orderID"`
}

type OrderCloseRequest struct {
	Header
	OrderID string `json:"orderID"`
}

func NewClientOrderAdd(to book.NodeID, o book.Order) *ClientOrderAddRequest {
	return &ClientOrderAddRequest{Header: Header{Type: ClientOrderAdd, Receiver: to}, Order: o}
}

func NewOrderAdd(o book.ServerOrder) *OrderAddRequest {
	return &OrderAddRequest{Header: Header{Type: OrderAdd}, Order: o.Replica()}
}

func NewOrderLock(orderID string) *OrderLockRequest {
	return &OrderLockRequest{Header: Header{Type: OrderLock}, OrderID: orderID}
}

func NewOrderExecute(orderID string) *OrderExecuteRequest {
	return &OrderExecuteRequest{Header: Header{Type: OrderExecute}, OrderID: orderID}
}

func NewOrderClose(orderID string) *OrderCloseRequest {
	return &OrderCloseRequest{Header: Header{Type: OrderClose}, OrderID: orderID}
}

// ==============================
// Responses
// ==============================

type ClientOrderAddResponse struct {
	IsAccepted bool `json:"isAccepted"`
}

type OrderAddResponse struct {
	IsAccepted bool        `json:"isAccepted"`
	ServerID   book.NodeID `json:"serverID"`
}

type OrderLockResponse struct {
	LockID string `json:"lockID"`
}
