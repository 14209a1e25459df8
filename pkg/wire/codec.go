package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uhyunpark/distex/pkg/book"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusIgnored Status = "ignored"
)

// Error codes carried in Reply.Code.
const (
	CodeOwnership  = "OWNERSHIP_VIOLATION"
	CodeConflict   = "LOCK_CONFLICT"
	CodeMissing    = "MISSING_ORDER"
	CodeClosed     = "ORDER_CLOSED"
	CodeNotHolder  = "LOCK_NOT_HELD"
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL"
)

// ErrIgnored is returned for a reply from a node that filtered the request by
// its envelope (own message, or addressed to someone else).
var ErrIgnored = errors.New("request ignored by receiver")

// ErrBadRequest marks payloads a node could not decode.
var ErrBadRequest = errors.New("bad request")

// Reply wraps every response so typed failures survive the trip back.
type Reply struct {
	Status Status          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// RemoteError is a typed failure reported by a peer.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeOwnership:
		return book.ErrOwnershipViolation
	case CodeConflict:
		return book.ErrLockConflict
	case CodeMissing:
		return book.ErrMissingOrder
	case CodeClosed:
		return book.ErrOrderClosed
	case CodeNotHolder:
		return book.ErrLockNotHeld
	case CodeBadRequest:
		return ErrBadRequest
	default:
		return nil
	}
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, book.ErrOwnershipViolation):
		return CodeOwnership
	case errors.Is(err, book.ErrLockConflict):
		return CodeConflict
	case errors.Is(err, book.ErrMissingOrder):
		return CodeMissing
	case errors.Is(err, book.ErrOrderClosed):
		return CodeClosed
	case errors.Is(err, book.ErrLockNotHeld):
		return CodeNotHolder
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// Encode marshals a request.
func Encode(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeHeader reads only the envelope of a payload.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(b, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if h.Type == "" {
		return Header{}, fmt.Errorf("%w: missing reqType", ErrBadRequest)
	}
	return h, nil
}

// Decode unmarshals the full request for the type named in its header.
func Decode(b []byte) (Request, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	var req Request
	switch h.Type {
	case ClientOrderAdd:
		req = &ClientOrderAddRequest{}
	case OrderAdd:
		req = &OrderAddRequest{}
	case OrderLock:
		req = &OrderLockRequest{}
	case OrderExecute:
		req = &OrderExecuteRequest{}
	case OrderClose:
		req = &OrderCloseRequest{}
	default:
		return nil, fmt.Errorf("%w: unknown reqType %q", ErrBadRequest, h.Type)
	}
	if err := json.Unmarshal(b, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return req, nil
}

// OK builds a success reply; body may be nil.
func OK(body any) []byte {
	r := Reply{Status: StatusOK}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Fail(err)
		}
		r.Body = b
	}
	out, _ := json.Marshal(r)
	return out
}

// Fail builds an error reply carrying the code of err.
func Fail(err error) []byte {
	out, _ := json.Marshal(Reply{Status: StatusError, Code: codeOf(err), Error: err.Error()})
	return out
}

// Ignored builds the reply of a node that filtered the request.
func Ignored() []byte {
	out, _ := json.Marshal(Reply{Status: StatusIgnored})
	return out
}

// DecodeReply unpacks a reply into resp (which may be nil). Error replies come
// back as *RemoteError, ignored ones as ErrIgnored.
func DecodeReply(b []byte, resp any) error {
	var r Reply
	if err := json.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	switch r.Status {
	case StatusOK:
		if resp == nil || len(r.Body) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.Body, resp); err != nil {
			return fmt.Errorf("decode reply body: %w", err)
		}
		return nil
	case StatusIgnored:
		return ErrIgnored
	case StatusError:
		return &RemoteError{Code: r.Code, Message: r.Error}
	default:
		return fmt.Errorf("decode reply: unknown status %q", r.Status)
	}
}
