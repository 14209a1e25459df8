package book

import "errors"

var (
	// ErrOwnershipViolation means a lock/execute reached a node that does not own
	// the order. It points at a routing or replication bug.
	ErrOwnershipViolation = errors.New("ownership violation")
	ErrLockConflict       = errors.New("order already locked by another node")
	ErrMissingOrder       = errors.New("missing order")
	ErrOrderClosed        = errors.New("order closed")
	ErrLockNotHeld        = errors.New("remote lock not held by requester")
)
