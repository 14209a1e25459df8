package storage

import (
	"fmt"
)

// Key schema:
//
//	xfer:<unixnano 20 digits>:<seq 10 digits> → Transfer
//
// Timestamps are zero-padded so keys sort chronologically.
const (
	prefixTransfer = "xfer:"
)

func transferKey(unixNano int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%010d", prefixTransfer, unixNano, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
