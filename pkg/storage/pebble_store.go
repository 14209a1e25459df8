package storage

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/distex/pkg/book"
)

// Transfer is one notional settlement movement.
type Transfer struct {
	Time    time.Time       `json:"time"`
	From    book.NodeID     `json:"from"`
	To      book.NodeID     `json:"to"`
	Product book.Product    `json:"product"`
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"orderID"` // the order being paid for
}

// Journal is an append-only log of transfers kept in pebble.
type Journal struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// OpenJournal opens a journal under dir, or an in-memory one when dir is "".
func OpenJournal(dir string) (*Journal, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// SaveTransfer appends t.
func (j *Journal) SaveTransfer(t Transfer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	key := transferKey(t.Time.UnixNano(), j.seq.Add(1))
	if err := j.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save transfer: %w", err)
	}
	return nil
}

// RecentTransfers loads up to limit transfers, newest first.
func (j *Journal) RecentTransfers(limit int) ([]Transfer, error) {
	prefix := []byte(prefixTransfer)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []Transfer
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var t Transfer
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, t)
	}
	return out, nil
}
