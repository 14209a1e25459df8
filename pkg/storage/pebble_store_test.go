package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/distex/pkg/book"
)

func TestJournal_RecentTransfersNewestFirst(t *testing.T) {
	j, err := OpenJournal("")
	require.NoError(t, err)
	defer j.Close()

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, j.SaveTransfer(Transfer{
			Time:    base.Add(time.Duration(i) * time.Second),
			From:    "1001",
			To:      "1002",
			Product: book.USD,
			Amount:  decimal.NewFromInt(int64(i + 1)),
			OrderID: "o1",
		}))
	}

	got, err := j.RecentTransfers(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, got[1].Amount.Equal(decimal.NewFromInt(2)))

	all, err := j.RecentTransfers(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJournal_OnDisk(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.SaveTransfer(Transfer{Time: time.Now(), To: "1002", Product: book.BTC, Amount: decimal.NewFromInt(1)}))
	require.NoError(t, j.Close())

	j, err = OpenJournal(dir)
	require.NoError(t, err)
	defer j.Close()
	got, err := j.RecentTransfers(10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("xfer;"), keyUpperBound([]byte("xfer:")))
}
