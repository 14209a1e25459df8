package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/metrics"
	"github.com/uhyunpark/distex/pkg/storage"
	"github.com/uhyunpark/distex/pkg/util"
)

// Settler moves funds to another node to pay for orderID. Nothing is actually
// moved yet; every implementation only records the intent.
type Settler interface {
	Transfer(orderID string, product book.Product, amount decimal.Decimal, to book.NodeID) error
}

// JournalSettler logs every transfer and appends it to a Journal.
type JournalSettler struct {
	Self    book.NodeID
	Journal *storage.Journal
	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func NewJournalSettler(self book.NodeID, j *storage.Journal, log *zap.SugaredLogger, m *metrics.Metrics) *JournalSettler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &JournalSettler{Self: self, Journal: j, Clock: util.RealClock{}, Logger: log, Metrics: m}
}

func (s *JournalSettler) Transfer(orderID string, product book.Product, amount decimal.Decimal, to book.NodeID) error {
	s.Logger.Infow("transfer", "order", orderID, "product", product, "amount", amount.String(), "to", to)
	s.Metrics.Transfers.Inc()
	if s.Journal == nil {
		return nil
	}
	err := s.Journal.SaveTransfer(storage.Transfer{
		Time:    s.Clock.Now(),
		From:    s.Self,
		To:      to,
		Product: product,
		Amount:  amount,
		OrderID: orderID,
	})
	if err != nil {
		return fmt.Errorf("journal transfer to %s: %w", to, err)
	}
	return nil
}

// Recent lists the newest journal entries, or nothing without a journal.
func (s *JournalSettler) Recent(limit int) ([]storage.Transfer, error) {
	if s.Journal == nil {
		return nil, nil
	}
	return s.Journal.RecentTransfers(limit)
}

// Func adapts a plain function to Settler.
type Func func(orderID string, product book.Product, amount decimal.Decimal, to book.NodeID) error

func (f Func) Transfer(orderID string, product book.Product, amount decimal.Decimal, to book.NodeID) error {
	return f(orderID, product, amount, to)
}

var (
	_ Settler = (*JournalSettler)(nil)
	_ Settler = Func(nil)
)

// Nop is a Settler that only returns nil; useful where transfers are not
// inspected.
var Nop Settler = Func(func(string, book.Product, decimal.Decimal, book.NodeID) error { return nil })
