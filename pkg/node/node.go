package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/distex/pkg/book"
	"github.com/uhyunpark/distex/pkg/broadcast"
	"github.com/uhyunpark/distex/pkg/execution"
	"github.com/uhyunpark/distex/pkg/lock"
	"github.com/uhyunpark/distex/pkg/matching"
	"github.com/uhyunpark/distex/pkg/metrics"
	"github.com/uhyunpark/distex/pkg/p2p"
	"github.com/uhyunpark/distex/pkg/settlement"
	"github.com/uhyunpark/distex/pkg/storage"
	"github.com/uhyunpark/distex/pkg/wire"
)

const DefaultService = "orderbook"

type Config struct {
	ID             book.NodeID
	Service        string
	MatchInterval  time.Duration // 0 disables the background matcher
	RequestTimeout time.Duration
	Journal        *storage.Journal   // optional
	Settler        settlement.Settler // overrides the journal settler
	Logger         *zap.SugaredLogger
}

// Event is a state change published to subscribers (the websocket feed).
type Event struct {
	Type    string      `json:"type"`
	OrderID string      `json:"orderID"`
	Node    book.NodeID `json:"node"`
	Time    time.Time   `json:"time"`
}

const (
	EventAdded   = "order_added"
	EventMatched = "order_matched"
	EventLocked  = "order_locked"
)

// Node is one participant of the order book. Inbound requests are handled one
// at a time; matching and execution run alongside.
type Node struct {
	id      book.NodeID
	service string
	log     *zap.SugaredLogger

	net      p2p.Transport
	registry *book.Registry
	bc       *broadcast.Broadcaster
	engine   *matching.Engine
	locks    *lock.Coordinator
	exec     *execution.Coordinator
	settler  settlement.Settler
	journal  *settlement.JournalSettler
	metrics  *metrics.Metrics
	interval time.Duration

	mu  sync.Mutex // serialises request handlers
	ctx context.Context
	bg  sync.WaitGroup

	subMu sync.RWMutex
	subs  []func(Event)
}

func New(cfg Config, net p2p.Transport) *Node {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	n := &Node{
		id:       cfg.ID,
		service:  cfg.Service,
		log:      cfg.Logger,
		net:      net,
		registry: book.NewRegistry(),
		interval: cfg.MatchInterval,
		ctx:      context.Background(),
	}
	n.metrics = metrics.New(string(cfg.ID), n.registry.Len)
	n.bc = broadcast.New(net, cfg.Service, cfg.ID, cfg.RequestTimeout, cfg.Logger, n.metrics)

	n.journal = settlement.NewJournalSettler(cfg.ID, cfg.Journal, cfg.Logger, n.metrics)
	n.settler = cfg.Settler
	if n.settler == nil {
		n.settler = n.journal
	}

	n.locks = lock.New(cfg.ID, n.registry, n.bc, cfg.Logger, n.metrics)
	n.exec = execution.New(cfg.ID, n.registry, n.locks, n.bc, n.settler, cfg.Logger, n.metrics)
	n.exec.OnEvent = n.publish
	n.engine = matching.NewEngine(n.registry, cfg.ID, cfg.MatchInterval, n.onMatch, cfg.Logger, n.metrics)
	return n
}

func (n *Node) ID() book.NodeID           { return n.id }
func (n *Node) Registry() *book.Registry  { return n.registry }
func (n *Node) Engine() *matching.Engine  { return n.engine }
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

func (n *Node) Broadcaster() *broadcast.Broadcaster { return n.bc }

// Start announces the node and, with a positive MatchInterval, starts the
// matcher. Everything stops when ctx ends.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	n.ctx = ctx
	n.mu.Unlock()

	if err := n.net.Announce(ctx, n.service, n.handle); err != nil {
		return fmt.Errorf("announce %s: %w", n.service, err)
	}
	if n.interval > 0 {
		n.bg.Add(1)
		go func() {
			defer n.bg.Done()
			_ = n.engine.Run(ctx)
		}()
	}
	n.log.Infow("node_started", "node", n.id, "service", n.service, "match_interval", n.interval)
	return nil
}

// Wait blocks until background work (matcher, trades, broadcasts) is done.
// Call it after the Start context ended.
func (n *Node) Wait() {
	n.bg.Wait()
	n.engine.Wait()
	n.exec.Wait()
}

// Subscribe registers fn for every Event; fn must not block.
func (n *Node) Subscribe(fn func(Event)) {
	n.subMu.Lock()
	n.subs = append(n.subs, fn)
	n.subMu.Unlock()
}

func (n *Node) publish(eventType, orderID string) {
	ev := Event{Type: eventType, OrderID: orderID, Node: n.id, Time: time.Now()}
	n.subMu.RLock()
	defer n.subMu.RUnlock()
	for _, fn := range n.subs {
		fn(ev)
	}
}

func (n *Node) onMatch(ctx context.Context, order book.ServerOrder, matches []book.ServerOrder) {
	n.publish(EventMatched, order.ID)
	n.exec.OnMatch(ctx, order, matches)
}

// Submit adds an order as if a client had sent CLIENT_ORDER_ADD to this node.
func (n *Node) Submit(o book.Order) wire.ClientOrderAddResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clientOrderAdd("local", o)
}

// Transfers lists recent settlement journal entries.
func (n *Node) Transfers(limit int) ([]storage.Transfer, error) {
	return n.journal.Recent(limit)
}

func (n *Node) runContext() context.Context {
	// n.mu is held by every caller
	return n.ctx
}
