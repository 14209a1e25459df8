package p2p

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Hub is an in-process network for running many nodes in one test binary.
// Requests are delivered on their own goroutine, like a real peer.
type Hub struct {
	mu          sync.RWMutex
	handlers    map[string]map[string]Handler // service -> node id -> handler
	partitioned map[string]bool
	observers   []func(service, to string, payload []byte)
}

func NewHub() *Hub {
	return &Hub{
		handlers:    make(map[string]map[string]Handler),
		partitioned: make(map[string]bool),
	}
}

// Partition makes every request to nodeID hang until the caller gives up.
func (h *Hub) Partition(nodeID string) {
	h.mu.Lock()
	h.partitioned[nodeID] = true
	h.mu.Unlock()
}

func (h *Hub) Heal(nodeID string) {
	h.mu.Lock()
	delete(h.partitioned, nodeID)
	h.mu.Unlock()
}

// Observe registers fn to see every request before it is delivered.
func (h *Hub) Observe(fn func(service, to string, payload []byte)) {
	h.mu.Lock()
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

// Join returns the transport of node nodeID.
func (h *Hub) Join(nodeID string) *MemNet {
	return &MemNet{hub: h, self: nodeID}
}

type MemNet struct {
	hub  *Hub
	self string
}

func (n *MemNet) Announce(ctx context.Context, service string, handler Handler) error {
	h := n.hub
	h.mu.Lock()
	m := h.handlers[service]
	if m == nil {
		m = make(map[string]Handler)
		h.handlers[service] = m
	}
	m[n.self] = handler
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.handlers[service], n.self)
		h.mu.Unlock()
	}()
	return nil
}

func (n *MemNet) Providers(service string) []string {
	n.hub.mu.RLock()
	defer n.hub.mu.RUnlock()
	out := make([]string, 0, len(n.hub.handlers[service]))
	for id := range n.hub.handlers[service] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (n *MemNet) Request(ctx context.Context, service, nodeID string, payload []byte) ([]byte, error) {
	h := n.hub
	h.mu.RLock()
	handler, ok := h.handlers[service][nodeID]
	blocked := h.partitioned[nodeID]
	observers := slices.Clone(h.observers)
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoProvider, service, nodeID)
	}
	for _, fn := range observers {
		fn(service, nodeID, payload)
	}
	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	cp := append([]byte(nil), payload...)
	done := make(chan []byte, 1)
	go func() {
		// The handler outlives a caller that gave up, as a remote peer would.
		done <- handler(context.Background(), cp)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-done:
		return reply, nil
	}
}

func (n *MemNet) Close() error { return nil }

var _ Transport = (*MemNet)(nil)
