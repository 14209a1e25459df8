package p2p

import (
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/uhyunpark/distex/pkg/util"
)

type provider struct {
	peer peer.ID
	seen time.Time
}

// Directory tracks which nodes advertise which service. Entries not refreshed
// within ttl are dropped from lookups.
type Directory struct {
	mu    sync.RWMutex
	ttl   time.Duration
	clock util.Clock
	byKey map[string]map[string]provider // service -> node id -> provider
}

func NewDirectory(ttl time.Duration, clock util.Clock) *Directory {
	return &Directory{
		ttl:   ttl,
		clock: clock,
		byKey: make(map[string]map[string]provider),
	}
}

// Observe records (or refreshes) an announcement.
func (d *Directory) Observe(service, nodeID string, p peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.byKey[service]
	if m == nil {
		m = make(map[string]provider)
		d.byKey[service] = m
	}
	m[nodeID] = provider{peer: p, seen: d.clock.Now()}
}

func (d *Directory) fresh(p provider) bool {
	return d.ttl <= 0 || d.clock.Now().Sub(p.seen) <= d.ttl
}

// Lookup returns the peer behind nodeID if its announcement is fresh.
func (d *Directory) Lookup(service, nodeID string) (peer.ID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byKey[service][nodeID]
	if !ok || !d.fresh(p) {
		return "", false
	}
	return p.peer, true
}

// Providers lists fresh node ids for service, sorted.
func (d *Directory) Providers(service string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for id, p := range d.byKey[service] {
		if d.fresh(p) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
