package book

import "sync"

// Registry holds every order a node knows about, owned and replicated, in
// insertion order. Insertion order is the matching scan order.
//
// Ids are not checked for collisions; lookups resolve to the first order
// inserted under an id.
type Registry struct {
	mu     sync.RWMutex
	orders []*ServerOrder
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Insert appends o without any duplicate check.
func (r *Registry) Insert(o ServerOrder) {
	cp := o.clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, &cp)
}

func (r *Registry) find(id string) *ServerOrder {
	for _, o := range r.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// Find returns a copy of the order with the given id.
func (r *Registry) Find(id string) (ServerOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o := r.find(id)
	if o == nil {
		return ServerOrder{}, false
	}
	return o.clone(), true
}

// Select returns, in registry order, every open order offering from in
// exchange for to that is not reserved by this node's matcher.
func (r *Registry) Select(from, to Product) []ServerOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerOrder
	for _, o := range r.orders {
		if o.FromProduct != from || o.ToProduct != to {
			continue
		}
		if o.LocalLock || o.Closed {
			continue
		}
		out = append(out, o.clone())
	}
	return out
}

// Owned returns the open orders owned by id, in registry order.
func (r *Registry) Owned(id NodeID) []ServerOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerOrder
	for _, o := range r.orders {
		if o.ServerID == id && !o.Closed {
			out = append(out, o.clone())
		}
	}
	return out
}

// MarkClosed closes the order if it is known. It reports whether it was.
func (r *Registry) MarkClosed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.find(id)
	if o == nil {
		return false
	}
	o.Closed = true
	return true
}

// Reserve sets LocalLock on every id in one step. It changes nothing and
// returns false if any id is unknown, closed or already reserved.
func (r *Registry) Reserve(ids ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]*ServerOrder, 0, len(ids))
	for _, id := range ids {
		o := r.find(id)
		if o == nil || o.Closed || o.LocalLock {
			return false
		}
		targets = append(targets, o)
	}
	for _, o := range targets {
		o.LocalLock = true
	}
	return true
}

// Release clears LocalLock on every known id.
func (r *Registry) Release(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if o := r.find(id); o != nil {
			o.LocalLock = false
		}
	}
}

// Update applies fn to the stored order. fn runs under the registry lock and
// must not call back into the registry.
func (r *Registry) Update(id string, fn func(o *ServerOrder) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.find(id)
	if o == nil {
		return ErrMissingOrder
	}
	return fn(o)
}

// Snapshot returns a copy of every order in registry order.
func (r *Registry) Snapshot() []ServerOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerOrder, len(r.orders))
	for i, o := range r.orders {
		out[i] = o.clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
