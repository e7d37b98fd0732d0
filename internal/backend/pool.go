package backend

import (
	"context"
	"sync"
)

// PoolKey identifies one handler flavor bound to one account.
type PoolKey struct {
	Prefix  string
	Account string
}

// Factory builds an unbound Handler for a given prefix.
type Factory func(prefix string) Handler

// Pool hands out opened handlers keyed by prefix and account. Checked
// out handlers are exclusive; released ones are kept idle for reuse.
type Pool struct {
	mu      sync.Mutex
	idle    map[PoolKey][]Handler
	factory Factory
}

func NewPool(factory Factory) *Pool {
	return &Pool{
		idle:    make(map[PoolKey][]Handler),
		factory: factory,
	}
}

// Checkout returns an opened handler for key and a release func that
// must be called exactly once when the request is done.
func (p *Pool) Checkout(ctx context.Context, key PoolKey) (Handler, func(), error) {
	p.mu.Lock()
	var h Handler
	if hs := p.idle[key]; len(hs) > 0 {
		h = hs[len(hs)-1]
		p.idle[key] = hs[:len(hs)-1]
	}
	p.mu.Unlock()

	if h == nil {
		h = p.factory(key.Prefix)
	}
	if err := h.Open(ctx, key.Account); err != nil {
		return nil, nil, err
	}

	release := func() {
		_ = h.Close()
		p.mu.Lock()
		p.idle[key] = append(p.idle[key], h)
		p.mu.Unlock()
	}
	return h, release, nil
}
