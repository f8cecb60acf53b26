package backend

import (
	"fmt"
	"log/slog"
	"sync"
)

// Pool owns the fixed array of context storage slots and the live-set
// registry used for implicit cleanup at shutdown. Slots are
// pre-constructed; Acquire re-initializes one in place rather than
// allocating.
type Pool struct {
	mu     sync.Mutex
	slots  []Context
	free   *FreeList
	live   map[int]*Context
	be     Backend
	logger *slog.Logger
}

func NewPool(capacity int, be Backend, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		slots:  make([]Context, capacity),
		free:   NewFreeList(capacity),
		live:   make(map[int]*Context),
		be:     be,
		logger: logger.With("component", "ctx-pool"),
	}
}

// Acquire hands out a slot as a live context. ErrExhausted when the
// pool is at capacity.
func (p *Pool) Acquire(opts uint32) (*Context, error) {
	idx, err := p.free.Acquire()
	if err != nil {
		return nil, err
	}
	c := &p.slots[idx]
	c.reset(idx, opts, p.be, p.logger.With("slot", idx))

	p.mu.Lock()
	p.live[idx] = c
	p.mu.Unlock()

	p.logger.Debug("context acquired", "slot", idx, "held", p.free.Held())
	return c, nil
}

// Release quiesces the context and returns its slot. Double release
// and contexts this pool never issued are rejected.
func (p *Pool) Release(c *Context) error {
	if c == nil || c.slot < 0 || c.slot >= len(p.slots) || &p.slots[c.slot] != c {
		return fmt.Errorf("%w: foreign context", ErrBadHandle)
	}

	p.mu.Lock()
	if _, ok := p.live[c.slot]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: slot %d already released", ErrBadHandle, c.slot)
	}
	delete(p.live, c.slot)
	p.mu.Unlock()

	c.stop(false)
	if err := p.free.Release(c.slot); err != nil {
		return err
	}
	p.logger.Debug("context released", "slot", c.slot, "held", p.free.Held())
	return nil
}

// Live snapshots the contexts not yet released, for the teardown walk.
func (p *Pool) Live() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Context, 0, len(p.live))
	for _, c := range p.live {
		out = append(out, c)
	}
	return out
}

// Close destroys every context the caller leaked. Their queued ops
// are abandoned via the exit flag rather than applied: the caller
// never quiesced them, so no ordering promise is outstanding.
func (p *Pool) Close() {
	for _, c := range p.Live() {
		p.logger.Warn("destroying leaked context at shutdown", "slot", c.slot, "pending", c.Pending())
		c.exit.Store(true)
		_ = p.Release(c)
	}
}

func (p *Pool) Held() int     { return p.free.Held() }
func (p *Pool) Capacity() int { return p.free.Capacity() }
