package backend

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type opKind uint8

const (
	opPut opKind = iota + 1
	opGet
	opFence
)

// op is one queued non-blocking operation. Put ops read buf at apply
// time (the caller must keep the source stable until Quiet, per the
// NBI contract); get ops fill buf, which becomes valid after Quiet.
type op struct {
	kind opKind
	pe   int
	addr uint64
	buf  []byte
}

// Context is one communication context: an op queue drained by a
// dedicated proxy worker, a pending-op count, and the backend binding.
// Blocking operations go straight to the backend; the queue exists so
// NBI operations issue in program order and Quiet has something to
// drain. Contexts live in pre-constructed pool slots and are
// re-initialized in place on acquire.
type Context struct {
	slot int
	opts uint32

	be     Backend
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []op
	pending int
	failure error // first async apply failure, sticky
	closed  bool

	exit atomic.Bool
	wg   sync.WaitGroup
}

// reset constructs the context in place and starts its worker. Called
// with the slot storage exclusively held.
func (c *Context) reset(slot int, opts uint32, be Backend, logger *slog.Logger) {
	c.slot = slot
	c.opts = opts
	c.be = be
	c.logger = logger
	c.queue = nil
	c.pending = 0
	c.failure = nil
	c.closed = false
	c.exit.Store(false)
	c.cond = sync.NewCond(&c.mu)

	c.wg.Add(1)
	go c.worker()
}

// worker is the context's proxy loop: it applies queued ops in FIFO
// order and observes the exit flag every iteration.
func (c *Context) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed && !c.exit.Load() {
			c.cond.Wait()
		}
		if c.exit.Load() || (c.closed && len(c.queue) == 0) {
			if n := len(c.queue); n > 0 {
				c.logger.Warn("context worker exiting with ops queued", "slot", c.slot, "abandoned", n)
				c.pending -= n
				c.queue = nil
			}
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		o := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		err := c.apply(o)

		c.mu.Lock()
		c.pending--
		if err != nil && c.failure == nil {
			c.failure = err
		}
		if c.pending == 0 || err != nil {
			c.cond.Broadcast()
		}
		c.mu.Unlock()
	}
}

func (c *Context) apply(o op) error {
	switch o.kind {
	case opPut:
		return c.be.Put(o.pe, o.addr, o.buf)
	case opGet:
		return c.be.Get(o.pe, o.addr, o.buf)
	case opFence:
		// Ordering marker: the FIFO queue already issues ops in
		// program order, so there is nothing to apply.
		return nil
	default:
		return fmt.Errorf("unknown op kind %d", o.kind)
	}
}

func (c *Context) enqueue(o op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.pending++
	c.queue = append(c.queue, o)
	c.cond.Signal()
	return nil
}

// Put is the blocking form: local completion before return.
func (c *Context) Put(pe int, dest uint64, src []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.be.Put(pe, dest, src)
}

// Get is the blocking form: dest holds the data on return.
func (c *Context) Get(pe int, src uint64, dest []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.be.Get(pe, src, dest)
}

// PutNBI queues a put. src must stay stable until Quiet.
func (c *Context) PutNBI(pe int, dest uint64, src []byte) error {
	return c.enqueue(op{kind: opPut, pe: pe, addr: dest, buf: src})
}

// GetNBI queues a get. dest holds valid data only after Quiet.
func (c *Context) GetNBI(pe int, src uint64, dest []byte) error {
	return c.enqueue(op{kind: opGet, pe: pe, addr: src, buf: dest})
}

// AMO applies immediately; atomics are not queued.
func (c *Context) AMO(pe int, aop AMOOp, addr uint64, width int, operand, operand2 uint64) (uint64, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	return c.be.AMO(pe, aop, addr, width, operand, operand2)
}

// Fence orders subsequently issued ops after previously issued ones.
// It is a program-order marker, not a completion wait.
func (c *Context) Fence() error {
	return c.enqueue(op{kind: opFence})
}

// Quiet blocks until every previously queued op on this context has
// been applied, then reports the first failure among them, if any.
func (c *Context) Quiet() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pending > 0 && c.failure == nil {
		c.cond.Wait()
	}
	return c.failure
}

// Pending reports the ops queued but not yet applied.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Options returns the option word recorded at creation.
func (c *Context) Options() uint32 { return c.opts }

// Slot returns the pool slot index, or -1 for the default context.
func (c *Context) Slot() int { return c.slot }

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// stop quiesces and joins the worker. Teardown discipline: mark
// closed, set the exit flag, wake the worker, join — only then may
// the memory behind queued ops be released.
func (c *Context) stop(abandon bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if abandon {
		c.exit.Store(true)
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()
}

// NewDefaultContext builds the process-lifetime default context
// outside any pool.
func NewDefaultContext(be Backend, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{}
	c.reset(-1, 0, be, logger.With("component", "ctx-default"))
	return c
}

// Destroy drains and stops a non-pooled context.
func (c *Context) Destroy() {
	c.stop(false)
}
