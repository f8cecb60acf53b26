package ronet

import (
	"fmt"

	"github.com/nmxmxh/ronet/internal/backend"
)

// Context is a communication context: operations issued on it are
// ordered and completed independently of every other context. The
// default context lives for the runtime lifetime; user contexts come
// from a bounded pool and must be destroyed (leaks are cleaned up,
// with a warning, at Finalize).
type Context struct {
	rt     *Runtime
	bc     *backend.Context
	pooled bool
}

// CreateContext acquires a context from the pool. Exhaustion returns
// ErrResourceExhausted; the pool capacity is Config.MaxContexts.
func (r *Runtime) CreateContext(opts ContextOptions) (*Context, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	bc, err := r.pool.Acquire(uint32(opts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	return &Context{rt: r, bc: bc, pooled: true}, nil
}

// Ctx returns the default context.
func (r *Runtime) Ctx() *Context { return r.defaultCtx }

// Destroy quiesces the context and returns its slot to the pool.
// Destroying the default context and double destroys are rejected
// defensively with a logged warning.
func (c *Context) Destroy() error {
	if c == nil || c.rt == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if !c.pooled {
		c.rt.logger.Warn("refusing to destroy the default context")
		return fmt.Errorf("%w: default context", ErrInvalidArgument)
	}
	if err := c.bc.Quiet(); err != nil {
		c.rt.logger.Error("context quiet failed during destroy", "slot", c.bc.Slot(), "error", err)
	}
	if err := c.rt.pool.Release(c.bc); err != nil {
		c.rt.logger.Warn("context destroy rejected", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// Options returns the option word recorded at creation.
func (c *Context) Options() ContextOptions { return ContextOptions(c.bc.Options()) }

// Quiet blocks until every non-blocking operation previously issued
// on this context is complete. Failures among them surface here.
func (c *Context) Quiet() error {
	c.rt.stats.quiets.Add(1)
	if err := c.bc.Quiet(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Fence orders operations issued after it behind operations issued
// before it, without waiting for completion.
func (c *Context) Fence() error {
	c.rt.stats.fences.Add(1)
	if err := c.bc.Fence(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Quiet quiesces the default context.
func (r *Runtime) Quiet() error {
	if err := r.check(); err != nil {
		return err
	}
	return r.defaultCtx.Quiet()
}

// Fence orders the default context.
func (r *Runtime) Fence() error {
	if err := r.check(); err != nil {
		return err
	}
	return r.defaultCtx.Fence()
}
