package ronet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/backend/ipc"
	"github.com/nmxmxh/ronet/internal/backend/p2p"
	"github.com/nmxmxh/ronet/internal/bootstrap"
	"github.com/nmxmxh/ronet/internal/heap"
	"github.com/nmxmxh/ronet/internal/team"
)

const (
	stateLive int32 = iota + 1
	stateClosed
)

// Runtime is one PE's view of the job: its symmetric heap, team
// registry, context pool, and transport binding. A Runtime is created
// by Init (one PE per process) or by RunLocal (all PEs in one
// process) and torn down by Finalize.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	boot    bootstrap.Bootstrap
	be      backend.Backend
	heap    *heap.Heap
	tracker *team.Tracker

	defaultCtx *Context
	pool       *backend.Pool

	world *Team
	mu    sync.Mutex
	teams map[int]*Team

	rank      int
	worldSize int

	stats Stats
	state atomic.Int32
}

type options struct {
	boot   bootstrap.Bootstrap
	fabric *ipc.Fabric
}

// Option customizes runtime construction. RunLocal uses these to hand
// every PE the shared in-process collaborators.
type Option func(*options)

// WithBootstrap injects the bootstrap collaborator.
func WithBootstrap(b bootstrap.Bootstrap) Option {
	return func(o *options) { o.boot = b }
}

// WithFabric injects the shared in-process fabric for the ipc backend.
func WithFabric(f *ipc.Fabric) Option {
	return func(o *options) { o.fabric = f }
}

// NewRuntime builds and starts one PE. Errors are returned; the
// package-level Init converts them into fatal aborts.
func NewRuntime(cfg Config, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyEnv(logger)
	if err := cfg.validate(logger); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, teams: make(map[int]*Team)}

	switch cfg.Backend {
	case BackendIPC:
		if err := r.setupIPC(&o); err != nil {
			return nil, err
		}
	case BackendP2P:
		if err := r.setupP2P(logger); err != nil {
			return nil, err
		}
	}

	r.rank = r.boot.Rank()
	r.worldSize = r.boot.Size()
	r.logger = logger.With("component", "runtime", "pe", r.rank)

	h, err := heap.New(cfg.HeapSize, cfg.MaxTeams, r.logger)
	if err != nil {
		return nil, err
	}
	r.heap = h

	if err := r.bindRegion(&o); err != nil {
		h.Close()
		return nil, err
	}

	// Backend startup runs in a helper goroutine so this PE's local
	// setup is not serialized behind connection establishment; Init
	// still waits on readiness before the world barrier.
	started := make(chan error, 1)
	go func() { started <- r.be.Start(context.Background()) }()

	tracker, err := team.NewTracker(cfg.MaxTeams, r.logger)
	if err != nil {
		h.Close()
		return nil, err
	}
	r.tracker = tracker
	r.pool = backend.NewPool(cfg.MaxContexts, r.be, r.logger)
	r.defaultCtx = &Context{rt: r, bc: backend.NewDefaultContext(r.be, r.logger)}

	r.world = &Team{
		rt:        r,
		id:        team.WorldID,
		myPE:      r.rank,
		infoWorld: team.Info{Start: 0, Stride: 1, Size: r.worldSize},
		comm:      r.boot.World(),
	}
	r.world.infoParent = r.world.infoWorld
	r.teams[team.WorldID] = r.world

	if err := <-started; err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: start: %v", ErrBackend, err)
	}

	// Every PE must finish local setup before any peer references the
	// heap remotely.
	if err := r.boot.Barrier(r.world.comm); err != nil {
		return nil, fmt.Errorf("%w: init barrier: %v", ErrBackend, err)
	}

	r.state.Store(stateLive)
	r.logger.Info("runtime up",
		"world_size", r.worldSize,
		"backend", cfg.Backend,
		"heap_size", cfg.HeapSize,
	)
	return r, nil
}

func (r *Runtime) setupIPC(o *options) error {
	if o.boot == nil {
		// Standalone single-PE world; multi-PE ipc jobs come through
		// RunLocal, which injects the shared group and fabric.
		handles, err := bootstrap.NewGroup(1)
		if err != nil {
			return err
		}
		o.boot = handles[0]
		o.fabric = ipc.NewFabric(1)
	}
	if o.fabric == nil {
		return fmt.Errorf("%w: ipc backend needs a fabric", ErrInvalidArgument)
	}
	r.boot = o.boot
	return nil
}

func (r *Runtime) setupP2P(logger *slog.Logger) error {
	tc := r.cfg.Transport
	node, err := p2p.NewNode(p2p.Config{
		Rank:       r.cfg.Rank,
		WorldSize:  r.cfg.WorldSize,
		ListenAddr: r.cfg.ListenAddr,
		Peers:      r.cfg.Peers,
		Transport: p2p.Transport{
			ConnectTimeout:    tc.ConnectTimeout,
			ReconnectDelay:    tc.ReconnectDelay,
			RequestTimeout:    tc.RequestTimeout,
			MaxRetries:        tc.MaxRetries,
			DialRate:          tc.DialRate,
			DialBurst:         tc.DialBurst,
			MaxFrameSize:      tc.MaxFrameSize,
			CompressThreshold: tc.CompressThreshold,
			BreakerFailures:   tc.BreakerFailures,
			BreakerCooldown:   tc.BreakerCooldown,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	r.boot = node
	r.be = node
	return nil
}

func (r *Runtime) bindRegion(o *options) error {
	switch r.cfg.Backend {
	case BackendIPC:
		ep, err := o.fabric.Attach(r.rank, r.heap.Region(), r.logger)
		if err != nil {
			return err
		}
		r.be = ep
	case BackendP2P:
		r.be.(*p2p.Node).BindRegion(r.heap.Region())
	}
	return nil
}

// Finalize tears the PE down: leaked teams and contexts are destroyed
// by walking the registries, the default context is quiesced, and the
// collaborators stop in LIFO order. Calling any operation afterwards
// returns ErrNotInitialized (or aborts, on the package surface).
func (r *Runtime) Finalize() error {
	if !r.state.CompareAndSwap(stateLive, stateClosed) {
		return ErrNotInitialized
	}

	for _, t := range r.liveUserTeams() {
		r.logger.Warn("destroying leaked team at finalize", "team", t.id)
		t.destroy()
	}
	if err := r.defaultCtx.bc.Quiet(); err != nil {
		r.logger.Error("default context quiet failed during finalize", "error", err)
	}
	r.pool.Close()
	r.defaultCtx.bc.Destroy()

	// Peers may still be reading this PE's region; leave together.
	if err := r.boot.Barrier(r.world.comm); err != nil {
		r.logger.Error("finalize barrier failed", "error", err)
	}

	r.logger.Info("runtime down", "stats", r.stats.Snapshot())

	if err := r.be.Stop(); err != nil {
		r.logger.Error("backend stop failed", "error", err)
	}
	if err := r.boot.Close(); err != nil {
		r.logger.Error("bootstrap close failed", "error", err)
	}
	r.heap.Close()
	return nil
}

// MyPE returns this PE's world rank.
func (r *Runtime) MyPE() int { return r.rank }

// NumPEs returns the world size.
func (r *Runtime) NumPEs() int { return r.worldSize }

// World returns the world team.
func (r *Runtime) World() *Team { return r.world }

func (r *Runtime) check() error {
	if r == nil || r.state.Load() != stateLive {
		return ErrNotInitialized
	}
	return nil
}

// liveUserTeams returns leaked teams in id order so every PE's
// finalize walk destroys them in the same relative order.
func (r *Runtime) liveUserTeams() []*Team {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Team, 0, len(r.teams))
	for id, t := range r.teams {
		if id != team.WorldID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// fatal aborts the process with a diagnostic naming the failing call.
func (r *Runtime) fatal(call string, err error) {
	var logger *slog.Logger
	if r != nil {
		logger = r.logger
	}
	fatal(logger, call, err)
}
