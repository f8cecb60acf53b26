package ronet

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/bootstrap"
	"github.com/nmxmxh/ronet/internal/heap"
	"github.com/nmxmxh/ronet/internal/team"
)

// Team is an ordered subset of PEs with its own local numbering. The
// member set is immutable after creation. A nil *Team is the invalid
// handle: non-members of a split receive it, and every accessor on it
// answers with the invalid sentinel.
type Team struct {
	rt   *Runtime
	id   int
	myPE int

	infoParent team.Info
	infoWorld  team.Info
	comm       bootstrap.Comm

	syncGen   atomic.Uint64
	destroyed atomic.Bool
}

// TeamInvalid is the handle non-members receive from Split.
var TeamInvalid *Team

// MyPE returns the caller's index within the team, or InvalidPE on
// the invalid handle.
func (t *Team) MyPE() int {
	if t == nil {
		return InvalidPE
	}
	return t.myPE
}

// NumPEs returns the member count, or 0 on the invalid handle.
func (t *Team) NumPEs() int {
	if t == nil {
		return 0
	}
	return t.infoWorld.Size
}

// ID returns the team id, or InvalidPE on the invalid handle.
func (t *Team) ID() int {
	if t == nil {
		return InvalidPE
	}
	return t.id
}

// ActiveSet returns the team's world-relative affine descriptor.
func (t *Team) ActiveSet() ActiveSet {
	if t == nil {
		return ActiveSet{}
	}
	return ActiveSet{Start: t.infoWorld.Start, Stride: t.infoWorld.Stride, Size: t.infoWorld.Size}
}

// ParentSet returns the team's parent-relative affine descriptor.
func (t *Team) ParentSet() ActiveSet {
	if t == nil {
		return ActiveSet{}
	}
	return ActiveSet{Start: t.infoParent.Start, Stride: t.infoParent.Stride, Size: t.infoParent.Size}
}

func (t *Team) valid() bool {
	return t != nil && !t.destroyed.Load()
}

// Split derives a child team from t by the affine triplet (start,
// stride, size) over t's numbering. Collective: every member of t
// must call it with identical arguments in the same relative order —
// no cross-PE argument verification is performed, so mismatched calls
// are undefined behavior. Argument errors return (TeamInvalid, err)
// and are recoverable; a full team-ID table returns
// ErrResourceExhausted (fatal on the package-level surface).
// Non-members of the child receive (TeamInvalid, nil).
//
// Concurrent Split calls from multiple goroutines on one PE are not
// supported: the ID agreement below is a cross-PE protocol staged
// through fixed scratch slots.
func (t *Team) Split(start, stride, size int) (*Team, error) {
	if !t.valid() {
		return TeamInvalid, fmt.Errorf("%w: split of invalid team", ErrInvalidArgument)
	}
	r := t.rt
	if err := r.check(); err != nil {
		return TeamInvalid, err
	}
	if t.myPE == InvalidPE {
		return TeamInvalid, fmt.Errorf("%w: caller is not a member of the parent", ErrInvalidArgument)
	}

	childWorld, err := team.Split(t.infoWorld, start, stride, size, r.worldSize)
	if err != nil {
		return TeamInvalid, fmt.Errorf("%w: split(start=%d stride=%d size=%d)", ErrInvalidArgument, start, stride, size)
	}
	childParent := team.Info{Start: start, Stride: stride, Size: size}
	myIdx := childWorld.IndexOf(r.rank)

	id, err := t.agreeTeamID()
	if err != nil {
		return TeamInvalid, err
	}

	// Communicator split with a binary color: child members against
	// everyone else, ordered by world rank.
	color := -1
	if myIdx != InvalidPE {
		color = 1
	}
	childComm, err := r.boot.Split(t.comm, color, r.rank)
	if err != nil {
		return TeamInvalid, fmt.Errorf("%w: communicator split: %v", ErrBackend, err)
	}

	if myIdx == InvalidPE {
		return TeamInvalid, nil
	}

	// The ID is reserved on member PEs only: scratch blocks are
	// addressed by (id, pe), so two teams may share an id as long as
	// their member sets are disjoint.
	if err := r.tracker.Reserve(id); err != nil {
		return TeamInvalid, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	nt := &Team{
		rt:         r,
		id:         id,
		myPE:       myIdx,
		infoParent: childParent,
		infoWorld:  childWorld,
		comm:       childComm,
	}
	r.mu.Lock()
	r.teams[id] = nt
	r.mu.Unlock()

	r.logger.Debug("team created",
		"team", id,
		"start", childWorld.Start,
		"stride", childWorld.Stride,
		"size", size,
		"my_pe", myIdx,
	)
	return nt, nil
}

// agreeTeamID picks a team id every parent member has free: each
// member AND-reduces its free-ID mask into the parent root's scratch
// slot, the root picks the lowest common bit and publishes it to
// every member's scratch. Bootstrap barriers fence the three phases.
func (t *Team) agreeTeamID() (int, error) {
	r := t.rt
	region := r.heap.Region()
	rootWorld := t.infoWorld.WorldPE(0)
	andAddr := r.heap.TeamSlot(t.id, heap.SlotMaskAnd)
	outAddr := r.heap.TeamSlot(t.id, heap.SlotMaskOut)
	const exhausted = ^uint64(0)

	if r.rank == rootWorld {
		if err := region.Store64(andAddr, ^uint64(0)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	if err := r.boot.Barrier(t.comm); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if _, err := r.be.AMO(rootWorld, backend.AMOAnd, andAddr, 8, r.tracker.FreeMask(), 0); err != nil {
		return 0, fmt.Errorf("%w: id reduction: %v", ErrBackend, err)
	}
	if err := r.boot.Barrier(t.comm); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if r.rank == rootWorld {
		mask, err := region.Load64(andAddr)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		// World id bit 0 is never free; mask it out defensively.
		out := exhausted
		if id, err := team.PickFrom(mask &^ 1); err == nil {
			out = uint64(id + 1)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], out)
		for i := 0; i < t.infoWorld.Size; i++ {
			if err := r.be.Put(t.infoWorld.WorldPE(i), outAddr, buf[:]); err != nil {
				return 0, fmt.Errorf("%w: id publish: %v", ErrBackend, err)
			}
		}
	}
	if err := r.boot.Barrier(t.comm); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	out, err := region.Load64(outAddr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := region.Store64(outAddr, 0); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if out == exhausted {
		return 0, fmt.Errorf("%w: no team id free on every member (limit %d)", ErrResourceExhausted, r.tracker.Capacity())
	}
	return int(out - 1), nil
}

// Sync is the team barrier: it returns once every member has entered
// this call. It does not order outstanding non-blocking operations;
// Barrier does.
func (t *Team) Sync() error {
	if !t.valid() {
		return fmt.Errorf("%w: sync on invalid team", ErrInvalidArgument)
	}
	r := t.rt
	if err := r.check(); err != nil {
		return err
	}
	r.stats.barriers.Add(1)
	size := t.infoWorld.Size
	if size == 1 {
		return nil
	}

	// Monotonic generations keep the scratch slots reusable without
	// reinitialization: arrivals accumulate on the root, releases
	// accumulate on every member.
	gen := t.syncGen.Add(1)
	arrive := SymAddr(r.heap.TeamSlot(t.id, heap.SlotArrive))
	release := SymAddr(r.heap.TeamSlot(t.id, heap.SlotRelease))

	if t.myPE == 0 {
		WaitUntil(r, arrive, CmpGE, gen*uint64(size-1))
		for i := 1; i < size; i++ {
			if _, err := r.be.AMO(t.infoWorld.WorldPE(i), backend.AMOAdd, uint64(release), 8, 1, 0); err != nil {
				return fmt.Errorf("%w: sync release: %v", ErrBackend, err)
			}
		}
	} else {
		if _, err := r.be.AMO(t.infoWorld.WorldPE(0), backend.AMOAdd, uint64(arrive), 8, 1, 0); err != nil {
			return fmt.Errorf("%w: sync arrive: %v", ErrBackend, err)
		}
		WaitUntil(r, release, CmpGE, gen)
	}
	return nil
}

// Barrier quiesces the default context, then syncs the team.
func (t *Team) Barrier() error {
	if !t.valid() {
		return fmt.Errorf("%w: barrier on invalid team", ErrInvalidArgument)
	}
	if err := t.rt.Quiet(); err != nil {
		return err
	}
	return t.Sync()
}

// Destroy releases the team. No-op on the invalid handle and on the
// world team. Collective over the team's members; must not run
// concurrently with operations still in flight on the team.
func (t *Team) Destroy() error {
	if t == nil || t.id == team.WorldID || t.destroyed.Load() {
		return nil
	}
	if err := t.rt.check(); err != nil {
		return err
	}
	return t.destroy()
}

func (t *Team) destroy() error {
	r := t.rt
	if !t.destroyed.CompareAndSwap(false, true) {
		return nil
	}

	// Quiesce and rendezvous before touching shared scratch.
	if err := t.rt.defaultCtx.bc.Quiet(); err != nil {
		r.logger.Error("quiet failed during team destroy", "team", t.id, "error", err)
	}
	if err := r.boot.Barrier(t.comm); err != nil {
		return fmt.Errorf("%w: destroy barrier: %v", ErrBackend, err)
	}

	// The id is only reusable once every member's scratch copy is
	// back to zero.
	for slot := 0; slot < int(heap.TeamScratchSize/8); slot++ {
		if err := r.heap.Region().Store64(r.heap.TeamSlot(t.id, slot), 0); err != nil {
			return fmt.Errorf("%w: scratch reset: %v", ErrBackend, err)
		}
	}
	if err := r.boot.Barrier(t.comm); err != nil {
		return fmt.Errorf("%w: destroy barrier: %v", ErrBackend, err)
	}

	r.mu.Lock()
	delete(r.teams, t.id)
	r.mu.Unlock()
	r.tracker.Release(t.id)
	r.logger.Debug("team destroyed", "team", t.id)
	return nil
}

// TranslatePE maps a member index of src into dst's numbering.
// InvalidPE when pe is out of range in src or its world PE is not a
// dst member. Exact integer arithmetic throughout.
func TranslatePE(src *Team, pe int, dst *Team) int {
	if !src.valid() || !dst.valid() {
		return InvalidPE
	}
	return team.Translate(src.infoWorld, pe, dst.infoWorld)
}
