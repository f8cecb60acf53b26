package ronet

import (
	"fmt"
	"unsafe"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/heap"
	"github.com/nmxmxh/ronet/internal/team"
)

// Collectives over an explicit active set or a team. Active-set forms
// take caller-supplied symmetric scratch: psync slots are 8 bytes,
// must hold SyncValue before first use, and are restored to it on
// completion so the same scratch is reusable across repeated calls
// without reinitialization. Team forms stage through the team's
// reserved scratch and work buffer instead.

const (
	// SyncValue is the required initial content of every psync slot.
	SyncValue = 0

	// BcastSyncSize and ReduceSyncSize are psync slot counts.
	BcastSyncSize  = 2
	ReduceSyncSize = 2
)

// ReduceWrkCount returns the element capacity pwrk needs for a
// reduction of nreduce elements over setSize PEs: one ring chunk.
func ReduceWrkCount(nreduce, setSize int) int {
	if setSize <= 0 {
		return 0
	}
	return (nreduce + setSize - 1) / setSize
}

func asInfo(r *Runtime, call string, as ActiveSet) team.Info {
	info := team.Info{Start: as.Start, Stride: as.Stride, Size: as.Size}
	if as.Start < 0 || as.Stride < 1 || as.Size < 1 || info.End() >= r.worldSize {
		r.fatal(call, fmt.Errorf("%w: active set {start=%d stride=%d size=%d} in world of %d",
			ErrInvalidArgument, as.Start, as.Stride, as.Size, r.worldSize))
	}
	return info
}

// Broadcast delivers nelem elements at source on the root to dest on
// every other active-set member. root is the root's index within the
// active set and must name a member; the root's own dest is left
// untouched. psync needs BcastSyncSize slots.
func Broadcast[T Scalar](r *Runtime, dest, source SymAddr, nelem, root int, as ActiveSet, psync SymAddr) {
	if err := r.check(); err != nil {
		r.fatal("broadcast", err)
	}
	info := asInfo(r, "broadcast", as)
	if root < 0 || root >= info.Size {
		r.fatal("broadcast", fmt.Errorf("%w: root %d outside active set of %d", ErrInvalidArgument, root, info.Size))
	}
	myIdx := info.IndexOf(r.rank)
	if myIdx == InvalidPE {
		return
	}
	r.stats.broadcasts.Add(1)
	if info.Size == 1 {
		return
	}

	ready := psync
	ack := psync + 8
	region := r.heap.Region()

	if myIdx == root {
		src, err := r.Bytes(source, nelem*sizeOf[T]())
		if err != nil {
			r.fatal("broadcast", err)
		}
		for i := 0; i < info.Size; i++ {
			if i == root {
				continue
			}
			pe := info.WorldPE(i)
			if err := r.be.Put(pe, uint64(dest), src); err != nil {
				r.fatal("broadcast", &OpError{Op: "broadcast", PE: pe, Cause: err})
			}
			// The put above completed before this bump, so a member
			// observing ready also sees the payload.
			if _, err := r.be.AMO(pe, backend.AMOAdd, uint64(ready), 8, 1, 0); err != nil {
				r.fatal("broadcast", &OpError{Op: "broadcast", PE: pe, Cause: err})
			}
		}
		WaitUntil(r, ack, CmpGE, uint64(info.Size-1))
		// Every member acked after resetting its own ready slot, so
		// storing the sentinel here cannot race a new call.
		if err := region.Store64(uint64(ack), SyncValue); err != nil {
			r.fatal("broadcast", err)
		}
		return
	}

	WaitUntil(r, ready, CmpNE, uint64(SyncValue))
	if err := region.Store64(uint64(ready), SyncValue); err != nil {
		r.fatal("broadcast", err)
	}
	rootPE := info.WorldPE(root)
	if _, err := r.be.AMO(rootPE, backend.AMOAdd, uint64(ack), 8, 1, 0); err != nil {
		r.fatal("broadcast", &OpError{Op: "broadcast", PE: rootPE, Cause: err})
	}
}

// Reduce combines n elements elementwise across the active set with
// op; every member ends with the full result at dest. Arithmetic
// operators work on every scalar type, bitwise ones on the integer
// types. pwrk needs ReduceWrkCount(n, size) elements and psync
// ReduceSyncSize slots.
func Reduce[T Scalar](r *Runtime, op ReduceOp, dest, source SymAddr, n int, as ActiveSet, pwrk, psync SymAddr) {
	if err := r.check(); err != nil {
		r.fatal("reduce", err)
	}
	if op.bitwise() && !integerScalar[T]() {
		r.fatal("reduce", fmt.Errorf("%w: %v reduction on a non-integer type", ErrInvalidArgument, op))
	}
	info := asInfo(r, "reduce", as)
	myIdx := info.IndexOf(r.rank)
	if myIdx == InvalidPE {
		return
	}
	r.stats.reductions.Add(1)

	if dest != source {
		copyLocal[T](r, "reduce", dest, source, n)
	}
	if info.Size == 1 {
		return
	}
	reduceRing[T](r, op, info, myIdx, dest, n, pwrk, ReduceWrkCount(n, info.Size), psync)
}

// reduceRing runs a flow-controlled ring: reduce-scatter then
// allgather, staging chunks through the ring successor's pwrk. psync
// slot 0 counts chunks landed by the predecessor, slot 1 counts own
// chunks consumed by the successor; both grow monotonically through
// the call (GE waits) and are lowered back to the sentinel by an
// atomic subtraction at the end, so a peer racing ahead into the next
// call cannot lose an increment. wrkCap caps the chunk staged per
// step; when the natural chunk exceeds it the vector is processed in
// segments with the counters running on.
func reduceRing[T Scalar](r *Runtime, op ReduceOp, info team.Info, myIdx int, dest SymAddr, n int, pwrk SymAddr, wrkCap int, psync SymAddr) {
	size := info.Size
	esize := sizeOf[T]()
	succ := info.WorldPE((myIdx + 1) % size)
	pred := info.WorldPE((myIdx + size - 1) % size)
	data := psync
	credit := psync + 8

	chunk := ReduceWrkCount(n, size)
	segElems := n
	if chunk > wrkCap {
		chunk = wrkCap
		segElems = wrkCap * size
	}

	step := 0
	bump := func(pe int, addr SymAddr) {
		if _, err := r.be.AMO(pe, backend.AMOAdd, uint64(addr), 8, 1, 0); err != nil {
			r.fatal("reduce", &OpError{Op: "reduce", PE: pe, Cause: err})
		}
	}
	xfer := func(segBase, sendChunk, recvChunk int, reducing bool) {
		if step > 0 {
			WaitUntil(r, credit, CmpGE, uint64(step))
		}
		lo := segBase + sendChunk*chunk
		hi := min(segBase+(sendChunk+1)*chunk, min(segBase+segElems, n))
		if hi > lo {
			src, err := r.Bytes(dest+SymAddr(lo*esize), (hi-lo)*esize)
			if err != nil {
				r.fatal("reduce", err)
			}
			if err := r.be.Put(succ, uint64(pwrk), src); err != nil {
				r.fatal("reduce", &OpError{Op: "reduce", PE: succ, Cause: err})
			}
		}
		bump(succ, data)

		WaitUntil(r, data, CmpGE, uint64(step+1))
		rlo := segBase + recvChunk*chunk
		rhi := min(segBase+(recvChunk+1)*chunk, min(segBase+segElems, n))
		if rhi > rlo {
			combine[T](r, op, dest+SymAddr(rlo*esize), pwrk, rhi-rlo, reducing)
		}
		bump(pred, credit)
		step++
	}

	for segBase := 0; segBase < n; segBase += segElems {
		for s := 0; s < size-1; s++ {
			xfer(segBase, (myIdx-s+size)%size, (myIdx-s-1+2*size)%size, true)
		}
		for s := 0; s < size-1; s++ {
			xfer(segBase, (myIdx+1-s+2*size)%size, (myIdx-s+2*size)%size, false)
		}
	}

	// All my sends consumed and all my receives landed; lower both
	// counters by what this call added. Subtraction rather than a
	// store: an early increment from a peer already in the next call
	// survives it.
	total := uint64(step)
	WaitUntil(r, data, CmpGE, total)
	WaitUntil(r, credit, CmpGE, total)
	for _, addr := range []SymAddr{data, credit} {
		if _, err := r.be.AMO(r.rank, backend.AMOAdd, uint64(addr), 8, ^total+1, 0); err != nil {
			r.fatal("reduce", err)
		}
	}
}

// combine folds nelem staged elements at src into dest, reducing or
// overwriting. Both addresses are local.
func combine[T Scalar](r *Runtime, op ReduceOp, dest, src SymAddr, nelem int, reducing bool) {
	esize := sizeOf[T]()
	db, err := r.Bytes(dest, nelem*esize)
	if err != nil {
		r.fatal("reduce", err)
	}
	sb, err := r.Bytes(src, nelem*esize)
	if err != nil {
		r.fatal("reduce", err)
	}
	if !reducing {
		copy(db, sb)
		return
	}
	switch op {
	case OpOr:
		for i := range db {
			db[i] |= sb[i]
		}
	case OpAnd:
		for i := range db {
			db[i] &= sb[i]
		}
	case OpXor:
		for i := range db {
			db[i] ^= sb[i]
		}
	default:
		d := bytesAs[T](db, nelem)
		s := bytesAs[T](sb, nelem)
		switch op {
		case OpSum:
			for i := range d {
				d[i] += s[i]
			}
		case OpProd:
			for i := range d {
				d[i] *= s[i]
			}
		case OpMin:
			for i := range d {
				if s[i] < d[i] {
					d[i] = s[i]
				}
			}
		case OpMax:
			for i := range d {
				if s[i] > d[i] {
					d[i] = s[i]
				}
			}
		default:
			r.fatal("reduce", fmt.Errorf("%w: operator %v", ErrInvalidArgument, op))
		}
	}
}

func (op ReduceOp) bitwise() bool {
	return op == OpOr || op == OpAnd || op == OpXor
}

// integerScalar reports whether T is one of the closed integer types.
// The scalar set is a fixed enumeration, so a type switch over it is
// exhaustive.
func integerScalar[T Scalar]() bool {
	var zero T
	switch any(zero).(type) {
	case int8, int16, int32, int64, int,
		uint8, uint16, uint32, uint64, uint, uintptr:
		return true
	default:
		return false
	}
}

func copyLocal[T Scalar](r *Runtime, call string, dest, source SymAddr, n int) {
	nb := n * sizeOf[T]()
	db, err := r.Bytes(dest, nb)
	if err != nil {
		r.fatal(call, err)
	}
	sb, err := r.Bytes(source, nb)
	if err != nil {
		r.fatal(call, err)
	}
	copy(db, sb)
}

func bytesAs[T Scalar](b []byte, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// TeamBroadcast is Broadcast over a team, staged through the team's
// reserved scratch slots. root is the team-local root index.
func TeamBroadcast[T Scalar](t *Team, dest, source SymAddr, nelem, root int) {
	if !t.valid() {
		fatal(nil, "team_broadcast", fmt.Errorf("%w: invalid team", ErrInvalidArgument))
	}
	r := t.rt
	Broadcast[T](r, dest, source, nelem, root, t.ActiveSet(), SymAddr(r.heap.TeamSlot(t.id, heap.SlotColl0)))
}

// TeamReduce is Reduce over a team, staged through the team's
// reserved scratch slots and work buffer; callers supply no scratch.
func TeamReduce[T Scalar](t *Team, op ReduceOp, dest, source SymAddr, n int) {
	if !t.valid() {
		fatal(nil, "team_reduce", fmt.Errorf("%w: invalid team", ErrInvalidArgument))
	}
	r := t.rt
	if err := r.check(); err != nil {
		r.fatal("team_reduce", err)
	}
	if op.bitwise() && !integerScalar[T]() {
		r.fatal("team_reduce", fmt.Errorf("%w: %v reduction on a non-integer type", ErrInvalidArgument, op))
	}
	if t.myPE == InvalidPE {
		return
	}
	r.stats.reductions.Add(1)
	if dest != source {
		copyLocal[T](r, "team_reduce", dest, source, n)
	}
	if t.infoWorld.Size == 1 {
		return
	}
	wrkCap := heap.TeamWrkSize / sizeOf[T]()
	reduceRing[T](r, op, t.infoWorld, t.myPE, dest, n,
		SymAddr(r.heap.TeamWrk(t.id)), wrkCap,
		SymAddr(r.heap.TeamSlot(t.id, heap.SlotColl0)))
}

// SyncAll is the world barrier: returns once every PE entered it.
func (r *Runtime) SyncAll() error {
	if err := r.check(); err != nil {
		return err
	}
	return r.world.Sync()
}

// BarrierAll quiesces the default context on every PE, then syncs the
// world.
func (r *Runtime) BarrierAll() error {
	if err := r.check(); err != nil {
		return err
	}
	return r.world.Barrier()
}
