package ronet

import (
	"fmt"
	"unsafe"

	"github.com/nmxmxh/ronet/internal/heap"
)

// Alloc carves size bytes out of the symmetric heap. Collective over
// the world team: every PE must call Alloc in the same relative order
// (per-PE sizes may differ, but the call sequence must agree or heap
// offsets diverge). The returned offset is identical on every PE and
// not usable for communication until the call returns on all of them;
// a full world barrier inside the call guarantees that.
func (r *Runtime) Alloc(size uint64) (SymAddr, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	off, err := r.heap.Alloc(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	if err := r.boot.Barrier(r.world.comm); err != nil {
		return 0, fmt.Errorf("%w: alloc barrier: %v", ErrBackend, err)
	}
	return SymAddr(off), nil
}

// Free releases a symmetric allocation. Collective over the world
// team in the same relative order as Alloc. The barrier comes first:
// no PE's memory is released while a peer may still address it.
func (r *Runtime) Free(addr SymAddr) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.boot.Barrier(r.world.comm); err != nil {
		return fmt.Errorf("%w: free barrier: %v", ErrBackend, err)
	}
	return r.heap.Free(uint64(addr))
}

// Bytes returns a local view of [addr, addr+n) in this PE's region.
// The caller owns synchronization against concurrent remote writes.
func (r *Runtime) Bytes(addr SymAddr, n int) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.heap.Region().Slice(uint64(addr), uint64(n))
}

// HeapStats snapshots the arena allocator.
func (r *Runtime) HeapStats() heap.ArenaStats { return r.heap.Stats() }

// LocalSlice views n elements of symmetric memory as a typed slice on
// the local PE. Remote PEs address the same object via (addr, pe).
func LocalSlice[T Scalar](r *Runtime, addr SymAddr, n int) ([]T, error) {
	var zero T
	b, err := r.Bytes(addr, n*int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n), nil
}
