// Package heap implements the symmetric memory region: a byte range
// with the same layout on every PE, addressed by offset, plus the
// deterministic allocator that keeps those offsets in agreement.
package heap

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

var (
	ErrOutOfBounds = errors.New("heap: offset out of bounds")
	ErrMisaligned  = errors.New("heap: misaligned atomic access")
)

// Region is one PE's symmetric memory. All remote operations land
// here: bulk copies through Slice views, word operations through the
// atomic accessors. Atomics require natural alignment.
type Region struct {
	data []byte
}

func NewRegion(size uint64) *Region {
	return &Region{data: make([]byte, size)}
}

func (r *Region) Size() uint64 { return uint64(len(r.data)) }

// Slice returns a view of [off, off+n). The caller owns
// synchronization for anything it does through the view.
func (r *Region) Slice(off, n uint64) ([]byte, error) {
	if err := r.check(off, n); err != nil {
		return nil, err
	}
	return r.data[off : off+n : off+n], nil
}

func (r *Region) check(off, n uint64) error {
	if off > uint64(len(r.data)) || n > uint64(len(r.data))-off {
		return fmt.Errorf("%w: [%d,+%d) in region of %d", ErrOutOfBounds, off, n, len(r.data))
	}
	return nil
}

func (r *Region) checkWord(off, width uint64) error {
	if err := r.check(off, width); err != nil {
		return err
	}
	if off%width != 0 {
		return fmt.Errorf("%w: offset %d for %d-byte access", ErrMisaligned, off, width)
	}
	return nil
}

func (r *Region) word32(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) word64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) Load32(off uint64) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	return atomic.LoadUint32(r.word32(off)), nil
}

func (r *Region) Store32(off uint64, v uint32) error {
	if err := r.checkWord(off, 4); err != nil {
		return err
	}
	atomic.StoreUint32(r.word32(off), v)
	return nil
}

func (r *Region) Add32(off uint64, delta uint32) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	return atomic.AddUint32(r.word32(off), delta), nil
}

func (r *Region) Swap32(off uint64, v uint32) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	return atomic.SwapUint32(r.word32(off), v), nil
}

func (r *Region) Cas32(off uint64, old, new uint32) (bool, error) {
	if err := r.checkWord(off, 4); err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32(r.word32(off), old, new), nil
}

func (r *Region) Load64(off uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	return atomic.LoadUint64(r.word64(off)), nil
}

func (r *Region) Store64(off uint64, v uint64) error {
	if err := r.checkWord(off, 8); err != nil {
		return err
	}
	atomic.StoreUint64(r.word64(off), v)
	return nil
}

func (r *Region) Add64(off uint64, delta uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	return atomic.AddUint64(r.word64(off), delta), nil
}

func (r *Region) Swap64(off uint64, v uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	return atomic.SwapUint64(r.word64(off), v), nil
}

func (r *Region) Cas64(off uint64, old, new uint64) (bool, error) {
	if err := r.checkWord(off, 8); err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64(r.word64(off), old, new), nil
}

func (r *Region) And32(off uint64, mask uint32) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	return atomic.AndUint32(r.word32(off), mask), nil
}

func (r *Region) Or32(off uint64, mask uint32) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	return atomic.OrUint32(r.word32(off), mask), nil
}

// Xor32 has no intrinsic; it retries a CAS until the update lands.
func (r *Region) Xor32(off uint64, mask uint32) (uint32, error) {
	if err := r.checkWord(off, 4); err != nil {
		return 0, err
	}
	p := r.word32(off)
	for {
		old := atomic.LoadUint32(p)
		if atomic.CompareAndSwapUint32(p, old, old^mask) {
			return old, nil
		}
	}
}

func (r *Region) And64(off uint64, mask uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	return atomic.AndUint64(r.word64(off), mask), nil
}

func (r *Region) Or64(off uint64, mask uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	return atomic.OrUint64(r.word64(off), mask), nil
}

func (r *Region) Xor64(off uint64, mask uint64) (uint64, error) {
	if err := r.checkWord(off, 8); err != nil {
		return 0, err
	}
	p := r.word64(off)
	for {
		old := atomic.LoadUint64(p)
		if atomic.CompareAndSwapUint64(p, old, old^mask) {
			return old, nil
		}
	}
}

// Close drops the backing storage. Callers must have joined every
// worker that can still touch the region.
func (r *Region) Close() {
	r.data = nil
}
