package backend

import (
	"fmt"
	"sync"
)

// FreeList hands out slot indices from a fixed-capacity pool. A slot
// is either free or held by exactly one live context; double release
// and foreign indices are rejected rather than silently absorbed.
// A next-index hint with wraparound keeps acquisition O(1) in the
// common case.
type FreeList struct {
	mu       sync.Mutex
	capacity int
	bitmap   []uint64 // set bit = held
	next     int
	held     int
}

func NewFreeList(capacity int) *FreeList {
	return &FreeList{
		capacity: capacity,
		bitmap:   make([]uint64, (capacity+63)/64),
	}
}

// Acquire returns a free slot index marked held, or ErrExhausted when
// every slot is live.
func (f *FreeList) Acquire() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.held == f.capacity {
		return 0, fmt.Errorf("%w: all %d slots held", ErrExhausted, f.capacity)
	}
	idx := f.next
	for f.isHeld(idx) {
		idx++
		if idx == f.capacity {
			idx = 0
		}
	}
	f.bitmap[idx/64] |= 1 << (idx % 64)
	f.held++
	f.next = idx + 1
	if f.next == f.capacity {
		f.next = 0
	}
	return idx, nil
}

// Release frees a held slot.
func (f *FreeList) Release(idx int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idx < 0 || idx >= f.capacity {
		return fmt.Errorf("%w: index %d outside [0,%d)", ErrBadHandle, idx, f.capacity)
	}
	if !f.isHeld(idx) {
		return fmt.Errorf("%w: slot %d not held", ErrBadHandle, idx)
	}
	f.bitmap[idx/64] &^= 1 << (idx % 64)
	f.held--
	if idx < f.next {
		f.next = idx
	}
	return nil
}

func (f *FreeList) isHeld(idx int) bool {
	return f.bitmap[idx/64]&(1<<(idx%64)) != 0
}

func (f *FreeList) Held() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func (f *FreeList) Capacity() int { return f.capacity }
