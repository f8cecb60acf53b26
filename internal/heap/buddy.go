package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

var (
	ErrExhausted = errors.New("heap: arena exhausted")
	ErrBadFree   = errors.New("heap: free of unallocated offset")
)

// buddy manages the user arena with power-of-two blocks. Free lists
// are threaded through the arena itself (an 8-byte next pointer at the
// head of each free block), so the allocator costs no memory beyond
// its bitmap and level table.
//
// Allocation order is the only input: two PEs issuing the same
// sequence of Alloc/Free calls observe identical offsets, which is the
// symmetric-heap agreement contract.
type buddy struct {
	mu sync.Mutex

	data      []byte
	base      uint64 // first arena byte, absolute region offset
	size      uint64
	numLevels int

	freeLists []uint64 // head offset per level, 0 = empty

	// one bit per MinBlock unit; blockLevels holds level+1 at the
	// head unit of each allocated block and 0 elsewhere, so a free
	// at a non-head offset is rejected
	bitmap      []uint64
	blockLevels []uint8

	allocated uint64
	allocs    uint64
	frees     uint64
}

func newBuddy(data []byte, base, size uint64) *buddy {
	size &^= MinBlock - 1
	numBlocks := size / MinBlock
	levels := bits.Len64(numBlocks)
	if levels == 0 {
		levels = 1
	}

	b := &buddy{
		data:        data,
		base:        base,
		size:        size,
		numLevels:   levels,
		freeLists:   make([]uint64, levels),
		bitmap:      make([]uint64, (numBlocks+63)/64),
		blockLevels: make([]uint8, numBlocks),
	}

	// Seed the free lists with the largest blocks that tile the
	// arena.
	remaining := size
	off := base
	for remaining >= MinBlock {
		level := b.numLevels - 1
		for level >= 0 {
			sz := b.levelSize(level)
			if sz <= remaining && (off-base)%sz == 0 {
				b.pushFree(off, level)
				off += sz
				remaining -= sz
				break
			}
			level--
		}
	}
	return b
}

func (b *buddy) levelSize(level int) uint64 { return MinBlock << uint(level) }

func (b *buddy) sizeToLevel(size uint64) int {
	level := 0
	for block := uint64(MinBlock); block < size && level < b.numLevels-1; block <<= 1 {
		level++
	}
	return level
}

// Alloc returns the absolute region offset of a block of at least
// size bytes. Size zero is rounded up to one minimum block.
func (b *buddy) Alloc(size uint64) (uint64, error) {
	if size > b.levelSize(b.numLevels-1) {
		return 0, fmt.Errorf("%w: %d exceeds largest block %d", ErrExhausted, size, b.levelSize(b.numLevels-1))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	level := b.sizeToLevel(size)
	off := b.takeFree(level)
	if off == 0 {
		return 0, fmt.Errorf("%w: no free block of %d bytes", ErrExhausted, b.levelSize(level))
	}
	b.markAllocated(off, level)
	b.allocated += b.levelSize(level)
	b.allocs++
	return off, nil
}

// Free releases a previously allocated block and coalesces with its
// buddy chain.
func (b *buddy) Free(off uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < b.base || off >= b.base+b.size || (off-b.base)%MinBlock != 0 {
		return fmt.Errorf("%w: offset %d", ErrBadFree, off)
	}
	idx := (off - b.base) / MinBlock
	if b.bitmap[idx/64]&(1<<(idx%64)) == 0 || b.blockLevels[idx] == 0 {
		return fmt.Errorf("%w: offset %d", ErrBadFree, off)
	}
	level := int(b.blockLevels[idx] - 1)
	b.markFree(off, level)
	b.allocated -= b.levelSize(level)
	b.frees++
	b.coalesce(off, level)
	return nil
}

func (b *buddy) takeFree(level int) uint64 {
	if head := b.freeLists[level]; head != 0 {
		b.freeLists[level] = b.nextFree(head)
		return head
	}
	// Split the nearest larger block down to the requested level.
	for from := level + 1; from < b.numLevels; from++ {
		if b.freeLists[from] == 0 {
			continue
		}
		off := b.freeLists[from]
		b.freeLists[from] = b.nextFree(off)
		for l := from - 1; l >= level; l-- {
			b.pushFree(off+b.levelSize(l), l)
		}
		return off
	}
	return 0
}

func (b *buddy) coalesce(off uint64, level int) {
	for level < b.numLevels-1 {
		rel := off - b.base
		buddyOff := b.base + (rel ^ b.levelSize(level))
		if !b.isFreeBlock(buddyOff, level) {
			break
		}
		b.removeFree(buddyOff, level)
		if buddyOff < off {
			off = buddyOff
		}
		level++
	}
	b.pushFree(off, level)
}

func (b *buddy) isFreeBlock(off uint64, level int) bool {
	if off < b.base || off+b.levelSize(level) > b.base+b.size {
		return false
	}
	start := (off - b.base) / MinBlock
	n := b.levelSize(level) / MinBlock
	for i := uint64(0); i < n; i++ {
		idx := start + i
		if b.bitmap[idx/64]&(1<<(idx%64)) != 0 {
			return false
		}
	}
	// A block is only a merge candidate when it sits on the free
	// list at exactly this level.
	for cur := b.freeLists[level]; cur != 0; cur = b.nextFree(cur) {
		if cur == off {
			return true
		}
	}
	return false
}

func (b *buddy) markAllocated(off uint64, level int) {
	start := (off - b.base) / MinBlock
	n := b.levelSize(level) / MinBlock
	for i := uint64(0); i < n; i++ {
		idx := start + i
		b.bitmap[idx/64] |= 1 << (idx % 64)
		b.blockLevels[idx] = 0
	}
	b.blockLevels[start] = uint8(level + 1)
}

func (b *buddy) markFree(off uint64, level int) {
	start := (off - b.base) / MinBlock
	n := b.levelSize(level) / MinBlock
	for i := uint64(0); i < n; i++ {
		idx := start + i
		b.bitmap[idx/64] &^= 1 << (idx % 64)
	}
	b.blockLevels[start] = 0
}

func (b *buddy) pushFree(off uint64, level int) {
	binary.LittleEndian.PutUint64(b.data[off:off+8], b.freeLists[level])
	b.freeLists[level] = off
}

func (b *buddy) removeFree(off uint64, level int) {
	if b.freeLists[level] == off {
		b.freeLists[level] = b.nextFree(off)
		return
	}
	for cur := b.freeLists[level]; cur != 0; cur = b.nextFree(cur) {
		if b.nextFree(cur) == off {
			binary.LittleEndian.PutUint64(b.data[cur:cur+8], b.nextFree(off))
			return
		}
	}
}

func (b *buddy) nextFree(off uint64) uint64 {
	if off == 0 || off < b.base || off >= b.base+b.size {
		return 0
	}
	return binary.LittleEndian.Uint64(b.data[off : off+8])
}

// ArenaStats is a point-in-time allocator snapshot.
type ArenaStats struct {
	ArenaSize uint64
	Allocated uint64
	Free      uint64
	Allocs    uint64
	Frees     uint64
}

func (b *buddy) Stats() ArenaStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ArenaStats{
		ArenaSize: b.size,
		Allocated: b.allocated,
		Free:      b.size - b.allocated,
		Allocs:    b.allocs,
		Frees:     b.frees,
	}
}
