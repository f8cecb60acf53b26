package heap

import (
	"log/slog"
)

// Heap is one PE's symmetric heap: the region, its reserved layout,
// and the arena allocator. Alloc and Free are local bookkeeping only;
// the collective ordering contract (same call order on every PE,
// barrier around each call) is enforced a level up.
type Heap struct {
	layout Layout
	region *Region
	arena  *buddy
	logger *slog.Logger
}

func New(size uint64, maxTeams int, logger *slog.Logger) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layout, err := NewLayout(size, maxTeams)
	if err != nil {
		return nil, err
	}
	region := NewRegion(size)
	h := &Heap{
		layout: layout,
		region: region,
		arena:  newBuddy(region.data, layout.ArenaBase, layout.ArenaSize()),
		logger: logger.With("component", "heap"),
	}
	h.logger.Debug("symmetric heap ready",
		"size", size,
		"arena_base", layout.ArenaBase,
		"arena_size", layout.ArenaSize(),
	)
	return h, nil
}

func (h *Heap) Alloc(size uint64) (uint64, error) {
	off, err := h.arena.Alloc(size)
	if err != nil {
		return 0, err
	}
	h.logger.Debug("alloc", "offset", off, "size", size)
	return off, nil
}

func (h *Heap) Free(off uint64) error {
	if err := h.arena.Free(off); err != nil {
		return err
	}
	h.logger.Debug("free", "offset", off)
	return nil
}

func (h *Heap) Region() *Region   { return h.region }
func (h *Heap) Layout() Layout    { return h.layout }
func (h *Heap) Stats() ArenaStats { return h.arena.Stats() }

// TeamSlot resolves a team scratch slot to its region offset.
func (h *Heap) TeamSlot(teamID, slot int) uint64 {
	return h.layout.TeamSlot(teamID, slot)
}

// TeamWrk resolves a team's reserved work buffer offset.
func (h *Heap) TeamWrk(teamID int) uint64 {
	return h.layout.TeamWrk(teamID)
}

func (h *Heap) Close() {
	h.region.Close()
}
