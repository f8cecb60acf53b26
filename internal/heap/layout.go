package heap

// Symmetric heap layout. The region begins with a reserved internal
// segment; user allocations come from the arena behind it. Offsets
// are identical on every PE, which is what makes the scratch slots
// remotely addressable without any exchange.
//
//	0x00            guard (never allocated; keeps offset 0 invalid)
//	0x40            team scratch blocks, one per team ID slot
//	wrk base        team work buffers, one per team ID slot (page aligned)
//	arena base      buddy-managed user arena (page aligned)

const (
	// GuardSize keeps the zero offset out of circulation.
	GuardSize = 64

	// TeamScratchSize is one team's reserved block: eight 8-byte
	// slots, cache-line sized.
	TeamScratchSize = 64

	// TeamWrkSize is one team's reserved work buffer, the staging
	// space for team collectives that take no caller scratch.
	TeamWrkSize = 4096

	// Slot indices within a team scratch block.
	SlotArrive  = 0 // barrier arrivals, used on the sync root's copy
	SlotRelease = 1 // barrier release generation, per member copy
	SlotMaskAnd = 2 // team-ID bitmask AND-reduction, on the root's copy
	SlotMaskOut = 3 // agreed team ID published by the root
	SlotColl0   = 4 // team collective sync slot 0
	SlotColl1   = 5 // team collective sync slot 1

	slotBytes = 8

	// AlignCacheLine and AlignPage mirror the region alignment the
	// allocators hand out.
	AlignCacheLine = 64
	AlignPage      = 4096

	// MinBlock is the smallest buddy block and therefore the
	// alignment of every user allocation.
	MinBlock = 64
)

// Layout places the reserved segment and the arena for a given
// configuration.
type Layout struct {
	HeapSize  uint64
	MaxTeams  int
	WrkBase   uint64
	ArenaBase uint64
}

// NewLayout computes the layout and validates that the arena has room
// left after the reserved segment.
func NewLayout(heapSize uint64, maxTeams int) (Layout, error) {
	if maxTeams <= 0 || maxTeams > 64 {
		return Layout{}, &LayoutError{Code: "BAD_TEAM_LIMIT", Message: "team limit must be in [1,64]"}
	}
	scratchEnd := uint64(GuardSize) + uint64(maxTeams)*TeamScratchSize
	wrkBase := alignUp(scratchEnd, AlignPage)
	base := alignUp(wrkBase+uint64(maxTeams)*TeamWrkSize, AlignPage)
	if base+MinBlock > heapSize {
		return Layout{}, &LayoutError{Code: "HEAP_TOO_SMALL", Message: "no arena space after reserved segment"}
	}
	return Layout{HeapSize: heapSize, MaxTeams: maxTeams, WrkBase: wrkBase, ArenaBase: base}, nil
}

// TeamSlot returns the offset of one scratch slot for a team ID.
func (l Layout) TeamSlot(teamID, slot int) uint64 {
	return uint64(GuardSize) + uint64(teamID)*TeamScratchSize + uint64(slot)*slotBytes
}

// TeamWrk returns the offset of a team's reserved work buffer.
func (l Layout) TeamWrk(teamID int) uint64 {
	return l.WrkBase + uint64(teamID)*TeamWrkSize
}

// ArenaSize is the byte count managed by the buddy allocator.
func (l Layout) ArenaSize() uint64 { return l.HeapSize - l.ArenaBase }

// Contains reports whether [off, off+n) lies inside the region.
func (l Layout) Contains(off, n uint64) bool {
	return off < l.HeapSize && n <= l.HeapSize-off
}

// LayoutError reports an invalid layout configuration.
type LayoutError struct {
	Code    string
	Message string
}

func (e *LayoutError) Error() string { return e.Code + ": " + e.Message }

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
