package team

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
)

// Tracker is the process-wide registry of live team IDs. IDs are bits
// in a 64-bit mask so peers can agree on a fresh ID with a single
// AND-reduction of their free masks. Bit 0 is the world team and is
// never free.
//
// The registry is mutex-guarded; the cross-PE requirement that every
// parent member runs team operations in the same relative order is
// the caller's contract and cannot be enforced here.
type Tracker struct {
	mu       sync.Mutex
	limit    int
	freeMask uint64
	live     map[int]struct{}
	logger   *slog.Logger
}

func NewTracker(limit int, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 || limit > 64 {
		return nil, fmt.Errorf("%w: limit %d outside [1,64]", ErrBadSplit, limit)
	}
	var mask uint64
	for id := 1; id < limit; id++ {
		mask |= 1 << uint(id)
	}
	t := &Tracker{
		limit:    limit,
		freeMask: mask,
		live:     map[int]struct{}{WorldID: {}},
		logger:   logger.With("component", "team-tracker"),
	}
	return t, nil
}

// FreeMask snapshots the locally free ID bits for the cross-PE
// AND-reduction.
func (t *Tracker) FreeMask() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.freeMask
}

// PickFrom returns the lowest ID set in a reduced mask, or an error
// when no ID is commonly free anywhere.
func PickFrom(reduced uint64) (int, error) {
	if reduced == 0 {
		return 0, ErrExhausted
	}
	return bits.TrailingZeros64(reduced), nil
}

// Reserve claims an agreed ID. Claiming an ID this PE no longer has
// free means the callers diverged on operation order; that is
// unrecoverable.
func (t *Tracker) Reserve(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id <= WorldID || id >= t.limit {
		return fmt.Errorf("%w: id %d outside (0,%d)", ErrBadSplit, id, t.limit)
	}
	if t.freeMask&(1<<uint(id)) == 0 {
		return fmt.Errorf("%w: id %d already live", ErrExhausted, id)
	}
	t.freeMask &^= 1 << uint(id)
	t.live[id] = struct{}{}
	t.logger.Debug("team registered", "id", id, "live", len(t.live))
	return nil
}

// Release frees an ID. Releasing the world team or an ID that is not
// live is ignored with a warning; the destroy path treats both as
// no-ops.
func (t *Tracker) Release(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == WorldID {
		return
	}
	if _, ok := t.live[id]; !ok {
		t.logger.Warn("release of unknown team id", "id", id)
		return
	}
	delete(t.live, id)
	t.freeMask |= 1 << uint(id)
	t.logger.Debug("team released", "id", id, "live", len(t.live))
}

// Live returns the user team IDs currently registered, for the
// teardown walk.
func (t *Tracker) Live() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.live))
	for id := range t.live {
		if id != WorldID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Tracker) Capacity() int { return t.limit }
