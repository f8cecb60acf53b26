package ronet

import "sync/atomic"

// Stats counts operations issued through one runtime. Counters are
// updated atomically on the issue path and snapshotted on demand; the
// snapshot is also logged at Finalize.
type Stats struct {
	puts       atomic.Uint64
	gets       atomic.Uint64
	putsNBI    atomic.Uint64
	getsNBI    atomic.Uint64
	amos       atomic.Uint64
	waits      atomic.Uint64
	quiets     atomic.Uint64
	fences     atomic.Uint64
	barriers   atomic.Uint64
	broadcasts atomic.Uint64
	reductions atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Puts       uint64 `json:"puts"`
	Gets       uint64 `json:"gets"`
	PutsNBI    uint64 `json:"puts_nbi"`
	GetsNBI    uint64 `json:"gets_nbi"`
	AMOs       uint64 `json:"amos"`
	Waits      uint64 `json:"waits"`
	Quiets     uint64 `json:"quiets"`
	Fences     uint64 `json:"fences"`
	Barriers   uint64 `json:"barriers"`
	Broadcasts uint64 `json:"broadcasts"`
	Reductions uint64 `json:"reductions"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Puts:       s.puts.Load(),
		Gets:       s.gets.Load(),
		PutsNBI:    s.putsNBI.Load(),
		GetsNBI:    s.getsNBI.Load(),
		AMOs:       s.amos.Load(),
		Waits:      s.waits.Load(),
		Quiets:     s.quiets.Load(),
		Fences:     s.fences.Load(),
		Barriers:   s.barriers.Load(),
		Broadcasts: s.broadcasts.Load(),
		Reductions: s.reductions.Load(),
	}
}

func (s *Stats) reset() {
	s.puts.Store(0)
	s.gets.Store(0)
	s.putsNBI.Store(0)
	s.getsNBI.Store(0)
	s.amos.Store(0)
	s.waits.Store(0)
	s.quiets.Store(0)
	s.fences.Store(0)
	s.barriers.Store(0)
	s.broadcasts.Store(0)
	s.reductions.Store(0)
}

// Stats snapshots this runtime's operation counters.
func (r *Runtime) Stats() StatsSnapshot { return r.stats.Snapshot() }

// ResetStats zeroes the counters.
func (r *Runtime) ResetStats() { r.stats.reset() }
