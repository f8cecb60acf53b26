package bootstrap

import (
	"fmt"
	"sort"
	"sync"
)

// InProc is the single-process bootstrap: every PE is a goroutine in
// one address space and rendezvous happens through shared memory. One
// Group is built per process; each PE holds its own *InProc handle.

// genBarrier is a reusable barrier. The generation counter lets the
// same barrier be entered again immediately after it releases.
type genBarrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	size  int
	count int
	gen   uint64
}

func newGenBarrier(size int) *genBarrier {
	b := &genBarrier{size: size}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *genBarrier) await() {
	b.mu.Lock()
	gen := b.gen
	b.count++
	if b.count == b.size {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// group is the shared state of one communicator.
type group struct {
	ranks []int // world ranks in communicator order
	bar   *genBarrier

	mu      sync.Mutex
	callIdx map[int]int // per world rank: how many splits it has issued
	gathers map[int]*splitGather
}

type splitGather struct {
	colors map[int]int // world rank -> color
	keys   map[int]int // world rank -> key
	built  bool
	groups map[int]*group // color -> child group
	refs   int
}

func newGroup(ranks []int) *group {
	return &group{
		ranks:   ranks,
		bar:     newGenBarrier(len(ranks)),
		callIdx: make(map[int]int),
		gathers: make(map[int]*splitGather),
	}
}

func (g *group) indexOf(worldRank int) int {
	for i, r := range g.ranks {
		if r == worldRank {
			return i
		}
	}
	return -1
}

// inprocComm is one PE's view of a group.
type inprocComm struct {
	g    *group
	rank int
}

func (c *inprocComm) Rank() int { return c.rank }
func (c *inprocComm) Size() int { return len(c.g.ranks) }

// InProc is one PE's bootstrap handle.
type InProc struct {
	worldRank int
	world     *group

	mu     sync.Mutex
	closed bool
}

// NewGroup creates the shared world and one handle per PE.
func NewGroup(n int) ([]*InProc, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bootstrap: world size %d", n)
	}
	ranks := make([]int, n)
	for i := range ranks {
		ranks[i] = i
	}
	world := newGroup(ranks)
	handles := make([]*InProc, n)
	for i := range handles {
		handles[i] = &InProc{worldRank: i, world: world}
	}
	return handles, nil
}

func (b *InProc) Rank() int { return b.worldRank }
func (b *InProc) Size() int { return len(b.world.ranks) }

func (b *InProc) World() Comm {
	return &inprocComm{g: b.world, rank: b.worldRank}
}

func (b *InProc) Barrier(c Comm) error {
	if err := b.check(); err != nil {
		return err
	}
	ic, ok := c.(*inprocComm)
	if !ok || ic == nil {
		return fmt.Errorf("bootstrap: foreign communicator %T", c)
	}
	ic.g.bar.await()
	return nil
}

// Split rendezvouses all parent members, groups them by color, and
// orders each child by (key, world rank). Children sharing a color
// share one group object, so their barrier is real shared state.
func (b *InProc) Split(parent Comm, color, key int) (Comm, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	pc, ok := parent.(*inprocComm)
	if !ok || pc == nil {
		return nil, fmt.Errorf("bootstrap: foreign communicator %T", parent)
	}
	g := pc.g

	g.mu.Lock()
	idx := g.callIdx[b.worldRank]
	g.callIdx[b.worldRank] = idx + 1
	gather := g.gathers[idx]
	if gather == nil {
		gather = &splitGather{
			colors: make(map[int]int),
			keys:   make(map[int]int),
			groups: make(map[int]*group),
		}
		g.gathers[idx] = gather
	}
	gather.colors[b.worldRank] = color
	gather.keys[b.worldRank] = key
	g.mu.Unlock()

	// Everyone must have registered before grouping.
	g.bar.await()

	g.mu.Lock()
	if !gather.built {
		gather.built = true
		byColor := make(map[int][]int)
		for _, r := range g.ranks {
			c := gather.colors[r]
			if c < 0 {
				continue
			}
			byColor[c] = append(byColor[c], r)
		}
		for c, members := range byColor {
			keys := gather.keys
			sort.Slice(members, func(i, j int) bool {
				if keys[members[i]] != keys[members[j]] {
					return keys[members[i]] < keys[members[j]]
				}
				return members[i] < members[j]
			})
			gather.groups[c] = newGroup(members)
		}
	}
	var child *group
	if color >= 0 {
		child = gather.groups[color]
	}
	gather.refs++
	if gather.refs == len(g.ranks) {
		delete(g.gathers, idx)
	}
	g.mu.Unlock()

	if child == nil {
		return nil, nil
	}
	rank := child.indexOf(b.worldRank)
	return &inprocComm{g: child, rank: rank}, nil
}

func (b *InProc) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *InProc) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}
