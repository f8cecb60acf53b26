package p2p

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/ronet/internal/bootstrap"
)

// Bootstrap over the node's own streams. Both collectives are
// root-coordinated: members send one request to the communicator's
// first member and block on its response; the root answers once every
// member has checked in. Communicators are identified by their
// canonical member list, with a per-handle generation counter
// distinguishing successive collectives on the same communicator.

// p2pComm is one PE's communicator handle.
type p2pComm struct {
	ranks []int // world ranks in communicator order
	rank  int   // my index
	key   string

	barGen   atomic.Uint64
	splitGen atomic.Uint64
}

func (c *p2pComm) Rank() int { return c.rank }
func (c *p2pComm) Size() int { return len(c.ranks) }

func commKeyFor(ranks []int) string {
	parts := make([]string, len(ranks))
	for i, r := range ranks {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ",")
}

// Rank returns this node's world rank.
func (n *Node) Rank() int { return n.cfg.Rank }

// Size returns the world size.
func (n *Node) Size() int { return n.cfg.WorldSize }

// World returns the communicator covering every PE. One handle per
// node: the generation counters live on it.
func (n *Node) World() bootstrap.Comm { return n.world }

// Barrier blocks until every member of c has entered it.
func (n *Node) Barrier(c bootstrap.Comm) error {
	pc, ok := c.(*p2pComm)
	if !ok || pc == nil {
		return fmt.Errorf("p2p: foreign communicator %T", c)
	}
	if len(pc.ranks) == 1 {
		return nil
	}
	gen := pc.barGen.Add(1)
	key := fmt.Sprintf("%s#%d", pc.key, gen)
	root := pc.ranks[0]

	if n.cfg.Rank == root {
		done := make(chan struct{})
		n.ctl.barrierArrive(key, func() { close(done) })
		<-done
		return nil
	}
	_, err := n.roundTrip(root, &frame{typ: msgBarrier, payload: []byte(key)}, false)
	return err
}

// Split partitions parent by color; members of one color form a new
// communicator ordered by (key, world rank). A negative color opts
// out and yields a nil communicator.
func (n *Node) Split(parent bootstrap.Comm, color, key int) (bootstrap.Comm, error) {
	pc, ok := parent.(*p2pComm)
	if !ok || pc == nil {
		return nil, fmt.Errorf("p2p: foreign communicator %T", parent)
	}
	gen := pc.splitGen.Add(1)
	skey := fmt.Sprintf("%s@%d", pc.key, gen)
	root := pc.ranks[0]

	var ranks []int
	if n.cfg.Rank == root {
		got := make(chan []int, 1)
		n.ctl.splitArrive(skey, n.cfg.Rank, color, key, func(r []int) { got <- r })
		ranks = <-got
	} else {
		resp, err := n.roundTrip(root, &frame{
			typ:      msgSplit,
			operand:  uint64(int64(color)),
			operand2: uint64(int64(key)),
			payload:  []byte(skey),
		}, false)
		if err != nil {
			return nil, err
		}
		ranks, err = parseRanks(resp.payload)
		if err != nil {
			return nil, err
		}
	}

	if len(ranks) == 0 {
		return nil, nil
	}
	idx := -1
	for i, r := range ranks {
		if r == n.cfg.Rank {
			idx = i
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("p2p: split reply omits caller rank %d", n.cfg.Rank)
	}
	return &p2pComm{ranks: ranks, rank: idx, key: commKeyFor(ranks)}, nil
}

// Close is a no-op: Stop owns stream and host teardown.
func (n *Node) Close() error { return nil }

// controller is the root-side rendezvous state. Keys embed the
// communicator's member list, so the member count is parsed straight
// out of the key and no registration step is needed.
type controller struct {
	mu       sync.Mutex
	barriers map[string]*barrierState
	splits   map[string]*splitState
}

type barrierState struct {
	need int
	fire []func()
}

type splitEntry struct {
	color, key int
}

type splitState struct {
	need    int
	entries map[int]splitEntry
	reply   map[int]func([]int)
}

func newController() *controller {
	return &controller{
		barriers: make(map[string]*barrierState),
		splits:   make(map[string]*splitState),
	}
}

// keySize parses the member count out of a rendezvous key of the form
// "r0,r1,...#gen" (or "@gen" for splits).
func keySize(key string) int {
	if i := strings.IndexAny(key, "#@"); i >= 0 {
		key = key[:i]
	}
	return strings.Count(key, ",") + 1
}

func (c *controller) barrierArrive(key string, release func()) {
	c.mu.Lock()
	st := c.barriers[key]
	if st == nil {
		st = &barrierState{need: keySize(key)}
		c.barriers[key] = st
	}
	st.fire = append(st.fire, release)
	if len(st.fire) < st.need {
		c.mu.Unlock()
		return
	}
	delete(c.barriers, key)
	c.mu.Unlock()
	for _, f := range st.fire {
		f()
	}
}

func (c *controller) splitArrive(key string, worldRank, color, sortKey int, reply func([]int)) {
	c.mu.Lock()
	st := c.splits[key]
	if st == nil {
		st = &splitState{
			need:    keySize(key),
			entries: make(map[int]splitEntry),
			reply:   make(map[int]func([]int)),
		}
		c.splits[key] = st
	}
	st.entries[worldRank] = splitEntry{color: color, key: sortKey}
	st.reply[worldRank] = reply
	if len(st.entries) < st.need {
		c.mu.Unlock()
		return
	}
	delete(c.splits, key)
	c.mu.Unlock()

	byColor := make(map[int][]int)
	for r, e := range st.entries {
		if e.color < 0 {
			continue
		}
		byColor[e.color] = append(byColor[e.color], r)
	}
	for _, members := range byColor {
		sort.Slice(members, func(i, j int) bool {
			ki, kj := st.entries[members[i]].key, st.entries[members[j]].key
			if ki != kj {
				return ki < kj
			}
			return members[i] < members[j]
		})
	}
	for r, fn := range st.reply {
		var ranks []int
		if e := st.entries[r]; e.color >= 0 {
			ranks = byColor[e.color]
		}
		fn(ranks)
	}
}
