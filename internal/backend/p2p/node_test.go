package p2p

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/bootstrap"
	"github.com/nmxmxh/ronet/internal/heap"
)

func testTransport() Transport {
	return Transport{
		ConnectTimeout:    5 * time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
		MaxRetries:        3,
		MaxFrameSize:      1 << 20,
		CompressThreshold: 512,
		BreakerFailures:   5,
		BreakerCooldown:   time.Second,
	}
}

// startPair brings up a two-node world over loopback TCP. The peer
// table is filled in after both hosts exist, the way a launcher would
// exchange addresses out of band.
func startPair(t *testing.T) (*Node, *Node, *heap.Region, *heap.Region) {
	t.Helper()
	peers := make([]string, 2)
	nodes := make([]*Node, 2)
	regions := make([]*heap.Region, 2)
	for rank := 0; rank < 2; rank++ {
		n, err := NewNode(Config{
			Rank:       rank,
			WorldSize:  2,
			ListenAddr: "/ip4/127.0.0.1/tcp/0",
			Peers:      peers,
			Transport:  testTransport(),
		}, nil)
		require.NoError(t, err)
		r := heap.NewRegion(1 << 16)
		n.BindRegion(r)
		nodes[rank] = n
		regions[rank] = r
	}
	for rank, n := range nodes {
		peers[rank] = n.Addr()
		require.NotEmpty(t, peers[rank])
	}
	for _, n := range nodes {
		require.NoError(t, n.Start(context.Background()))
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			_ = n.Stop()
		}
		for _, r := range regions {
			r.Close()
		}
	})
	return nodes[0], nodes[1], regions[0], regions[1]
}

func TestLoopbackPutGet(t *testing.T) {
	a, b, _, rb := startPair(t)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 0xfeedface)
	require.NoError(t, a.Put(1, 64, buf))

	v, err := rb.Load64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfeedface), v)

	got := make([]byte, 8)
	require.NoError(t, a.Get(1, 64, got))
	assert.Equal(t, buf, got)

	// Self-rank operations short-circuit the network.
	require.NoError(t, b.Put(1, 128, buf))
	v, err = rb.Load64(128)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfeedface), v)

	require.NoError(t, a.Probe(1))
	assert.Error(t, a.Put(1, 1<<20, buf), "out-of-region put must fail")
}

func TestLoopbackAMO(t *testing.T) {
	a, _, _, rb := startPair(t)

	old, err := a.AMO(1, backend.AMOAdd, 64, 8, 5, 0)
	require.NoError(t, err)
	assert.Zero(t, old)
	old, err = a.AMO(1, backend.AMOAdd, 64, 8, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), old)

	old, err = a.AMO(1, backend.AMOCas, 64, 8, 12, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), old)
	v, err := rb.Load64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)

	// 32-bit width.
	old, err = a.AMO(1, backend.AMOOr, 128, 4, 0xf0, 0)
	require.NoError(t, err)
	assert.Zero(t, old)
	w, err := rb.Load32(128)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xf0), w)
}

func TestLoopbackBarrier(t *testing.T) {
	a, b, _, _ := startPair(t)

	for round := 0; round < 3; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		errs := make([]error, 2)
		go func() { defer wg.Done(); errs[0] = a.Barrier(a.World()) }()
		go func() { defer wg.Done(); errs[1] = b.Barrier(b.World()) }()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatalf("barrier round %d did not release", round)
		}
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
	}
}

func TestLoopbackSplit(t *testing.T) {
	a, b, _, _ := startPair(t)

	var wg sync.WaitGroup
	wg.Add(2)
	var ca, cb bootstrap.Comm
	var ea, eb error
	go func() { defer wg.Done(); ca, ea = a.Split(a.World(), 0, 0) }()
	go func() { defer wg.Done(); cb, eb = b.Split(b.World(), 1, 0) }()
	wg.Wait()

	require.NoError(t, ea)
	require.NoError(t, eb)
	require.NotNil(t, ca)
	require.NotNil(t, cb)
	assert.Equal(t, 1, ca.Size())
	assert.Equal(t, 0, ca.Rank())
	assert.Equal(t, 1, cb.Size())
	assert.Equal(t, 0, cb.Rank())
}
