package bootstrap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRanks(t *testing.T) {
	handles, err := NewGroup(3)
	require.NoError(t, err)
	require.Len(t, handles, 3)
	for i, h := range handles {
		assert.Equal(t, i, h.Rank())
		assert.Equal(t, 3, h.Size())
		assert.Equal(t, i, h.World().Rank())
		assert.Equal(t, 3, h.World().Size())
	}

	_, err = NewGroup(0)
	require.Error(t, err)
}

func TestBarrierReleasesTogetherAndIsReusable(t *testing.T) {
	const n = 4
	handles, err := NewGroup(n)
	require.NoError(t, err)

	var passed sync.WaitGroup
	for round := 0; round < 3; round++ {
		passed.Add(n)
		for _, h := range handles {
			go func() {
				defer passed.Done()
				assert.NoError(t, h.Barrier(h.World()))
			}()
		}
		done := make(chan struct{})
		go func() { passed.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("barrier round %d did not release", round)
		}
	}
}

func TestSplitGroupsByColorOrderedByKey(t *testing.T) {
	const n = 4
	handles, err := NewGroup(n)
	require.NoError(t, err)

	// Even ranks color 0, odd ranks color 1; keys reverse the world
	// order inside each color.
	comms := make([]Comm, n)
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := h.Split(h.World(), i%2, -i)
			assert.NoError(t, err)
			comms[i] = c
		}()
	}
	wg.Wait()

	for i, c := range comms {
		require.NotNil(t, c, "rank %d", i)
		assert.Equal(t, 2, c.Size())
	}
	// Keys -0,-2 put rank 2 first among evens; -1,-3 put rank 3 first
	// among odds.
	assert.Equal(t, 1, comms[0].Rank())
	assert.Equal(t, 0, comms[2].Rank())
	assert.Equal(t, 1, comms[1].Rank())
	assert.Equal(t, 0, comms[3].Rank())
}

func TestSplitNegativeColorOptsOut(t *testing.T) {
	const n = 3
	handles, err := NewGroup(n)
	require.NoError(t, err)

	comms := make([]Comm, n)
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			color := 7
			if i == 1 {
				color = -1
			}
			c, err := h.Split(h.World(), color, i)
			assert.NoError(t, err)
			comms[i] = c
		}()
	}
	wg.Wait()

	assert.Nil(t, comms[1], "opted-out rank gets no communicator")
	require.NotNil(t, comms[0])
	assert.Equal(t, 2, comms[0].Size())
	assert.Equal(t, 0, comms[0].Rank())
	require.NotNil(t, comms[2])
	assert.Equal(t, 1, comms[2].Rank())
}

func TestSplitChildSharesBarrierState(t *testing.T) {
	const n = 4
	handles, err := NewGroup(n)
	require.NoError(t, err)

	comms := make([]Comm, n)
	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := h.Split(h.World(), i/2, i)
			assert.NoError(t, err)
			comms[i] = c
		}()
	}
	wg.Wait()

	// A child barrier involves only its two members.
	var done sync.WaitGroup
	done.Add(2)
	go func() { defer done.Done(); assert.NoError(t, handles[0].Barrier(comms[0])) }()
	go func() { defer done.Done(); assert.NoError(t, handles[1].Barrier(comms[1])) }()
	ch := make(chan struct{})
	go func() { done.Wait(); close(ch) }()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("child barrier did not release without the other color")
	}
}

func TestClosedHandleRejectsOps(t *testing.T) {
	handles, err := NewGroup(2)
	require.NoError(t, err)
	h := handles[0]
	require.NoError(t, h.Close())

	assert.ErrorIs(t, h.Barrier(h.World()), ErrClosed)
	_, err = h.Split(h.World(), 0, 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestForeignCommRejected(t *testing.T) {
	handles, err := NewGroup(1)
	require.NoError(t, err)

	type fakeComm struct{ Comm }
	assert.Error(t, handles[0].Barrier(fakeComm{}))
	_, err = handles[0].Split(fakeComm{}, 0, 0)
	assert.Error(t, err)
}
