package ronet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastWorld(t *testing.T) {
	const n = 4
	const nelem = 16
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(nelem * 8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(BcastSyncSize * 8)
		if err != nil {
			return err
		}
		local, err := LocalSlice[int64](r, data, nelem)
		if err != nil {
			return err
		}

		as := ActiveSet{Start: 0, Stride: 1, Size: n}
		// Two rounds through the same psync: completion must restore
		// the sentinel.
		for round := 0; round < 2; round++ {
			root := round % n
			if r.MyPE() == root {
				for i := range local {
					local[i] = int64(1000*round + i)
				}
			}
			if err := r.BarrierAll(); err != nil {
				return err
			}
			Broadcast[int64](r, data, data, nelem, root, as, psync)
			if err := r.BarrierAll(); err != nil {
				return err
			}
			for i := range local {
				assert.Equal(t, int64(1000*round+i), local[i], "round %d elem %d on pe %d", round, i, r.MyPE())
			}
		}

		// Sentinel restored on every PE.
		sy, err := LocalSlice[uint64](r, psync, BcastSyncSize)
		if err != nil {
			return err
		}
		for i, v := range sy {
			assert.Equal(t, uint64(SyncValue), v, "psync slot %d on pe %d", i, r.MyPE())
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestBroadcastSubset(t *testing.T) {
	const n = 8
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(BcastSyncSize * 8)
		if err != nil {
			return err
		}
		local, err := LocalSlice[int64](r, data, 1)
		if err != nil {
			return err
		}
		local[0] = int64(-1)
		if err := r.BarrierAll(); err != nil {
			return err
		}

		// Root is active-set index 1, world PE 3.
		as := ActiveSet{Start: 1, Stride: 2, Size: 4}
		if r.MyPE() == 3 {
			local[0] = 77
		}
		Broadcast[int64](r, data, data, 1, 1, as, psync)
		if err := r.BarrierAll(); err != nil {
			return err
		}

		switch {
		case r.MyPE()%2 == 0:
			assert.Equal(t, int64(-1), local[0], "non-member pe %d untouched", r.MyPE())
		default:
			assert.Equal(t, int64(77), local[0], "member pe %d", r.MyPE())
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestReduceSum(t *testing.T) {
	const n = 4
	const nelem = 10 // not divisible by the set size
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		src, err := r.Alloc(nelem * 8)
		if err != nil {
			return err
		}
		dst, err := r.Alloc(nelem * 8)
		if err != nil {
			return err
		}
		pwrk, err := r.Alloc(uint64(ReduceWrkCount(nelem, n)) * 8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(ReduceSyncSize * 8)
		if err != nil {
			return err
		}

		in, err := LocalSlice[int64](r, src, nelem)
		if err != nil {
			return err
		}
		for i := range in {
			in[i] = int64(r.MyPE()*100 + i)
		}
		if err := r.BarrierAll(); err != nil {
			return err
		}

		as := ActiveSet{Start: 0, Stride: 1, Size: n}
		Reduce[int64](r, OpSum, dst, src, nelem, as, pwrk, psync)
		if err := r.BarrierAll(); err != nil {
			return err
		}

		out, err := LocalSlice[int64](r, dst, nelem)
		if err != nil {
			return err
		}
		for i, v := range out {
			want := int64(0)
			for pe := 0; pe < n; pe++ {
				want += int64(pe*100 + i)
			}
			assert.Equal(t, want, v, "elem %d on pe %d", i, r.MyPE())
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestReduceRepeatedCalls(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		buf, err := r.Alloc(8)
		if err != nil {
			return err
		}
		pwrk, err := r.Alloc(8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(ReduceSyncSize * 8)
		if err != nil {
			return err
		}
		v, err := LocalSlice[int64](r, buf, 1)
		if err != nil {
			return err
		}
		as := ActiveSet{Start: 0, Stride: 1, Size: n}

		// Back-to-back reductions without re-initializing the scratch:
		// the counters must survive a peer racing ahead into the next
		// call.
		for round := 1; round <= 5; round++ {
			v[0] = int64(r.MyPE() + round)
			Reduce[int64](r, OpSum, buf, buf, 1, as, pwrk, psync)
			want := int64(n*round + n*(n-1)/2)
			assert.Equal(t, want, v[0], "round %d on pe %d", round, r.MyPE())
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestReduceMinMax(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		src, err := r.Alloc(8)
		if err != nil {
			return err
		}
		dst, err := r.Alloc(8)
		if err != nil {
			return err
		}
		pwrk, err := r.Alloc(8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(ReduceSyncSize * 8)
		if err != nil {
			return err
		}

		in, err := LocalSlice[float64](r, src, 1)
		if err != nil {
			return err
		}
		out, err := LocalSlice[float64](r, dst, 1)
		if err != nil {
			return err
		}
		as := ActiveSet{Start: 0, Stride: 1, Size: n}

		in[0] = float64(r.MyPE()) * 1.5
		if err := r.BarrierAll(); err != nil {
			return err
		}
		Reduce[float64](r, OpMax, dst, src, 1, as, pwrk, psync)
		assert.Equal(t, float64(n-1)*1.5, out[0])
		if err := r.BarrierAll(); err != nil {
			return err
		}

		Reduce[float64](r, OpMin, dst, src, 1, as, pwrk, psync)
		assert.Equal(t, 0.0, out[0])
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestReduceBitwiseOr(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		buf, err := r.Alloc(8)
		if err != nil {
			return err
		}
		pwrk, err := r.Alloc(8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(ReduceSyncSize * 8)
		if err != nil {
			return err
		}
		v, err := LocalSlice[uint64](r, buf, 1)
		if err != nil {
			return err
		}
		v[0] = uint64(1) << r.MyPE()
		if err := r.BarrierAll(); err != nil {
			return err
		}

		as := ActiveSet{Start: 0, Stride: 1, Size: n}
		Reduce[uint64](r, OpOr, buf, buf, 1, as, pwrk, psync)
		assert.Equal(t, uint64(0xf), v[0])
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamCollectives(t *testing.T) {
	const n = 8
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(8)
		if err != nil {
			return err
		}
		evens, err := r.World().Split(0, 2, 4)
		if err != nil {
			return err
		}
		local, err := LocalSlice[int64](r, data, 1)
		if err != nil {
			return err
		}
		local[0] = int64(r.MyPE())
		if err := r.BarrierAll(); err != nil {
			return err
		}

		if evens != TeamInvalid {
			// Broadcast from team index 2 (world PE 4).
			TeamBroadcast[int64](evens, data, data, 1, 2)
			if err := evens.Barrier(); err != nil {
				return err
			}
			assert.Equal(t, int64(4), local[0], "pe %d", r.MyPE())

			// Every member holds 4 after the broadcast.
			TeamReduce[int64](evens, OpSum, data, data, 1)
			assert.Equal(t, int64(16), local[0], "pe %d", r.MyPE())

			if err := evens.Destroy(); err != nil {
				return err
			}
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamReduceSegmented(t *testing.T) {
	const n = 4
	// Large enough that the chunk exceeds the team work buffer and
	// the ring runs in multiple segments.
	const nelem = 2600
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		buf, err := r.Alloc(nelem * 8)
		if err != nil {
			return err
		}
		all, err := r.World().Split(0, 1, n)
		if err != nil {
			return err
		}
		v, err := LocalSlice[int64](r, buf, nelem)
		if err != nil {
			return err
		}
		for i := range v {
			v[i] = int64(r.MyPE() + i)
		}
		if err := r.BarrierAll(); err != nil {
			return err
		}

		TeamReduce[int64](all, OpSum, buf, buf, nelem)
		for i, got := range v {
			want := int64(n*i + n*(n-1)/2)
			if got != want {
				t.Errorf("pe %d elem %d: got %d want %d", r.MyPE(), i, got, want)
				break
			}
		}
		if err := all.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestReduceWrkCount(t *testing.T) {
	assert.Equal(t, 3, ReduceWrkCount(10, 4))
	assert.Equal(t, 1, ReduceWrkCount(1, 8))
	assert.Equal(t, 0, ReduceWrkCount(0, 4))
	assert.Equal(t, 0, ReduceWrkCount(5, 0))
}

func TestBroadcastSingleMember(t *testing.T) {
	err := RunLocal(1, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(8)
		if err != nil {
			return err
		}
		psync, err := r.Alloc(BcastSyncSize * 8)
		if err != nil {
			return err
		}
		Broadcast[int64](r, data, data, 1, 0, ActiveSet{Start: 0, Stride: 1, Size: 1}, psync)
		return nil
	})
	require.NoError(t, err)
}
