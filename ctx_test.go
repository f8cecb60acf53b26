package ronet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextPoolExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContexts = 2
	err := RunLocal(1, cfg, func(r *Runtime) error {
		a, err := r.CreateContext(0)
		if err != nil {
			return err
		}
		b, err := r.CreateContext(CtxSerialized)
		if err != nil {
			return err
		}
		assert.Equal(t, CtxSerialized, b.Options())

		_, err = r.CreateContext(0)
		assert.ErrorIs(t, err, ErrResourceExhausted)

		// Releasing one slot makes it available again.
		require.NoError(t, a.Destroy())
		c, err := r.CreateContext(0)
		if err != nil {
			return err
		}
		require.NoError(t, c.Destroy())
		return b.Destroy()
	})
	require.NoError(t, err)
}

func TestContextDestroyRules(t *testing.T) {
	err := RunLocal(1, testConfig(), func(r *Runtime) error {
		assert.ErrorIs(t, r.Ctx().Destroy(), ErrInvalidArgument, "default context is not destroyable")

		c, err := r.CreateContext(0)
		if err != nil {
			return err
		}
		require.NoError(t, c.Destroy())
		assert.ErrorIs(t, c.Destroy(), ErrInvalidArgument, "double destroy")
		return nil
	})
	require.NoError(t, err)
}

func TestContextNBIQuiet(t *testing.T) {
	const n = 2
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		buf, err := r.Alloc(64 * 8)
		if err != nil {
			return err
		}
		c, err := r.CreateContext(0)
		if err != nil {
			return err
		}
		peer := (r.MyPE() + 1) % n

		src := make([]int64, 64)
		for i := range src {
			src[i] = int64(r.MyPE()*1000 + i)
		}
		CtxPutNBI(c, buf, src, peer)
		// Quiet completes everything issued on this context.
		if err := c.Quiet(); err != nil {
			return err
		}
		if err := r.BarrierAll(); err != nil {
			return err
		}

		local, err := LocalSlice[int64](r, buf, 64)
		if err != nil {
			return err
		}
		for i, v := range local {
			assert.Equal(t, int64(peer*1000+i), v)
		}
		if err := c.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestContextGetNBI(t *testing.T) {
	const n = 2
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		buf, err := r.Alloc(8)
		if err != nil {
			return err
		}
		local, err := LocalSlice[int64](r, buf, 1)
		if err != nil {
			return err
		}
		local[0] = int64(50 + r.MyPE())
		if err := r.BarrierAll(); err != nil {
			return err
		}

		peer := (r.MyPE() + 1) % n
		dest := make([]int64, 1)
		GetNBI(r, buf, dest, peer)
		if err := r.Quiet(); err != nil {
			return err
		}
		assert.Equal(t, int64(50+peer), dest[0])
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestFenceOrdersWithinContext(t *testing.T) {
	const n = 2
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(8)
		if err != nil {
			return err
		}
		flag, err := r.Alloc(8)
		if err != nil {
			return err
		}
		peer := (r.MyPE() + 1) % n

		PutNBI(r, data, []int64{int64(7)}, peer)
		// The fence keeps the flag write behind the data write.
		if err := r.Fence(); err != nil {
			return err
		}
		PutNBI(r, flag, []int64{int64(1)}, peer)

		WaitUntil(r, flag, CmpEQ, int64(1))
		local, err := LocalSlice[int64](r, data, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(7), local[0], "data must land before the flag")

		if err := r.Quiet(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestPutSignal(t *testing.T) {
	const n = 2
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(16 * 8)
		if err != nil {
			return err
		}
		sig, err := r.Alloc(8)
		if err != nil {
			return err
		}

		if r.MyPE() == 0 {
			payload := make([]int64, 16)
			for i := range payload {
				payload[i] = int64(i * i)
			}
			PutSignal(r, data, payload, sig, 1, SignalSet, 1)
		} else {
			got := SignalWaitUntil(r, sig, CmpEQ, 1)
			assert.Equal(t, uint64(1), got)
			assert.Equal(t, uint64(1), SignalFetch(r, sig))

			local, err := LocalSlice[int64](r, data, 16)
			if err != nil {
				return err
			}
			for i, v := range local {
				assert.Equal(t, int64(i*i), v, "payload visible once the signal is")
			}
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestPutSignalAdd(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		data, err := r.Alloc(n * 8)
		if err != nil {
			return err
		}
		sig, err := r.Alloc(8)
		if err != nil {
			return err
		}

		if r.MyPE() != 0 {
			PutSignal(r, data+SymAddr(r.MyPE()*8), []int64{int64(r.MyPE())}, sig, 1, SignalAdd, 0)
		} else {
			SignalWaitUntil(r, sig, CmpEQ, uint64(n-1))
			local, err := LocalSlice[int64](r, data, n)
			if err != nil {
				return err
			}
			for pe := 1; pe < n; pe++ {
				assert.Equal(t, int64(pe), local[pe])
			}
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}
