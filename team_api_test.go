package ronet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamSplitEvens(t *testing.T) {
	const n = 8
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		evens, err := r.World().Split(0, 2, 4)
		if err != nil {
			return err
		}
		me := r.MyPE()

		if me%2 == 0 {
			assert.Equal(t, me/2, evens.MyPE())
			assert.Equal(t, 4, evens.NumPEs())
			as := evens.ActiveSet()
			assert.Equal(t, ActiveSet{Start: 0, Stride: 2, Size: 4}, as)
		} else {
			assert.Equal(t, TeamInvalid, evens)
			assert.Equal(t, InvalidPE, evens.MyPE())
			assert.Equal(t, 0, evens.NumPEs())
		}

		if evens != TeamInvalid {
			if err := evens.Sync(); err != nil {
				return err
			}
			if err := evens.Destroy(); err != nil {
				return err
			}
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamNestedSplit(t *testing.T) {
	const n = 8
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		// Evens of the world, then every other even: world PEs 0 and 4.
		evens, err := r.World().Split(0, 2, 4)
		if err != nil {
			return err
		}
		me := r.MyPE()
		if evens == TeamInvalid {
			return r.BarrierAll()
		}

		quads, err := evens.Split(0, 2, 2)
		if err != nil {
			return err
		}
		if me == 0 || me == 4 {
			assert.Equal(t, me/4, quads.MyPE())
			as := quads.ActiveSet()
			assert.Equal(t, ActiveSet{Start: 0, Stride: 4, Size: 2}, as, "stride composes through the parent")
			ps := quads.ParentSet()
			assert.Equal(t, ActiveSet{Start: 0, Stride: 2, Size: 2}, ps)
			if err := quads.Destroy(); err != nil {
				return err
			}
		} else {
			assert.Equal(t, TeamInvalid, quads)
		}
		if err := evens.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamTranslatePE(t *testing.T) {
	const n = 8
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		evens, err := r.World().Split(0, 2, 4)
		if err != nil {
			return err
		}
		if evens == TeamInvalid {
			return r.BarrierAll()
		}

		// Team index 3 is world PE 6.
		assert.Equal(t, 6, TranslatePE(evens, 3, r.World()))
		// World PE 5 is odd: not an evens member.
		assert.Equal(t, InvalidPE, TranslatePE(r.World(), 5, evens))
		assert.Equal(t, 2, TranslatePE(r.World(), 4, evens))
		// Out-of-range source index.
		assert.Equal(t, InvalidPE, TranslatePE(evens, 4, r.World()))

		if err := evens.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamSplitRejectsBadArgs(t *testing.T) {
	err := RunLocal(2, testConfig(), func(r *Runtime) error {
		w := r.World()

		_, err := w.Split(-1, 1, 1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = w.Split(0, 0, 2)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = w.Split(0, 1, 3)
		assert.ErrorIs(t, err, ErrInvalidArgument, "size beyond the parent")
		_, err = w.Split(1, 2, 2)
		assert.ErrorIs(t, err, ErrInvalidArgument, "stride walks off the world")

		_, err = TeamInvalid.Split(0, 1, 1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		return nil
	})
	require.NoError(t, err)
}

func TestTeamIDReuseAfterDestroy(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		first, err := r.World().Split(0, 1, n)
		if err != nil {
			return err
		}
		id := first.ID()
		assert.NotEqual(t, r.World().ID(), id)
		if err := first.Destroy(); err != nil {
			return err
		}

		second, err := r.World().Split(0, 1, n)
		if err != nil {
			return err
		}
		assert.Equal(t, id, second.ID(), "lowest free id is picked again")
		if err := second.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestTeamBarrierOrdersPuts(t *testing.T) {
	const n = 4
	err := RunLocal(n, testConfig(), func(r *Runtime) error {
		slot, err := r.Alloc(8)
		if err != nil {
			return err
		}
		team, err := r.World().Split(0, 1, n)
		if err != nil {
			return err
		}

		PutNBI(r, slot, []int64{int64(10 + r.MyPE())}, (r.MyPE()+1)%n)
		// Barrier quiesces the default context before releasing, so
		// the neighbor's value is in place on return.
		if err := team.Barrier(); err != nil {
			return err
		}
		local, err := LocalSlice[int64](r, slot, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(10+(r.MyPE()+n-1)%n), local[0])

		if err := team.Destroy(); err != nil {
			return err
		}
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestDestroyedTeamRejected(t *testing.T) {
	err := RunLocal(2, testConfig(), func(r *Runtime) error {
		team, err := r.World().Split(0, 1, 2)
		if err != nil {
			return err
		}
		if err := team.Destroy(); err != nil {
			return err
		}
		assert.NoError(t, team.Destroy(), "double destroy is a no-op")
		assert.ErrorIs(t, team.Sync(), ErrInvalidArgument)
		_, err = team.Split(0, 1, 1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		return r.BarrierAll()
	})
	require.NoError(t, err)
}

func TestWorldTeamIndestructible(t *testing.T) {
	err := RunLocal(2, testConfig(), func(r *Runtime) error {
		assert.NoError(t, r.World().Destroy())
		// Still fully usable.
		return r.World().Sync()
	})
	require.NoError(t, err)
}
