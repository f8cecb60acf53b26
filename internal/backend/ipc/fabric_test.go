package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/heap"
)

func twoPEFabric(t *testing.T) (*Endpoint, *Endpoint, []*heap.Region) {
	t.Helper()
	f := NewFabric(2)
	regions := []*heap.Region{heap.NewRegion(4096), heap.NewRegion(4096)}
	e0, err := f.Attach(0, regions[0], nil)
	require.NoError(t, err)
	e1, err := f.Attach(1, regions[1], nil)
	require.NoError(t, err)
	return e0, e1, regions
}

func TestFabricAttachValidation(t *testing.T) {
	f := NewFabric(1)
	r := heap.NewRegion(256)

	_, err := f.Attach(0, r, nil)
	require.NoError(t, err)
	_, err = f.Attach(0, r, nil)
	assert.Error(t, err) // double attach
	_, err = f.Attach(1, r, nil)
	assert.Error(t, err) // out of world
}

func TestPutGetAcrossRegions(t *testing.T) {
	e0, e1, regions := twoPEFabric(t)

	payload := []byte("symmetric")
	require.NoError(t, e0.Put(1, 128, payload))

	s, err := regions[1].Slice(128, uint64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, s)

	back := make([]byte, len(payload))
	require.NoError(t, e1.Get(1, 128, back))
	assert.Equal(t, payload, back)

	// Out-of-bounds surfaces the region error.
	assert.ErrorIs(t, e0.Put(1, 4090, payload), heap.ErrOutOfBounds)
	assert.Error(t, e0.Put(5, 0, payload)) // no such pe
}

func TestWordSizedPutIsAtomicallyVisible(t *testing.T) {
	e0, _, regions := twoPEFabric(t)

	buf := make([]byte, 8)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	require.NoError(t, e0.Put(1, 64, buf))

	v, err := regions[1].Load64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), v)
}

func TestAMOReturnsPriorValue(t *testing.T) {
	e0, _, regions := twoPEFabric(t)
	require.NoError(t, regions[1].Store64(64, 10))

	old, err := e0.AMO(1, backend.AMOAdd, 64, 8, 5, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), old)

	old, err = e0.AMO(1, backend.AMOSwap, 64, 8, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), old)

	// CAS miss returns the observed value, hit returns the condition.
	old, err = e0.AMO(1, backend.AMOCas, 64, 8, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), old)
	old, err = e0.AMO(1, backend.AMOCas, 64, 8, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), old)
	v, err := regions[1].Load64(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestAMOBitwiseAndWidths(t *testing.T) {
	e0, _, regions := twoPEFabric(t)

	require.NoError(t, regions[0].Store32(32, 0b1100))
	old, err := e0.AMO(0, backend.AMOOr, 32, 4, 0b0011, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1100), old)
	old, err = e0.AMO(0, backend.AMOXor, 32, 4, 0b1111, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b1111), old)
	old, err = e0.AMO(0, backend.AMOAnd, 32, 4, 0b0001, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b0000), old)

	_, err = e0.AMO(0, backend.AMOAdd, 32, 3, 1, 0)
	assert.Error(t, err) // unsupported width
}

func TestProbe(t *testing.T) {
	f := NewFabric(2)
	e0, err := f.Attach(0, heap.NewRegion(256), nil)
	require.NoError(t, err)

	assert.NoError(t, e0.Probe(0))
	assert.Error(t, e0.Probe(1)) // not attached yet
	_, err = f.Attach(1, heap.NewRegion(256), nil)
	require.NoError(t, err)
	assert.NoError(t, e0.Probe(1))
}
