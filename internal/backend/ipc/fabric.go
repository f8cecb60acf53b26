// Package ipc is the in-process fabric backend: every PE lives in one
// address space and the fabric holds each PE's symmetric region, so a
// remote operation is a bounded copy or an atomic applied directly to
// the target region. This is the backend behind the SPMD launcher and
// the test suites.
package ipc

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmxmxh/ronet/internal/backend"
	"github.com/nmxmxh/ronet/internal/heap"
)

// Fabric is the shared side: one slot per PE, filled as each PE
// attaches its region.
type Fabric struct {
	mu      sync.RWMutex
	regions []*heap.Region
}

func NewFabric(worldSize int) *Fabric {
	return &Fabric{regions: make([]*heap.Region, worldSize)}
}

// Attach registers a PE's region and returns that PE's endpoint.
func (f *Fabric) Attach(rank int, region *heap.Region, logger *slog.Logger) (*Endpoint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rank < 0 || rank >= len(f.regions) {
		return nil, fmt.Errorf("ipc: rank %d outside world of %d", rank, len(f.regions))
	}
	if f.regions[rank] != nil {
		return nil, fmt.Errorf("ipc: rank %d already attached", rank)
	}
	f.regions[rank] = region
	return &Endpoint{
		fabric: f,
		rank:   rank,
		logger: logger.With("component", "ipc-backend", "pe", rank),
	}, nil
}

func (f *Fabric) region(pe int) (*heap.Region, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pe < 0 || pe >= len(f.regions) {
		return nil, fmt.Errorf("ipc: no such pe %d", pe)
	}
	r := f.regions[pe]
	if r == nil {
		return nil, fmt.Errorf("ipc: pe %d not attached", pe)
	}
	return r, nil
}

// Endpoint is one PE's view of the fabric. It implements
// backend.Backend.
type Endpoint struct {
	fabric *Fabric
	rank   int
	logger *slog.Logger
}

// Put copies src into the target region. Word-sized aligned payloads
// go through an atomic store so a peer polling the destination with
// the wait family observes the write as a unit.
func (e *Endpoint) Put(pe int, dest uint64, src []byte) error {
	r, err := e.fabric.region(pe)
	if err != nil {
		return err
	}
	switch {
	case len(src) == 8 && dest%8 == 0:
		return r.Store64(dest, binary.LittleEndian.Uint64(src))
	case len(src) == 4 && dest%4 == 0:
		return r.Store32(dest, binary.LittleEndian.Uint32(src))
	}
	dst, err := r.Slice(dest, uint64(len(src)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Get copies from the target region into dest, with the same
// word-sized atomic read path.
func (e *Endpoint) Get(pe int, src uint64, dest []byte) error {
	r, err := e.fabric.region(pe)
	if err != nil {
		return err
	}
	switch {
	case len(dest) == 8 && src%8 == 0:
		v, err := r.Load64(src)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(dest, v)
		return nil
	case len(dest) == 4 && src%4 == 0:
		v, err := r.Load32(src)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(dest, v)
		return nil
	}
	s, err := r.Slice(src, uint64(len(dest)))
	if err != nil {
		return err
	}
	copy(dest, s)
	return nil
}

// AMO applies one atomic on the owning region and returns the prior
// value.
func (e *Endpoint) AMO(pe int, op backend.AMOOp, addr uint64, width int, operand, operand2 uint64) (uint64, error) {
	r, err := e.fabric.region(pe)
	if err != nil {
		return 0, err
	}
	switch width {
	case 4:
		old, err := e.amo32(r, op, addr, uint32(operand), uint32(operand2))
		return uint64(old), err
	case 8:
		return e.amo64(r, op, addr, operand, operand2)
	default:
		return 0, fmt.Errorf("ipc: amo width %d", width)
	}
}

func (e *Endpoint) amo64(r *heap.Region, op backend.AMOOp, addr uint64, operand, operand2 uint64) (uint64, error) {
	switch op {
	case backend.AMOAdd:
		v, err := r.Add64(addr, operand)
		return v - operand, err
	case backend.AMOSwap:
		return r.Swap64(addr, operand)
	case backend.AMOCas:
		for {
			cur, err := r.Load64(addr)
			if err != nil {
				return 0, err
			}
			if cur != operand {
				return cur, nil
			}
			ok, err := r.Cas64(addr, operand, operand2)
			if err != nil {
				return 0, err
			}
			if ok {
				return operand, nil
			}
		}
	case backend.AMOAnd:
		return r.And64(addr, operand)
	case backend.AMOOr:
		return r.Or64(addr, operand)
	case backend.AMOXor:
		return r.Xor64(addr, operand)
	default:
		return 0, fmt.Errorf("ipc: unknown amo %v", op)
	}
}

func (e *Endpoint) amo32(r *heap.Region, op backend.AMOOp, addr uint64, operand, operand2 uint32) (uint32, error) {
	switch op {
	case backend.AMOAdd:
		v, err := r.Add32(addr, operand)
		return v - operand, err
	case backend.AMOSwap:
		return r.Swap32(addr, operand)
	case backend.AMOCas:
		for {
			cur, err := r.Load32(addr)
			if err != nil {
				return 0, err
			}
			if cur != operand {
				return cur, nil
			}
			ok, err := r.Cas32(addr, operand, operand2)
			if err != nil {
				return 0, err
			}
			if ok {
				return operand, nil
			}
		}
	case backend.AMOAnd:
		return r.And32(addr, operand)
	case backend.AMOOr:
		return r.Or32(addr, operand)
	case backend.AMOXor:
		return r.Xor32(addr, operand)
	default:
		return 0, fmt.Errorf("ipc: unknown amo %v", op)
	}
}

// Probe reports whether the PE has attached.
func (e *Endpoint) Probe(pe int) error {
	_, err := e.fabric.region(pe)
	return err
}

func (e *Endpoint) Start(ctx context.Context) error {
	e.logger.Debug("ipc backend started")
	return nil
}

func (e *Endpoint) Stop() error { return nil }

