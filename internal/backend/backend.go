// Package backend defines the transport contract the runtime issues
// one-sided operations against, and the context machinery layered on
// top of it: fixed-slot context storage, the free list that hands
// slots out, and the per-context op queue that gives non-blocking
// operations their ordering and completion semantics.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrExhausted is returned when the context pool has no free slot.
	ErrExhausted = errors.New("backend: context pool exhausted")

	// ErrBadHandle is returned on release of a slot that is not held,
	// or of a handle the pool never issued.
	ErrBadHandle = errors.New("backend: bad context handle")

	// ErrClosed is returned when an operation is issued on a context
	// that has been destroyed.
	ErrClosed = errors.New("backend: context closed")
)

// AMOOp selects the atomic applied at the target PE. Every op returns
// the previous value; callers that do not want it discard it. The
// fetch/non-fetch split, inc, and plain fetch are derived above this
// layer (inc is add 1, fetch is add 0, set is swap with the result
// dropped).
type AMOOp int32

const (
	AMOAdd AMOOp = iota
	AMOSwap
	AMOCas
	AMOAnd
	AMOOr
	AMOXor
)

func (op AMOOp) String() string {
	switch op {
	case AMOAdd:
		return "add"
	case AMOSwap:
		return "swap"
	case AMOCas:
		return "cas"
	case AMOAnd:
		return "and"
	case AMOOr:
		return "or"
	case AMOXor:
		return "xor"
	default:
		return "invalid"
	}
}

// Backend is the transport behind every remote operation. Put returns
// on local completion (the source buffer is reusable); Get returns
// with the data in dest. AMO applies a single atomic of the given
// width (4 or 8 bytes) at addr on the owning PE and returns the prior
// value; operand2 is the CAS desired value and ignored elsewhere.
// Implementations must be safe for concurrent calls from independent
// goroutines.
type Backend interface {
	Put(pe int, dest uint64, src []byte) error
	Get(pe int, src uint64, dest []byte) error
	AMO(pe int, op AMOOp, addr uint64, width int, operand, operand2 uint64) (uint64, error)

	// Probe reports peer reachability without moving data.
	Probe(pe int) error

	Start(ctx context.Context) error
	Stop() error
}
