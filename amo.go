package ronet

import (
	"unsafe"

	"github.com/nmxmxh/ronet/internal/backend"
)

// Atomic memory operations. All application happens as a single
// atomic on the owning PE's region. Arithmetic forms accept the
// 32/64-bit integer types; bitwise forms the unsigned ones. Inc is
// add 1, Fetch is fetch-add 0, Set is swap with the result dropped,
// exactly as the operation tables derive them.

// toBits reinterprets a value as its raw word, preserving width.
func toBits[T Int](v T) uint64 {
	if unsafe.Sizeof(v) == 4 {
		return uint64(*(*uint32)(unsafe.Pointer(&v)))
	}
	return *(*uint64)(unsafe.Pointer(&v))
}

// fromBits is the exact inverse of toBits.
func fromBits[T Int](bits uint64) T {
	var v T
	if unsafe.Sizeof(v) == 4 {
		u := uint32(bits)
		return *(*T)(unsafe.Pointer(&u))
	}
	return *(*T)(unsafe.Pointer(&bits))
}

func ctxAMO[T Int](c *Context, call string, op backend.AMOOp, dest SymAddr, pe int, operand, operand2 uint64) T {
	c.rt.stats.amos.Add(1)
	var zero T
	old, err := c.bc.AMO(pe, op, uint64(dest), int(unsafe.Sizeof(zero)), operand, operand2)
	if err != nil {
		c.rt.fatal(call, &OpError{Op: call, PE: pe, Cause: err})
	}
	return fromBits[T](old)
}

// CtxAtomicFetchAdd adds val to the target and returns the prior
// value.
func CtxAtomicFetchAdd[T Int](c *Context, dest SymAddr, val T, pe int) T {
	return ctxAMO[T](c, "atomic_fetch_add", backend.AMOAdd, dest, pe, toBits(val), 0)
}

// CtxAtomicAdd adds val to the target.
func CtxAtomicAdd[T Int](c *Context, dest SymAddr, val T, pe int) {
	_ = CtxAtomicFetchAdd(c, dest, val, pe)
}

// CtxAtomicFetchInc adds one and returns the prior value.
func CtxAtomicFetchInc[T Int](c *Context, dest SymAddr, pe int) T {
	return CtxAtomicFetchAdd(c, dest, T(1), pe)
}

// CtxAtomicInc adds one.
func CtxAtomicInc[T Int](c *Context, dest SymAddr, pe int) {
	CtxAtomicAdd(c, dest, T(1), pe)
}

// CtxAtomicFetch reads the target atomically.
func CtxAtomicFetch[T Int](c *Context, src SymAddr, pe int) T {
	return CtxAtomicFetchAdd(c, src, T(0), pe)
}

// CtxAtomicSwap stores val and returns the prior value.
func CtxAtomicSwap[T Int](c *Context, dest SymAddr, val T, pe int) T {
	return ctxAMO[T](c, "atomic_swap", backend.AMOSwap, dest, pe, toBits(val), 0)
}

// CtxAtomicSet stores val atomically.
func CtxAtomicSet[T Int](c *Context, dest SymAddr, val T, pe int) {
	_ = CtxAtomicSwap(c, dest, val, pe)
}

// CtxAtomicCompareSwap stores val iff the target equals cond, and
// returns the value observed before the operation.
func CtxAtomicCompareSwap[T Int](c *Context, dest SymAddr, cond, val T, pe int) T {
	return ctxAMO[T](c, "atomic_compare_swap", backend.AMOCas, dest, pe, toBits(cond), toBits(val))
}

// CtxAtomicFetchAnd ands mask into the target and returns the prior
// value.
func CtxAtomicFetchAnd[T Uint](c *Context, dest SymAddr, mask T, pe int) T {
	return ctxAMO[T](c, "atomic_fetch_and", backend.AMOAnd, dest, pe, toBits(mask), 0)
}

// CtxAtomicAnd ands mask into the target.
func CtxAtomicAnd[T Uint](c *Context, dest SymAddr, mask T, pe int) {
	_ = CtxAtomicFetchAnd(c, dest, mask, pe)
}

// CtxAtomicFetchOr ors mask into the target and returns the prior
// value.
func CtxAtomicFetchOr[T Uint](c *Context, dest SymAddr, mask T, pe int) T {
	return ctxAMO[T](c, "atomic_fetch_or", backend.AMOOr, dest, pe, toBits(mask), 0)
}

// CtxAtomicOr ors mask into the target.
func CtxAtomicOr[T Uint](c *Context, dest SymAddr, mask T, pe int) {
	_ = CtxAtomicFetchOr(c, dest, mask, pe)
}

// CtxAtomicFetchXor xors mask into the target and returns the prior
// value.
func CtxAtomicFetchXor[T Uint](c *Context, dest SymAddr, mask T, pe int) T {
	return ctxAMO[T](c, "atomic_fetch_xor", backend.AMOXor, dest, pe, toBits(mask), 0)
}

// CtxAtomicXor xors mask into the target.
func CtxAtomicXor[T Uint](c *Context, dest SymAddr, mask T, pe int) {
	_ = CtxAtomicFetchXor(c, dest, mask, pe)
}

// Default-context forms.

func AtomicAdd[T Int](r *Runtime, dest SymAddr, val T, pe int) {
	CtxAtomicAdd(r.defaultCtx, dest, val, pe)
}

func AtomicFetchAdd[T Int](r *Runtime, dest SymAddr, val T, pe int) T {
	return CtxAtomicFetchAdd(r.defaultCtx, dest, val, pe)
}

func AtomicInc[T Int](r *Runtime, dest SymAddr, pe int) {
	CtxAtomicInc[T](r.defaultCtx, dest, pe)
}

func AtomicFetchInc[T Int](r *Runtime, dest SymAddr, pe int) T {
	return CtxAtomicFetchInc[T](r.defaultCtx, dest, pe)
}

func AtomicFetch[T Int](r *Runtime, src SymAddr, pe int) T {
	return CtxAtomicFetch[T](r.defaultCtx, src, pe)
}

func AtomicSet[T Int](r *Runtime, dest SymAddr, val T, pe int) {
	CtxAtomicSet(r.defaultCtx, dest, val, pe)
}

func AtomicSwap[T Int](r *Runtime, dest SymAddr, val T, pe int) T {
	return CtxAtomicSwap(r.defaultCtx, dest, val, pe)
}

func AtomicCompareSwap[T Int](r *Runtime, dest SymAddr, cond, val T, pe int) T {
	return CtxAtomicCompareSwap(r.defaultCtx, dest, cond, val, pe)
}

func AtomicAnd[T Uint](r *Runtime, dest SymAddr, mask T, pe int) {
	CtxAtomicAnd(r.defaultCtx, dest, mask, pe)
}

func AtomicFetchAnd[T Uint](r *Runtime, dest SymAddr, mask T, pe int) T {
	return CtxAtomicFetchAnd(r.defaultCtx, dest, mask, pe)
}

func AtomicOr[T Uint](r *Runtime, dest SymAddr, mask T, pe int) {
	CtxAtomicOr(r.defaultCtx, dest, mask, pe)
}

func AtomicFetchOr[T Uint](r *Runtime, dest SymAddr, mask T, pe int) T {
	return CtxAtomicFetchOr(r.defaultCtx, dest, mask, pe)
}

func AtomicXor[T Uint](r *Runtime, dest SymAddr, mask T, pe int) {
	CtxAtomicXor(r.defaultCtx, dest, mask, pe)
}

func AtomicFetchXor[T Uint](r *Runtime, dest SymAddr, mask T, pe int) T {
	return CtxAtomicFetchXor(r.defaultCtx, dest, mask, pe)
}
