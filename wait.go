package ronet

import (
	"runtime"
	"unsafe"
)

// The wait-until/test family: predicates over local symmetric memory
// that remote PEs write into. All reads are atomic loads, so the
// satisfying write and everything its sender ordered before it (via
// fence/quiet) is visible once the predicate holds. Polling is a busy
// loop yielding the scheduler each round; there is no timeout — the
// caller must guarantee a satisfying write eventually arrives.

func compare[T Int](cur T, cmp Cmp, val T) bool {
	switch cmp {
	case CmpEQ:
		return cur == val
	case CmpNE:
		return cur != val
	case CmpGT:
		return cur > val
	case CmpGE:
		return cur >= val
	case CmpLT:
		return cur < val
	case CmpLE:
		return cur <= val
	default:
		return false
	}
}

// loadElem atomically reads element i of the array at addr.
func loadElem[T Int](r *Runtime, addr SymAddr, i int) T {
	var zero T
	width := unsafe.Sizeof(zero)
	off := uint64(addr) + uint64(i)*uint64(width)
	if width == 4 {
		v, err := r.heap.Region().Load32(off)
		if err != nil {
			r.fatal("wait", err)
		}
		return fromBits[T](uint64(v))
	}
	v, err := r.heap.Region().Load64(off)
	if err != nil {
		r.fatal("wait", err)
	}
	return fromBits[T](v)
}

// Test evaluates the predicate once.
func Test[T Int](r *Runtime, addr SymAddr, cmp Cmp, val T) bool {
	return compare(loadElem[T](r, addr, 0), cmp, val)
}

// WaitUntil blocks until the memory at addr satisfies the predicate.
func WaitUntil[T Int](r *Runtime, addr SymAddr, cmp Cmp, val T) {
	r.stats.waits.Add(1)
	for !compare(loadElem[T](r, addr, 0), cmp, val) {
		runtime.Gosched()
	}
}

// retired reports whether element i is masked out. A nil status
// array retires nothing.
func retired(status []int32, i int) bool {
	return status != nil && status[i] != 0
}

// valueAt resolves the expected value for element i: vals holds
// either one shared value or one value per element.
func valueAt[T Int](vals []T, i int) T {
	if len(vals) == 1 {
		return vals[0]
	}
	return vals[i]
}

func waitAll[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, vals []T) {
	r.stats.waits.Add(1)
	for i := 0; i < n; i++ {
		if retired(status, i) {
			continue
		}
		for !compare(loadElem[T](r, addr, i), cmp, valueAt(vals, i)) {
			runtime.Gosched()
		}
	}
}

func waitAny[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, vals []T) int {
	r.stats.waits.Add(1)
	unmasked := false
	for i := 0; i < n; i++ {
		if !retired(status, i) {
			unmasked = true
		}
	}
	if !unmasked {
		return -1
	}
	for {
		for i := 0; i < n; i++ {
			if retired(status, i) {
				continue
			}
			if compare(loadElem[T](r, addr, i), cmp, valueAt(vals, i)) {
				return i
			}
		}
		runtime.Gosched()
	}
}

func waitSome[T Int](r *Runtime, addr SymAddr, n int, status []int32, indices []int, cmp Cmp, vals []T) int {
	r.stats.waits.Add(1)
	unmasked := false
	for i := 0; i < n; i++ {
		if !retired(status, i) {
			unmasked = true
		}
	}
	if !unmasked {
		return 0
	}
	for {
		// One poll pass reports every satisfied unmasked element, not
		// merely the first.
		count := 0
		for i := 0; i < n; i++ {
			if retired(status, i) {
				continue
			}
			if compare(loadElem[T](r, addr, i), cmp, valueAt(vals, i)) {
				indices[count] = i
				count++
			}
		}
		if count > 0 {
			return count
		}
		runtime.Gosched()
	}
}

// WaitUntilAll blocks until every element whose status is zero
// satisfies the predicate. Elements with nonzero status are treated
// as already retired.
func WaitUntilAll[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, val T) {
	waitAll(r, addr, n, status, cmp, []T{val})
}

// WaitUntilAny blocks until some unmasked element satisfies the
// predicate and returns its index, or -1 when every element is
// retired.
func WaitUntilAny[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, val T) int {
	return waitAny(r, addr, n, status, cmp, []T{val})
}

// WaitUntilSome blocks until at least one unmasked element satisfies
// the predicate, fills indices with every satisfied index observed in
// that poll pass, and returns the count (zero only when every element
// is retired). indices must hold at least n entries.
func WaitUntilSome[T Int](r *Runtime, addr SymAddr, n int, status []int32, indices []int, cmp Cmp, val T) int {
	return waitSome(r, addr, n, status, indices, cmp, []T{val})
}

// WaitUntilAllVector is WaitUntilAll with a per-element expected
// value.
func WaitUntilAllVector[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, vals []T) {
	waitAll(r, addr, n, status, cmp, vals)
}

// WaitUntilAnyVector is WaitUntilAny with a per-element expected
// value.
func WaitUntilAnyVector[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, vals []T) int {
	return waitAny(r, addr, n, status, cmp, vals)
}

// WaitUntilSomeVector is WaitUntilSome with a per-element expected
// value.
func WaitUntilSomeVector[T Int](r *Runtime, addr SymAddr, n int, status []int32, indices []int, cmp Cmp, vals []T) int {
	return waitSome(r, addr, n, status, indices, cmp, vals)
}

// TestVector evaluates the predicate once per element and reports
// whether all unmasked elements satisfy it.
func TestVector[T Int](r *Runtime, addr SymAddr, n int, status []int32, cmp Cmp, vals []T) bool {
	for i := 0; i < n; i++ {
		if retired(status, i) {
			continue
		}
		if !compare(loadElem[T](r, addr, i), cmp, valueAt(vals, i)) {
			return false
		}
	}
	return true
}
