package ronet

// Signaling: a put whose completion the target observes through a
// separate 8-byte signal word, plus the local signal accessors. The
// signal update is issued only after the payload put is complete, so
// a PE that observes the signal may read the payload.

// CtxPutSignal delivers src to dest on the target PE, then updates
// the signal word at sigAddr (set or add, per op). The signal word is
// an 8-byte symmetric object.
func CtxPutSignal[T Scalar](c *Context, dest SymAddr, src []T, sigAddr SymAddr, sigVal uint64, op SignalOp, pe int) {
	CtxPut(c, dest, src, pe)
	switch op {
	case SignalAdd:
		CtxAtomicAdd(c, sigAddr, sigVal, pe)
	default:
		CtxAtomicSet(c, sigAddr, sigVal, pe)
	}
}

// PutSignal is CtxPutSignal on the default context.
func PutSignal[T Scalar](r *Runtime, dest SymAddr, src []T, sigAddr SymAddr, sigVal uint64, op SignalOp, pe int) {
	CtxPutSignal(r.defaultCtx, dest, src, sigAddr, sigVal, op, pe)
}

// SignalFetch atomically reads a local signal word.
func SignalFetch(r *Runtime, sigAddr SymAddr) uint64 {
	return loadElem[uint64](r, sigAddr, 0)
}

// SignalWaitUntil blocks until the local signal word satisfies the
// predicate and returns the value that satisfied it.
func SignalWaitUntil(r *Runtime, sigAddr SymAddr, cmp Cmp, val uint64) uint64 {
	WaitUntil(r, sigAddr, cmp, val)
	return loadElem[uint64](r, sigAddr, 0)
}
