package ronet

import "unsafe"

// Remote memory access surface. Each operation exists in a
// default-context form bound to the runtime and a Ctx form bound to
// an explicit context. Errors on the data plane are fatal: an RMA
// that fails mid-flight has no transactional recovery path.

func sizeOf[T Scalar]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// asBytes reinterprets a scalar slice as its backing bytes.
func asBytes[T Scalar](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*sizeOf[T]())
}

// CtxPut copies src into dest on the target PE and returns when the
// source buffer is reusable (local completion).
func CtxPut[T Scalar](c *Context, dest SymAddr, src []T, pe int) {
	c.rt.stats.puts.Add(1)
	if err := c.bc.Put(pe, uint64(dest), asBytes(src)); err != nil {
		c.rt.fatal("put", &OpError{Op: "put", PE: pe, Cause: err})
	}
}

// CtxGet copies nelem elements from src on the target PE into dest
// and returns with the data in place.
func CtxGet[T Scalar](c *Context, src SymAddr, dest []T, pe int) {
	c.rt.stats.gets.Add(1)
	if err := c.bc.Get(pe, uint64(src), asBytes(dest)); err != nil {
		c.rt.fatal("get", &OpError{Op: "get", PE: pe, Cause: err})
	}
}

// CtxPutNBI queues a put without waiting. The source must stay
// stable until the context is quiesced.
func CtxPutNBI[T Scalar](c *Context, dest SymAddr, src []T, pe int) {
	c.rt.stats.putsNBI.Add(1)
	if err := c.bc.PutNBI(pe, uint64(dest), asBytes(src)); err != nil {
		c.rt.fatal("put_nbi", &OpError{Op: "put_nbi", PE: pe, Cause: err})
	}
}

// CtxGetNBI queues a get without waiting. dest holds valid data only
// after the context is quiesced.
func CtxGetNBI[T Scalar](c *Context, src SymAddr, dest []T, pe int) {
	c.rt.stats.getsNBI.Add(1)
	if err := c.bc.GetNBI(pe, uint64(src), asBytes(dest)); err != nil {
		c.rt.fatal("get_nbi", &OpError{Op: "get_nbi", PE: pe, Cause: err})
	}
}

// CtxP writes a single element.
func CtxP[T Scalar](c *Context, dest SymAddr, val T, pe int) {
	CtxPut(c, dest, []T{val}, pe)
}

// CtxG reads a single element.
func CtxG[T Scalar](c *Context, src SymAddr, pe int) T {
	var out [1]T
	CtxGet(c, src, out[:], pe)
	return out[0]
}

// Put is CtxPut on the default context.
func Put[T Scalar](r *Runtime, dest SymAddr, src []T, pe int) {
	CtxPut(r.defaultCtx, dest, src, pe)
}

// Get is CtxGet on the default context.
func Get[T Scalar](r *Runtime, src SymAddr, dest []T, pe int) {
	CtxGet(r.defaultCtx, src, dest, pe)
}

// PutNBI is CtxPutNBI on the default context.
func PutNBI[T Scalar](r *Runtime, dest SymAddr, src []T, pe int) {
	CtxPutNBI(r.defaultCtx, dest, src, pe)
}

// GetNBI is CtxGetNBI on the default context.
func GetNBI[T Scalar](r *Runtime, src SymAddr, dest []T, pe int) {
	CtxGetNBI(r.defaultCtx, src, dest, pe)
}

// P writes a single element through the default context.
func P[T Scalar](r *Runtime, dest SymAddr, val T, pe int) {
	CtxP(r.defaultCtx, dest, val, pe)
}

// G reads a single element through the default context.
func G[T Scalar](r *Runtime, src SymAddr, pe int) T {
	return CtxG[T](r.defaultCtx, src, pe)
}
