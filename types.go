package ronet

// SymAddr is a byte offset into the symmetric heap. The same offset
// names the same object on every PE, so a remote reference is always a
// (SymAddr, pe) pair rather than a raw pointer. Offset 0 is reserved
// and never handed out by Alloc, making the zero value usable as a
// "no address" sentinel.
type SymAddr uint64

// InvalidPE is returned by translation and membership queries when a
// PE has no valid mapping in the target team.
const InvalidPE = -1

// Scalar enumerates the element types accepted by the remote memory
// access surface (put/get and their single-element forms).
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~float32 | ~float64
}

// Int enumerates the point-to-point synchronization types: the wait
// family and the arithmetic atomics operate on these. 8- and 16-bit
// widths are excluded because the runtime applies them with single
// 32/64-bit atomics on the owning PE.
type Int interface {
	~int32 | ~int64 | ~int | ~uint32 | ~uint64 | ~uint | ~uintptr
}

// Uint enumerates the types accepted by the bitwise atomics
// (and/or/xor and their fetching forms).
type Uint interface {
	~uint32 | ~uint64 | ~uint | ~uintptr
}

// Cmp selects the comparison applied by the wait-until/test family.
type Cmp int32

const (
	CmpEQ Cmp = iota
	CmpNE
	CmpGT
	CmpGE
	CmpLT
	CmpLE
)

func (c Cmp) String() string {
	switch c {
	case CmpEQ:
		return "eq"
	case CmpNE:
		return "ne"
	case CmpGT:
		return "gt"
	case CmpGE:
		return "ge"
	case CmpLT:
		return "lt"
	case CmpLE:
		return "le"
	default:
		return "invalid"
	}
}

// ReduceOp selects the elementwise operator applied by Reduce. The
// bitwise operators are valid only for integer element types.
type ReduceOp int32

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
	OpProd
	OpOr
	OpAnd
	OpXor
)

func (op ReduceOp) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpProd:
		return "prod"
	case OpOr:
		return "or"
	case OpAnd:
		return "and"
	case OpXor:
		return "xor"
	default:
		return "invalid"
	}
}

// ActiveSet names the PEs participating in an active-set collective as
// an affine triplet over world ranks: member i maps to world PE
// Start + i*Stride for i in [0, Size).
type ActiveSet struct {
	Start  int `json:"start"`
	Stride int `json:"stride"`
	Size   int `json:"size"`
}

// ContextOptions is a bitfield recorded at context creation. The
// runtime schedules all contexts uniformly; the options are kept for
// callers that tune their issue patterns around them.
type ContextOptions uint32

const (
	CtxSerialized ContextOptions = 1 << iota
	CtxPrivate
	CtxNoStore
)

// SignalOp selects how PutSignal updates the remote signal word after
// the payload is delivered.
type SignalOp int32

const (
	SignalSet SignalOp = iota
	SignalAdd
)
