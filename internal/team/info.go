// Package team holds the affine active-set arithmetic and the
// process-wide registry of live teams. Everything here is exact
// integer math; the cross-PE agreement protocol lives with the
// runtime that owns the heap and transport.
package team

import "errors"

var (
	ErrBadSplit  = errors.New("team: invalid split arguments")
	ErrExhausted = errors.New("team: team table full")
)

// InvalidPE marks a PE with no mapping in the queried team.
const InvalidPE = -1

// WorldID is the reserved ID of the world team.
const WorldID = 0

// Info is the immutable affine descriptor of a team: member i maps to
// PE Start + i*Stride in the coordinate space the Info was built for
// (parent-relative or world-relative).
type Info struct {
	Start  int
	Stride int
	Size   int
}

// WorldPE maps a member index to the Info's coordinate space.
func (in Info) WorldPE(i int) int { return in.Start + i*in.Stride }

// End returns the highest PE covered by the set.
func (in Info) End() int { return in.Start + in.Stride*(in.Size-1) }

// IndexOf inverts the affine map. It returns the member index of pe,
// or InvalidPE when pe is below Start, off the stride, or past the
// last member.
func (in Info) IndexOf(pe int) int {
	d := pe - in.Start
	if d < 0 || in.Stride <= 0 || d%in.Stride != 0 {
		return InvalidPE
	}
	q := d / in.Stride
	if q >= in.Size {
		return InvalidPE
	}
	return q
}

// Split validates split arguments against the parent and resolves the
// child's world-relative descriptor. The parent-relative descriptor is
// just the raw triplet. Validation order matches the operation
// contract: argument errors first, then the world-range check.
func Split(parentWorld Info, start, stride, size, worldSize int) (childWorld Info, err error) {
	if start < 0 || start >= parentWorld.Size {
		return Info{}, ErrBadSplit
	}
	if size < 1 || size > parentWorld.Size {
		return Info{}, ErrBadSplit
	}
	if stride < 1 {
		return Info{}, ErrBadSplit
	}
	childWorld = Info{
		Start:  parentWorld.Start + start*parentWorld.Stride,
		Stride: stride * parentWorld.Stride,
		Size:   size,
	}
	if childWorld.End() >= worldSize {
		return Info{}, ErrBadSplit
	}
	return childWorld, nil
}

// Translate maps a member index of src into dst's numbering. Both
// descriptors must be world-relative. Returns InvalidPE when the
// source index is out of range or the PE is not a dst member.
func Translate(src Info, pe int, dst Info) int {
	if pe < 0 || pe >= src.Size {
		return InvalidPE
	}
	return dst.IndexOf(src.WorldPE(pe))
}
