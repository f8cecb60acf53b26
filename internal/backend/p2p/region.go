package p2p

import (
	"encoding/binary"
	"fmt"

	"github.com/nmxmxh/ronet/internal/backend"
)

// Owner-side application of one-sided operations against the bound
// region. Used both for self-targeted calls and for serving peers.
// Word-sized aligned payloads go through the region's atomics so a
// poller in the wait family observes them as a unit.

func (n *Node) applyPut(dest uint64, src []byte) error {
	r := n.region
	if r == nil {
		return fmt.Errorf("p2p: region not bound")
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

func (n *Node) applyGet(src uint64, dest []byte) error {
	r := n.region
	if r == nil {
		return fmt.Errorf("p2p: region not bound")
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

func (n *Node) applyAMO(op backend.AMOOp, addr uint64, width int, operand, operand2 uint64) (uint64, error) {
	r := n.region
	if r == nil {
		return 0, fmt.Errorf("p2p: region not bound")
	}
	switch width {
	case 4:
		old, err := n.amo32(op, addr, uint32(operand), uint32(operand2))
		return uint64(old), err
	case 8:
		return n.amo64(op, addr, operand, operand2)
	default:
		return 0, fmt.Errorf("p2p: amo width %d", width)
	}
}

func (n *Node) amo64(op backend.AMOOp, addr uint64, operand, operand2 uint64) (uint64, error) {
	r := n.region
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
		return 0, fmt.Errorf("p2p: unknown amo %v", op)
	}
}

func (n *Node) amo32(op backend.AMOOp, addr uint64, operand, operand2 uint32) (uint32, error) {
	r := n.region
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
		return 0, fmt.Errorf("p2p: unknown amo %v", op)
	}
}
