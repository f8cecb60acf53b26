// Package p2p is the multi-process backend: one PE per process,
// reached over libp2p streams. Frames are length-prefixed protowire
// records; large payloads travel brotli-compressed. The same node
// also carries the bootstrap traffic (barrier and communicator split)
// as root-coordinated request/response frames.
package p2p

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frame types. A response mirrors its request's type and sets
// flagResp; the seq field pairs them.
const (
	msgPut uint64 = iota + 1
	msgGet
	msgAMO
	msgPing
	msgBarrier
	msgSplit
)

const (
	flagResp       = 1 << 0
	flagCompressed = 1 << 1
)

// Protowire field numbers.
const (
	fieldType     = 1
	fieldSeq      = 2
	fieldFrom     = 3
	fieldOp       = 4
	fieldAddr     = 5
	fieldWidth    = 6
	fieldOperand  = 7
	fieldOperand2 = 8
	fieldFlags    = 9
	fieldStatus   = 10
	fieldPayload  = 11
)

// frame is one wire message. Zero-valued fields are omitted on the
// wire. status is zero on success; a failure response carries the
// error text in payload.
type frame struct {
	typ      uint64
	seq      uint64
	from     uint64
	op       uint64
	addr     uint64
	width    uint64
	operand  uint64
	operand2 uint64
	flags    uint64
	status   uint64
	payload  []byte
}

func appendField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// encodeFrame renders f as a uvarint-length-prefixed record. Payloads
// at or above compressThreshold are brotli-compressed when that
// actually shrinks them. maxFrame bounds the encoded record.
func encodeFrame(f *frame, compressThreshold, maxFrame int) ([]byte, error) {
	payload := f.payload
	flags := f.flags
	if compressThreshold > 0 && len(payload) >= compressThreshold {
		var cb bytes.Buffer
		w := brotli.NewWriterLevel(&cb, brotli.BestSpeed)
		if _, err := w.Write(payload); err == nil && w.Close() == nil && cb.Len() < len(payload) {
			payload = cb.Bytes()
			flags |= flagCompressed
		}
	}

	body := appendField(nil, fieldType, f.typ)
	body = appendField(body, fieldSeq, f.seq)
	body = appendField(body, fieldFrom, f.from)
	body = appendField(body, fieldOp, f.op)
	body = appendField(body, fieldAddr, f.addr)
	body = appendField(body, fieldWidth, f.width)
	body = appendField(body, fieldOperand, f.operand)
	body = appendField(body, fieldOperand2, f.operand2)
	body = appendField(body, fieldFlags, flags)
	body = appendField(body, fieldStatus, f.status)
	if len(payload) > 0 {
		body = protowire.AppendTag(body, fieldPayload, protowire.BytesType)
		body = protowire.AppendBytes(body, payload)
	}

	if maxFrame > 0 && len(body) > maxFrame {
		return nil, fmt.Errorf("p2p: frame of %d bytes exceeds limit %d", len(body), maxFrame)
	}
	out := protowire.AppendVarint(nil, uint64(len(body)))
	return append(out, body...), nil
}

func decodeFrame(body []byte, maxFrame int) (*frame, error) {
	f := &frame{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
			switch num {
			case fieldType:
				f.typ = v
			case fieldSeq:
				f.seq = v
			case fieldFrom:
				f.from = v
			case fieldOp:
				f.op = v
			case fieldAddr:
				f.addr = v
			case fieldWidth:
				f.width = v
			case fieldOperand:
				f.operand = v
			case fieldOperand2:
				f.operand2 = v
			case fieldFlags:
				f.flags = v
			case fieldStatus:
				f.status = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
			if num == fieldPayload {
				f.payload = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}

	if f.flags&flagCompressed != 0 {
		r := brotli.NewReader(bytes.NewReader(f.payload))
		var limit int64 = 1 << 62
		if maxFrame > 0 {
			limit = int64(maxFrame)
		}
		raw, err := io.ReadAll(io.LimitReader(r, limit+1))
		if err != nil {
			return nil, fmt.Errorf("p2p: decompress: %w", err)
		}
		if int64(len(raw)) > limit {
			return nil, fmt.Errorf("p2p: decompressed payload exceeds limit %d", limit)
		}
		f.payload = raw
		f.flags &^= flagCompressed
	}
	return f, nil
}

func writeFrame(w io.Writer, f *frame, compressThreshold, maxFrame int) error {
	b, err := encodeFrame(f, compressThreshold, maxFrame)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readFrame(br *bufio.Reader, maxFrame int) (*frame, error) {
	size, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	if maxFrame > 0 && size > uint64(maxFrame) {
		return nil, fmt.Errorf("p2p: inbound frame of %d bytes exceeds limit %d", size, maxFrame)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return decodeFrame(body, maxFrame)
}

func readUvarint(br *bufio.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < 10; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("p2p: malformed length prefix")
}

// rank lists travel as a packed varint sequence in split responses.
func appendRanks(b []byte, ranks []int) []byte {
	for _, r := range ranks {
		b = protowire.AppendVarint(b, uint64(r))
	}
	return b
}

func parseRanks(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		out = append(out, int(v))
	}
	return out, nil
}
