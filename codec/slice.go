package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrCorruptSlice is returned when a slice frame fails validation.
var ErrCorruptSlice = errors.New("codec: corrupt slice frame")

// Slice lifts an element codec to []V by length-prefix framing each element:
//
//	count(u32 be) | { elen(u32 be) | elem(elen) } * count
//
// This keeps collection serialization codec-agnostic: formats without a
// natural top-level list shape (e.g. protobuf messages) compose the same way
// as JSON or msgpack.
type Slice[V any] struct {
	// Elem is the element codec. It must be set.
	Elem Codec[V]
}

func (c Slice[V]) Encode(vs []V) ([]byte, error) {
	var buf bytes.Buffer
	var u4 [4]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(vs)))
	buf.Write(u4[:])

	for _, v := range vs {
		eb, err := c.Elem.Encode(v)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(u4[:], uint32(len(eb)))
		buf.Write(u4[:])
		buf.Write(eb)
	}
	return buf.Bytes(), nil
}

func (c Slice[V]) Decode(b []byte) ([]V, error) {
	if len(b) < 4 {
		return nil, ErrCorruptSlice
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	off := 4

	// no preallocation by n alone; a bogus count must not balloon memory
	var out []V
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return nil, ErrCorruptSlice
		}
		elen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if elen < 0 || elen > len(b)-off {
			return nil, ErrCorruptSlice
		}
		v, err := c.Elem.Decode(b[off : off+elen])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		off += elen
	}
	if off != len(b) {
		return nil, ErrCorruptSlice
	}
	return out, nil
}
