package wire

import (
	"encoding/binary"
	"fmt"
)

type fixedInt interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// fixedDeserializer decodes big-endian fixed-width integers. When the whole
// value is present it decodes straight from the caller's slice; otherwise
// the partial bytes are copied into buf.
type fixedDeserializer[T fixedInt] struct {
	size   int
	decode func([]byte) T
	buf    [8]byte
	n      int
	value  T
	ready  bool
}

func (d *fixedDeserializer[T]) Feed(data []byte) (int, error) {
	if d.ready {
		return 0, nil
	}
	cur := NewCursor(data)
	if d.n == 0 {
		if view, err := cur.Advance(d.size); err == nil {
			d.value = d.decode(view)
			d.ready = true
			return d.size, nil
		}
	}
	d.n += copy(d.buf[d.n:d.size], cur.Take(d.size-d.n))
	if d.n == d.size {
		d.value = d.decode(d.buf[:d.size])
		d.ready = true
	}
	return cur.Offset(), nil
}

func (d *fixedDeserializer[T]) Ready() bool { return d.ready }

func (d *fixedDeserializer[T]) Get() T { return d.value }

func NewInt8() Deserializer[int8] {
	return &fixedDeserializer[int8]{size: 1, decode: func(b []byte) int8 {
		return int8(b[0])
	}}
}

func NewInt16() Deserializer[int16] {
	return &fixedDeserializer[int16]{size: 2, decode: func(b []byte) int16 {
		return int16(binary.BigEndian.Uint16(b))
	}}
}

func NewInt32() Deserializer[int32] {
	return &fixedDeserializer[int32]{size: 4, decode: func(b []byte) int32 {
		return int32(binary.BigEndian.Uint32(b))
	}}
}

func NewInt64() Deserializer[int64] {
	return &fixedDeserializer[int64]{size: 8, decode: func(b []byte) int64 {
		return int64(binary.BigEndian.Uint64(b))
	}}
}

// NewBool decodes a single byte; any non-zero value is true.
func NewBool() Deserializer[bool] {
	return Map(NewInt8(), func(v int8) bool { return v != 0 })
}

const maxUvarintLen = 5

type uvarintDeserializer struct {
	value uint32
	shift uint
	n     int
	ready bool
}

// NewUvarint decodes an unsigned LEB128 varint limited to 32 bits.
func NewUvarint() Deserializer[uint32] {
	return &uvarintDeserializer{}
}

func (d *uvarintDeserializer) Feed(data []byte) (int, error) {
	if d.ready {
		return 0, nil
	}
	for i, b := range data {
		if d.n == maxUvarintLen-1 && b > 0x0f {
			return i, fmt.Errorf("%w: uvarint overflows 32 bits", ErrMalformedValue)
		}
		d.value |= uint32(b&0x7f) << d.shift
		d.shift += 7
		d.n++
		if b&0x80 == 0 {
			d.ready = true
			return i + 1, nil
		}
	}
	return len(data), nil
}

func (d *uvarintDeserializer) Ready() bool { return d.ready }

func (d *uvarintDeserializer) Get() uint32 { return d.value }
