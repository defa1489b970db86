package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoder appends wire encodings to a growing buffer. The flexible flag
// selects compact strings, byte arrays and arrays; fixed-width fields are
// identical in both layouts.
//
// The first encoding error is sticky: later writes are ignored and Err
// reports it.
type Encoder struct {
	flexible bool
	buf      []byte
	err      error
}

func NewEncoder(flexible bool) *Encoder {
	return &Encoder{flexible: flexible}
}

func (e *Encoder) Flexible() bool { return e.flexible }

// Bytes returns the encoded bytes. They are incomplete when Err is non-nil.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) Err() error { return e.err }

func (e *Encoder) fail(kind string, n int) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s of %d", ErrValueTooLarge, kind, n)
	}
}

// Fail records err unless an earlier error is already set. Later writes
// are dropped.
func (e *Encoder) Fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Int8(v int8) {
	if e.err == nil {
		e.buf = append(e.buf, byte(v))
	}
}

func (e *Encoder) Int16(v int16) {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v))
	}
}

func (e *Encoder) Int32(v int32) {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
	}
}

func (e *Encoder) Int64(v int64) {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
	}
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Int8(1)
		return
	}
	e.Int8(0)
}

func (e *Encoder) Uvarint(v uint32) {
	if e.err == nil {
		e.buf = binary.AppendUvarint(e.buf, uint64(v))
	}
}

// Raw appends b without any prefix.
func (e *Encoder) Raw(b []byte) {
	if e.err == nil {
		e.buf = append(e.buf, b...)
	}
}

func (e *Encoder) compactLength(kind string, n int) {
	if uint64(n) >= math.MaxUint32 {
		e.fail(kind, n)
		return
	}
	e.Uvarint(uint32(n + 1))
}

func (e *Encoder) String(s string) {
	switch {
	case e.flexible:
		e.compactLength("string", len(s))
	case len(s) > math.MaxInt16:
		e.fail("string", len(s))
		return
	default:
		e.Int16(int16(len(s)))
	}
	e.Raw([]byte(s))
}

func (e *Encoder) NullableString(s *string) {
	if s != nil {
		e.String(*s)
		return
	}
	if e.flexible {
		e.Uvarint(0)
		return
	}
	e.Int16(-1)
}

func (e *Encoder) ByteArray(b []byte) {
	switch {
	case e.flexible:
		e.compactLength("byte array", len(b))
	case len(b) > math.MaxInt32:
		e.fail("byte array", len(b))
		return
	default:
		e.Int32(int32(len(b)))
	}
	e.Raw(b)
}

// NullableByteArray encodes a nil slice as null.
func (e *Encoder) NullableByteArray(b []byte) {
	if b != nil {
		e.ByteArray(b)
		return
	}
	if e.flexible {
		e.Uvarint(0)
		return
	}
	e.Int32(-1)
}

// UvarintBytes writes b prefixed by its exact uvarint size.
func (e *Encoder) UvarintBytes(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		e.fail("tagged payload", len(b))
		return
	}
	e.Uvarint(uint32(len(b)))
	e.Raw(b)
}

// ArrayLength writes an element count; the elements follow.
func (e *Encoder) ArrayLength(n int) {
	switch {
	case e.flexible:
		e.compactLength("array", n)
	case n > math.MaxInt32:
		e.fail("array", n)
	default:
		e.Int32(int32(n))
	}
}

func (e *Encoder) NullArray() {
	if e.flexible {
		e.Uvarint(0)
		return
	}
	e.Int32(-1)
}

// EncodeArray writes items as a non-null array; a nil slice is empty.
func EncodeArray[T any](e *Encoder, items []T, fn func(*Encoder, T)) {
	e.ArrayLength(len(items))
	for _, item := range items {
		fn(e, item)
	}
}

// EncodeNullableArray writes a nil slice as a null array.
func EncodeNullableArray[T any](e *Encoder, items []T, fn func(*Encoder, T)) {
	if items == nil {
		e.NullArray()
		return
	}
	EncodeArray(e, items, fn)
}
