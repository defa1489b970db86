package wire

import "fmt"

// maxPrealloc bounds allocations driven by a declared length; beyond it,
// buffers only grow with bytes that have actually arrived.
const (
	maxPrealloc      = 4096
	maxPreallocItems = 64
)

// lengthPrefix decodes a length or count and normalizes it so that -1 means null.
type lengthPrefix struct {
	Feeder
	length func() int
}

func int16Length() lengthPrefix {
	d := NewInt16()
	return lengthPrefix{d, func() int { return int(d.Get()) }}
}

func int32Length() lengthPrefix {
	d := NewInt32()
	return lengthPrefix{d, func() int { return int(d.Get()) }}
}

// compactLength stores length+1 so that zero encodes null.
func compactLength() lengthPrefix {
	d := NewUvarint()
	return lengthPrefix{d, func() int { return int(d.Get()) - 1 }}
}

func uvarintLength() lengthPrefix {
	d := NewUvarint()
	return lengthPrefix{d, func() int { return int(d.Get()) }}
}

// blob is a length-prefixed run of bytes.
type blob struct {
	prefix   lengthPrefix
	nullable bool
	size     int
	buf      []byte
	null     bool
	ready    bool
}

func (b *blob) Feed(data []byte) (int, error) {
	if b.ready {
		return 0, nil
	}
	consumed := 0
	if !b.prefix.Ready() {
		n, err := b.prefix.Feed(data)
		consumed = n
		if err != nil || !b.prefix.Ready() {
			return consumed, err
		}
		if err := b.open(b.prefix.length(), len(data)-consumed); err != nil {
			return consumed, err
		}
		if b.ready {
			return consumed, nil
		}
	}
	cur := NewCursor(data[consumed:])
	b.buf = append(b.buf, cur.Take(b.size-len(b.buf))...)
	b.ready = len(b.buf) == b.size
	return consumed + cur.Offset(), nil
}

func (b *blob) open(size, available int) error {
	switch {
	case size == -1 && b.nullable:
		b.null = true
		b.ready = true
		return nil
	case size < 0:
		return fmt.Errorf("%w: length %d", ErrMalformedValue, size)
	}
	b.size = size
	b.buf = make([]byte, 0, min(size, max(available, maxPrealloc)))
	b.ready = size == 0
	return nil
}

func (b *blob) Ready() bool { return b.ready }

type stringDeserializer struct{ blob }

func (d *stringDeserializer) Get() string { return string(d.buf) }

type nullableStringDeserializer struct{ blob }

func (d *nullableStringDeserializer) Get() *string {
	if d.null {
		return nil
	}
	s := string(d.buf)
	return &s
}

type bytesDeserializer struct{ blob }

// Get returns nil only for a null value.
func (d *bytesDeserializer) Get() []byte {
	if d.null {
		return nil
	}
	return d.buf
}

// NewString decodes an int16 length-prefixed string; null is malformed.
func NewString() Deserializer[string] {
	return &stringDeserializer{blob{prefix: int16Length()}}
}

func NewNullableString() Deserializer[*string] {
	return &nullableStringDeserializer{blob{prefix: int16Length(), nullable: true}}
}

// NewBytes decodes an int32 length-prefixed byte array; null is malformed.
func NewBytes() Deserializer[[]byte] {
	return &bytesDeserializer{blob{prefix: int32Length()}}
}

func NewNullableBytes() Deserializer[[]byte] {
	return &bytesDeserializer{blob{prefix: int32Length(), nullable: true}}
}

func NewCompactString() Deserializer[string] {
	return &stringDeserializer{blob{prefix: compactLength()}}
}

func NewCompactNullableString() Deserializer[*string] {
	return &nullableStringDeserializer{blob{prefix: compactLength(), nullable: true}}
}

func NewCompactBytes() Deserializer[[]byte] {
	return &bytesDeserializer{blob{prefix: compactLength()}}
}

func NewCompactNullableBytes() Deserializer[[]byte] {
	return &bytesDeserializer{blob{prefix: compactLength(), nullable: true}}
}

// NewUvarintBytes decodes bytes prefixed by their exact uvarint size, as used
// by tagged field payloads.
func NewUvarintBytes() Deserializer[[]byte] {
	return &bytesDeserializer{blob{prefix: uvarintLength()}}
}
