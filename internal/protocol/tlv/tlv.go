package tlv

import (
	"errors"
	"fmt"

	"github.com/danmuck/kproxy/internal/protocol/wire"
)

var ErrTruncated = errors.New("tlv: truncated tagged fields")

// Field is one tagged field of a flexible-version struct. Payloads are kept
// raw: tags unknown to the schema are skipped by size and survive re-encoding.
type Field struct {
	Tag   uint32
	Value []byte
}

func newField() wire.Deserializer[Field] {
	tag := wire.NewUvarint()
	value := wire.NewUvarintBytes()
	return wire.Struct(func() Field {
		return Field{Tag: tag.Get(), Value: value.Get()}
	}, tag, value)
}

// NewDeserializer decodes a tagged-field section: a uvarint count followed
// by (uvarint tag, uvarint size, payload) entries. Tags must be strictly
// increasing; anything else is wire.ErrMalformedValue. An empty section
// decodes to nil.
func NewDeserializer() wire.Deserializer[[]Field] {
	order := &tagOrder{}
	return wire.NewUvarintArray(func() wire.Deserializer[Field] {
		return &orderedField{Deserializer: newField(), order: order}
	})
}

// tagOrder tracks the last tag seen in one section.
type tagOrder struct {
	last uint32
	seen bool
}

func (o *tagOrder) next(tag uint32) error {
	if o.seen && tag <= o.last {
		return fmt.Errorf("%w: tag %d after %d", wire.ErrMalformedValue, tag, o.last)
	}
	o.last, o.seen = tag, true
	return nil
}

type orderedField struct {
	wire.Deserializer[Field]
	order *tagOrder
}

func (f *orderedField) Feed(data []byte) (int, error) {
	wasReady := f.Ready()
	n, err := f.Deserializer.Feed(data)
	if err != nil || wasReady || !f.Ready() {
		return n, err
	}
	return n, f.order.next(f.Get().Tag)
}

// Encode writes fields in the order given. Tags that are not strictly
// increasing fail the encoder with wire.ErrMalformedValue and write nothing.
func Encode(e *wire.Encoder, fields []Field) {
	order := &tagOrder{}
	for _, f := range fields {
		if err := order.next(f.Tag); err != nil {
			e.Fail(err)
			return
		}
	}
	e.Uvarint(uint32(len(fields)))
	for _, f := range fields {
		e.Uvarint(f.Tag)
		e.UvarintBytes(f.Value)
	}
}

// DecodeFields decodes a complete tagged-field section held in payload and
// returns the number of bytes it occupied.
func DecodeFields(payload []byte) ([]Field, int, error) {
	d := NewDeserializer()
	n, err := d.Feed(payload)
	if err != nil {
		return nil, n, err
	}
	if !d.Ready() {
		return nil, n, ErrTruncated
	}
	return d.Get(), n, nil
}

func Get(fields []Field, tag uint32) (Field, bool) {
	for _, f := range fields {
		if f.Tag == tag {
			return f, true
		}
	}
	return Field{}, false
}
