package schema

import (
	"github.com/danmuck/kproxy/internal/protocol/tlv"
	"github.com/danmuck/kproxy/internal/protocol/wire"
)

// layout picks classic or compact primitives for one (api key, version).
type layout struct {
	flexible bool
}

func (l layout) str() wire.Deserializer[string] {
	if l.flexible {
		return wire.NewCompactString()
	}
	return wire.NewString()
}

func (l layout) nullableStr() wire.Deserializer[*string] {
	if l.flexible {
		return wire.NewCompactNullableString()
	}
	return wire.NewNullableString()
}

func (l layout) nullableBytes() wire.Deserializer[[]byte] {
	if l.flexible {
		return wire.NewCompactNullableBytes()
	}
	return wire.NewNullableBytes()
}

// tags is nil unless the layout carries a tagged-field section.
func (l layout) tags() wire.Deserializer[[]tlv.Field] {
	if l.flexible {
		return tlv.NewDeserializer()
	}
	return nil
}

func arrayOf[T any](l layout, factory func() wire.Deserializer[T]) wire.Deserializer[[]T] {
	if l.flexible {
		return wire.NewCompactArray(factory)
	}
	return wire.NewArray(factory)
}

func nullableArrayOf[T any](l layout, factory func() wire.Deserializer[T]) wire.Deserializer[[]T] {
	if l.flexible {
		return wire.NewCompactNullableArray(factory)
	}
	return wire.NewNullableArray(factory)
}

// present drops fields that are absent in this version.
func present(fields ...wire.Feeder) []wire.Feeder {
	out := fields[:0]
	for _, f := range fields {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// opt returns the zero value for a field absent in this version.
func opt[T any](d wire.Deserializer[T]) T {
	var zero T
	if d == nil {
		return zero
	}
	return d.Get()
}

func encodeTags(e *wire.Encoder, tags []tlv.Field) {
	if e.Flexible() {
		tlv.Encode(e, tags)
	}
}
