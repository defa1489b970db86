package wire

import "fmt"

type arrayDeserializer[T any] struct {
	prefix   lengthPrefix
	nullable bool
	factory  func() Deserializer[T]
	count    int
	items    []T
	current  Deserializer[T]
	null     bool
	ready    bool
}

func (d *arrayDeserializer[T]) Feed(data []byte) (int, error) {
	if d.ready {
		return 0, nil
	}
	consumed := 0
	if !d.prefix.Ready() {
		n, err := d.prefix.Feed(data)
		consumed = n
		if err != nil || !d.prefix.Ready() {
			return consumed, err
		}
		count := d.prefix.length()
		switch {
		case count == -1 && d.nullable:
			d.null = true
			d.ready = true
			return consumed, nil
		case count < 0:
			return consumed, fmt.Errorf("%w: array count %d", ErrMalformedValue, count)
		}
		d.count = count
		switch {
		case count > 0:
			d.items = make([]T, 0, min(count, maxPreallocItems))
		case d.nullable:
			d.items = []T{}
		}
	}
	for len(d.items) < d.count {
		if d.current == nil {
			d.current = d.factory()
		}
		n, err := d.current.Feed(data[consumed:])
		consumed += n
		if err != nil {
			return consumed, err
		}
		if !d.current.Ready() {
			return consumed, nil
		}
		d.items = append(d.items, d.current.Get())
		d.current = nil
	}
	d.ready = true
	return consumed, nil
}

func (d *arrayDeserializer[T]) Ready() bool { return d.ready }

// Get returns nil for a null array. An empty non-nullable array is also
// nil; nullable arrays keep empty and null apart.
func (d *arrayDeserializer[T]) Get() []T {
	if d.null {
		return nil
	}
	return d.items
}

// NewArray decodes an int32 count followed by that many elements, each
// parsed by a fresh deserializer from factory. A null array is malformed.
func NewArray[T any](factory func() Deserializer[T]) Deserializer[[]T] {
	return &arrayDeserializer[T]{prefix: int32Length(), factory: factory}
}

func NewNullableArray[T any](factory func() Deserializer[T]) Deserializer[[]T] {
	return &arrayDeserializer[T]{prefix: int32Length(), nullable: true, factory: factory}
}

func NewCompactArray[T any](factory func() Deserializer[T]) Deserializer[[]T] {
	return &arrayDeserializer[T]{prefix: compactLength(), factory: factory}
}

func NewCompactNullableArray[T any](factory func() Deserializer[T]) Deserializer[[]T] {
	return &arrayDeserializer[T]{prefix: compactLength(), nullable: true, factory: factory}
}

// NewUvarintArray decodes a plain uvarint count with no null encoding.
func NewUvarintArray[T any](factory func() Deserializer[T]) Deserializer[[]T] {
	return &arrayDeserializer[T]{prefix: uvarintLength(), factory: factory}
}
