package wire

// Feeder is the type-erased half of a Deserializer, used to compose fields
// of different types into one struct.
type Feeder interface {
	// Feed consumes a prefix of data, never more than the unit needs, and
	// reports how many bytes it took. Once Ready, Feed consumes nothing.
	Feed(data []byte) (int, error)
	Ready() bool
}

// Deserializer is a resumable parser for a single value. Input may arrive in
// any fragmentation; a Deserializer that is not Ready after Feed has consumed
// all of the data it was given.
type Deserializer[T any] interface {
	Feeder
	// Get returns the decoded value. It is only meaningful once Ready.
	Get() T
}

type structDeserializer[T any] struct {
	fields []Feeder
	next   int
	build  func() T
	value  T
	ready  bool
}

// Struct decodes fields in order, forwarding whatever one field leaves
// unconsumed to the next within the same Feed call. build runs once, after
// the last field is ready, and assembles the value from the field results.
func Struct[T any](build func() T, fields ...Feeder) Deserializer[T] {
	return &structDeserializer[T]{fields: fields, build: build}
}

func (d *structDeserializer[T]) Feed(data []byte) (int, error) {
	if d.ready {
		return 0, nil
	}
	consumed := 0
	for ; d.next < len(d.fields); d.next++ {
		field := d.fields[d.next]
		n, err := field.Feed(data[consumed:])
		consumed += n
		if err != nil {
			return consumed, err
		}
		if !field.Ready() {
			return consumed, nil
		}
	}
	d.value = d.build()
	d.ready = true
	return consumed, nil
}

func (d *structDeserializer[T]) Ready() bool { return d.ready }

func (d *structDeserializer[T]) Get() T { return d.value }

type mappedDeserializer[A, B any] struct {
	src   Deserializer[A]
	fn    func(A) B
	value B
	ready bool
}

// Map converts the result of src once it is ready.
func Map[A, B any](src Deserializer[A], fn func(A) B) Deserializer[B] {
	return &mappedDeserializer[A, B]{src: src, fn: fn}
}

func (d *mappedDeserializer[A, B]) Feed(data []byte) (int, error) {
	if d.ready {
		return 0, nil
	}
	n, err := d.src.Feed(data)
	if err == nil && d.src.Ready() {
		d.value = d.fn(d.src.Get())
		d.ready = true
	}
	return n, err
}

func (d *mappedDeserializer[A, B]) Ready() bool { return d.ready }

func (d *mappedDeserializer[A, B]) Get() B { return d.value }
