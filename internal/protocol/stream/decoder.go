package stream

import (
	"fmt"

	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
	"github.com/danmuck/kproxy/internal/protocol/wire"
	"github.com/rs/zerolog"
)

// maxRetainedCapture caps the capture buffer kept between messages.
const maxRetainedCapture = 64 * 1024

type Option func(*Decoder)

func WithLimits(limits frame.Limits) Option {
	return func(d *Decoder) { d.limits = limits }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Decoder) { d.log = logger }
}

// Decoder turns a fragmented request byte stream into Messages and
// ParseFailures.
//
// Every byte passed to Feed is consumed: it becomes part of a decoded
// message, part of a failure's raw capture, or partial state awaiting the
// next Feed. The only exception is the fatal path, after which the decoder
// refuses all input.
type Decoder struct {
	registry  *schema.Registry
	limits    frame.Limits
	log       zerolog.Logger
	listeners []Dispatcher

	state     State
	length    wire.Deserializer[int32]
	fields    wire.Deserializer[frame.RawHeader]
	header    frame.RawHeader
	remaining int
	body      wire.Deserializer[schema.Body]
	result    schema.Body
	failure   *ParseFailure
	// raw holds every byte of the current message after the length prefix.
	raw []byte

	dispatching bool
	fatal       error
	stats       Stats
}

func NewDecoder(registry *schema.Registry, opts ...Option) *Decoder {
	d := &Decoder{
		registry: registry,
		limits:   frame.DefaultLimits(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.resetMessage()
	return d
}

// AddListener registers l. Listeners are invoked in registration order.
func (d *Decoder) AddListener(l Dispatcher) {
	d.listeners = append(d.listeners, l)
}

func (d *Decoder) State() State { return d.state }

func (d *Decoder) Stats() Stats { return d.stats }

// Feed consumes data and dispatches every message it completes. It returns
// len(data) and a nil error unless the framing becomes untrustworthy; then
// it returns the bytes consumed before that point and a *FatalError, and
// every later call fails with the same error.
func (d *Decoder) Feed(data []byte) (int, error) {
	if d.dispatching {
		return 0, ErrReentrantFeed
	}
	if d.state == StateDesynchronized {
		return 0, d.fatal
	}
	consumed, err := d.run(data)
	d.stats.BytesConsumed += int64(consumed)
	return consumed, err
}

func (d *Decoder) run(data []byte) (int, error) {
	consumed := 0
	for {
		switch d.state {
		case StateAwaitingHeader:
			if consumed == len(data) {
				return consumed, nil
			}
			n, err := d.feedHeader(data[consumed:])
			consumed += n
			if err != nil {
				return consumed, d.desynchronize(consumed, err)
			}
		case StateAwaitingBody:
			consumed += d.feedBody(data[consumed:])
			if d.state == StateAwaitingBody {
				return consumed, nil
			}
		case StateDispatching:
			d.dispatch()
		default:
			return consumed, d.fatal
		}
	}
}

func (d *Decoder) feedHeader(data []byte) (int, error) {
	consumed := 0
	if !d.length.Ready() {
		n, err := d.length.Feed(data)
		consumed = n
		if err != nil {
			return consumed, fmt.Errorf("length prefix: %w", err)
		}
		if !d.length.Ready() {
			return consumed, nil
		}
		if err := d.limits.Check(d.length.Get()); err != nil {
			return consumed, err
		}
		d.remaining = int(d.length.Get())
	}

	chunk := wire.NewCursor(data[consumed:]).Take(d.remaining)
	n, err := d.fields.Feed(chunk)
	d.raw = append(d.raw, chunk[:n]...)
	d.remaining -= n
	consumed += n
	if err != nil {
		return consumed, fmt.Errorf("header: %w", err)
	}
	if !d.fields.Ready() {
		if d.remaining == 0 {
			return consumed, fmt.Errorf("%w: declared %d", frame.ErrHeaderOverrun, d.length.Get())
		}
		return consumed, nil
	}

	d.header = d.fields.Get()
	d.header.Length = d.length.Get()
	d.beginBody()
	return consumed, nil
}

func (d *Decoder) beginBody() {
	h := d.header
	entry, ok := d.registry.Lookup(h.APIKey, h.APIVersion)
	if ok {
		d.body = entry.New()
	} else {
		d.failure = &ParseFailure{
			Reason: ReasonUnsupportedTypeOrVersion,
			Err:    fmt.Errorf("%w: %d:%d", schema.ErrUnsupported, h.APIKey, h.APIVersion),
		}
	}
	d.state = StateAwaitingBody
	d.log.Trace().
		Int16("api_key", h.APIKey).
		Int16("api_version", h.APIVersion).
		Int32("length", h.Length).
		Bool("supported", ok).
		Msg("header decoded")
}

// feedBody never lets the body deserializer see more than the declared
// remainder. Bytes left after the body is ready are skipped as padding.
func (d *Decoder) feedBody(data []byte) int {
	chunk := wire.NewCursor(data).Take(d.remaining)
	d.raw = append(d.raw, chunk...)
	d.remaining -= len(chunk)

	if d.body != nil {
		n, err := d.body.Feed(chunk)
		switch {
		case err != nil:
			d.fail(ReasonMalformedValue, err)
		case d.body.Ready():
			d.result = d.body.Get()
			d.body = nil
			if skipped := len(chunk) - n + d.remaining; skipped > 0 {
				d.log.Trace().Int("bytes", skipped).Msg("skipping trailing body bytes")
			}
		case d.remaining == 0:
			d.fail(ReasonTruncatedPayload, fmt.Errorf("%w: declared %d", ErrTruncated, d.header.Length))
		}
	}
	if d.remaining == 0 {
		d.state = StateDispatching
	}
	return len(chunk)
}

func (d *Decoder) fail(reason Reason, err error) {
	d.failure = &ParseFailure{Reason: reason, Err: err}
	d.body = nil
}

func (d *Decoder) dispatch() {
	d.dispatching = true
	defer func() {
		d.dispatching = false
		d.resetMessage()
	}()

	header := d.header
	if d.failure != nil {
		failure := *d.failure
		failure.Header = &header
		failure.Raw = d.raw
		d.raw = nil
		d.stats.Failures++
		d.log.Debug().
			Int16("api_key", header.APIKey).
			Int16("api_version", header.APIVersion).
			Int32("correlation_id", header.CorrelationID).
			Stringer("reason", failure.Reason).
			Err(failure.Err).
			Msg("request parse failed")
		for _, l := range d.listeners {
			l.OnFailedParse(failure)
		}
		return
	}

	msg := Message{Header: header, Body: d.result}
	d.stats.Messages++
	d.log.Trace().
		Int16("api_key", header.APIKey).
		Int16("api_version", header.APIVersion).
		Int32("correlation_id", header.CorrelationID).
		Msg("request decoded")
	for _, l := range d.listeners {
		l.OnMessage(msg)
	}
}

func (d *Decoder) resetMessage() {
	d.state = StateAwaitingHeader
	d.length = wire.NewInt32()
	d.fields = frame.NewHeaderDeserializer()
	d.header = frame.RawHeader{}
	d.remaining = 0
	d.body = nil
	d.result = nil
	d.failure = nil
	if cap(d.raw) > maxRetainedCapture {
		d.raw = nil
	}
	d.raw = d.raw[:0]
}

func (d *Decoder) desynchronize(consumed int, err error) error {
	d.state = StateDesynchronized
	d.fatal = &FatalError{Offset: d.stats.BytesConsumed + int64(consumed), Err: err}
	d.body = nil
	d.raw = nil
	d.log.Error().Err(err).Int64("offset", d.fatal.(*FatalError).Offset).Msg("request stream desynchronized")
	return d.fatal
}
