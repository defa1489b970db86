package stream

import (
	"errors"
	"fmt"

	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
)

var (
	ErrDesynchronized = errors.New("stream: desynchronized")
	ErrReentrantFeed  = errors.New("stream: feed called from a listener")
	ErrTruncated      = errors.New("stream: body schema exceeds declared length")
)

type State int

const (
	StateAwaitingHeader State = iota
	StateAwaitingBody
	StateDispatching
	StateDesynchronized
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateAwaitingBody:
		return "awaiting_body"
	case StateDispatching:
		return "dispatching"
	case StateDesynchronized:
		return "desynchronized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason classifies a per-message failure. The stream stays aligned after
// every reason.
type Reason int

const (
	// ReasonTruncatedPayload: the declared length ended before the body schema did.
	ReasonTruncatedPayload Reason = iota + 1
	// ReasonUnsupportedTypeOrVersion: no registry entry; the body was captured raw.
	ReasonUnsupportedTypeOrVersion
	// ReasonMalformedValue: a body field violated its own encoding rules.
	ReasonMalformedValue
)

func (r Reason) String() string {
	switch r {
	case ReasonTruncatedPayload:
		return "truncated_payload"
	case ReasonUnsupportedTypeOrVersion:
		return "unsupported_type_or_version"
	case ReasonMalformedValue:
		return "malformed_value"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Message is a successfully decoded request.
type Message struct {
	Header frame.RawHeader
	Body   schema.Body
}

// ParseFailure reports a message that could not be decoded. Raw holds
// exactly Header.Length bytes: everything after the length prefix.
type ParseFailure struct {
	Header *frame.RawHeader
	Raw    []byte
	Reason Reason
	Err    error
}

// Dispatcher receives decoded messages and failures in stream order. It is
// called synchronously from Feed and must not call Feed on the same Decoder.
type Dispatcher interface {
	OnMessage(msg Message)
	OnFailedParse(failure ParseFailure)
}

// DispatcherFuncs adapts plain functions to Dispatcher. Nil funcs are skipped.
type DispatcherFuncs struct {
	Message func(Message)
	Failure func(ParseFailure)
}

func (f DispatcherFuncs) OnMessage(msg Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}

func (f DispatcherFuncs) OnFailedParse(failure ParseFailure) {
	if f.Failure != nil {
		f.Failure(failure)
	}
}

// FatalError is returned once the decoder can no longer trust framing. The
// connection must be closed.
type FatalError struct {
	Offset int64 // stream offset of the first byte not consumed
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("stream: desynchronized at offset %d: %v", e.Offset, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrDesynchronized }

// Stats counts decoder progress since creation.
type Stats struct {
	BytesConsumed int64
	Messages      int
	Failures      int
}
