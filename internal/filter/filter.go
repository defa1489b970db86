// Package filter attaches a stream decoder to one proxied connection.
//
// Ownership boundary:
// - filter owns per-connection decoder state, connection ids and the
// logging and metrics side effects of each dispatch.
// - filter never mutates traffic; callers forward every byte they pass in.
// - protocol/stream owns framing and message decoding.
package filter

import (
	"errors"

	"github.com/danmuck/kproxy/internal/observability"
	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
	"github.com/danmuck/kproxy/internal/protocol/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Status tells the proxy whether to keep the connection open.
type Status int

const (
	Continue Status = iota
	Close
)

func (s Status) String() string {
	if s == Close {
		return "close"
	}
	return "continue"
}

type Options struct {
	// Name labels metrics and logs; defaults to "kproxy".
	Name     string
	Registry *schema.Registry
	Limits   frame.Limits
	// LogFailures logs every parse failure at warn level instead of debug.
	LogFailures bool
	// Logger defaults to the global logger.
	Logger *zerolog.Logger
}

// Filter inspects the request direction of one connection.
// It is not safe for concurrent use.
type Filter struct {
	id          uuid.UUID
	name        string
	decoder     *stream.Decoder
	log         zerolog.Logger
	logFailures bool
	closed      bool
}

// New creates a filter; listeners receive every dispatch after the
// filter's own logging and metrics.
func New(opts Options, listeners ...stream.Dispatcher) *Filter {
	if opts.Name == "" {
		opts.Name = "kproxy"
	}
	if opts.Registry == nil {
		opts.Registry = schema.Default()
	}
	if opts.Limits.MaxMessageBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}

	f := &Filter{
		id:          uuid.New(),
		name:        opts.Name,
		logFailures: opts.LogFailures,
	}
	f.log = base.With().Str("filter", f.name).Str("conn", f.id.String()).Logger()
	f.decoder = stream.NewDecoder(opts.Registry, stream.WithLimits(opts.Limits), stream.WithLogger(f.log))
	f.decoder.AddListener(stream.DispatcherFuncs{Message: f.onMessage, Failure: f.onFailure})
	for _, l := range listeners {
		f.decoder.AddListener(l)
	}
	f.log.Debug().Int32("max_message_bytes", opts.Limits.MaxMessageBytes).Msg("filter attached")
	return f
}

func (f *Filter) ID() uuid.UUID { return f.id }

func (f *Filter) Stats() stream.Stats { return f.decoder.Stats() }

// OnData inspects a chunk of client-to-server bytes. Once it returns Close
// it keeps returning Close without inspecting further input.
func (f *Filter) OnData(data []byte) Status {
	if f.closed {
		return Close
	}
	n, err := f.decoder.Feed(data)
	observability.RecordConsumed(f.name, n)
	if err == nil {
		return Continue
	}

	f.closed = true
	if errors.Is(err, stream.ErrDesynchronized) {
		observability.RecordDesync(f.name)
		f.log.Warn().Err(err).Int64("bytes", f.decoder.Stats().BytesConsumed).Msg("closing desynchronized connection")
	} else {
		f.log.Error().Err(err).Msg("filter fed from its own listener")
	}
	return Close
}

func (f *Filter) onMessage(msg stream.Message) {
	h := msg.Header
	observability.RecordMessage(f.name, h.APIKey, h.APIVersion, h.Length)
	f.log.Debug().
		Str("api", schema.Name(h.APIKey)).
		Int16("api_version", h.APIVersion).
		Int32("correlation_id", h.CorrelationID).
		Msg("request")
}

func (f *Filter) onFailure(failure stream.ParseFailure) {
	var length int32
	event := f.log.Debug()
	if f.logFailures {
		event = f.log.Warn()
	}
	if h := failure.Header; h != nil {
		length = h.Length
		event = event.
			Str("api", schema.Name(h.APIKey)).
			Int16("api_key", h.APIKey).
			Int16("api_version", h.APIVersion).
			Int32("correlation_id", h.CorrelationID)
	}
	observability.RecordFailure(f.name, failure.Reason.String(), length)
	event.Stringer("reason", failure.Reason).Int("raw_bytes", len(failure.Raw)).Err(failure.Err).Msg("request not decoded")
}
