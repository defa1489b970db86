package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
	"github.com/danmuck/kproxy/internal/protocol/wire"
	"github.com/danmuck/kproxy/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// event flattens a dispatch so runs with different chunking compare equal.
type event struct {
	Failed bool
	Header frame.RawHeader
	Body   schema.Body
	Raw    []byte
	Reason Reason
	Err    string
}

type recorder struct {
	events []event
}

func (r *recorder) OnMessage(msg Message) {
	r.events = append(r.events, event{Header: msg.Header, Body: msg.Body})
}

func (r *recorder) OnFailedParse(f ParseFailure) {
	e := event{Failed: true, Raw: append([]byte(nil), f.Raw...), Reason: f.Reason}
	if f.Header != nil {
		e.Header = *f.Header
	}
	if f.Err != nil {
		e.Err = f.Err.Error()
	}
	r.events = append(r.events, e)
}

func newTestDecoder(t *testing.T, opts ...Option) (*Decoder, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := NewDecoder(schema.Default(), opts...)
	d.AddListener(rec)
	return d, rec
}

func encodeMessage(t *testing.T, h frame.RawHeader, body schema.Body) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := schema.Default().Encode(&buf, h, body)
	require.NoError(t, err)
	return buf.Bytes()
}

// rawMessage frames an arbitrary body behind a non-flexible header.
func rawMessage(t *testing.T, h frame.RawHeader, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := frame.WriteMessage(&buf, h, body, frame.Limits{MaxMessageBytes: 1 << 30})
	require.NoError(t, err)
	return buf.Bytes()
}

// shrink drops n trailing bytes from a framed message and fixes the prefix.
func shrink(msg []byte, n int) []byte {
	out := append([]byte(nil), msg[:len(msg)-n]...)
	binary.BigEndian.PutUint32(out, uint32(len(out)-frame.LengthFieldSize))
	return out
}

func header(key, version int16, correlation int32) frame.RawHeader {
	return frame.RawHeader{APIKey: key, APIVersion: version, CorrelationID: correlation, ClientID: strPtr("client-1")}
}

// mixedStream covers every dispatch outcome: valid messages of several
// kinds, an unknown type, a truncated body, a malformed body and padding.
func mixedStream(t *testing.T) []byte {
	t.Helper()
	var s []byte
	s = append(s, encodeMessage(t, header(schema.KeyProduce, 3, 1), &schema.ProduceRequest{
		TransactionalID: strPtr("tx"),
		Acks:            1,
		TimeoutMs:       1000,
		Topics: []schema.ProduceTopic{{
			Name:       "orders",
			Partitions: []schema.ProducePartition{{Index: 0, Records: []byte("records")}},
		}},
	})...)
	s = append(s, rawMessage(t, header(999, 0, 2), []byte{1, 2, 3, 4, 5, 6, 7})...)
	fetch := encodeMessage(t, header(schema.KeyFetch, 0, 3), &schema.FetchRequest{
		ReplicaID: -1,
		Topics: []schema.FetchTopic{{
			Topic:      "orders",
			Partitions: []schema.FetchPartition{{Partition: 1, FetchOffset: 99, PartitionMaxBytes: 1024}},
		}},
	})
	s = append(s, shrink(fetch, 6)...)
	s = append(s, rawMessage(t, header(schema.KeySaslHandshake, 0, 4), []byte{0xFF, 0xF0, 'x'})...)
	s = append(s, encodeMessage(t, header(schema.KeyMetadata, 9, 5), &schema.MetadataRequest{
		Topics:                 []schema.MetadataTopic{{Name: "a"}},
		AllowAutoTopicCreation: true,
	})...)
	sasl := encodeMessage(t, header(schema.KeySaslHandshake, 1, 6), &schema.SaslHandshakeRequest{Mechanism: "PLAIN"})
	padded := append(append([]byte(nil), sasl...), 0xAA, 0xBB, 0xCC)
	binary.BigEndian.PutUint32(padded, uint32(len(padded)-frame.LengthFieldSize))
	s = append(s, padded...)
	s = append(s, encodeMessage(t, header(schema.KeyAPIVersions, 0, 7), &schema.APIVersionsRequest{})...)
	return s
}

func TestScenarioAPIVersionsV1(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)
	in := []byte{0x00, 0x00, 0x00, 0x0F, 0x00, 0x12, 0x00, 0x01, 0x00, 0x00, 0x00, 0x2A, 0xFF, 0xFF, 0x00, 0x03, 0x66, 0x6F, 0x6F}

	n, err := d.Feed(in)
	require.NoError(t, err)
	require.Equal(t, len(in), n)
	require.Len(t, rec.events, 1)

	got := rec.events[0]
	require.False(t, got.Failed)
	require.Equal(t, frame.RawHeader{Length: 15, APIKey: 18, APIVersion: 1, CorrelationID: 42}, got.Header)
	require.Equal(t, &schema.APIVersionsRequest{ClientSoftwareName: "foo"}, got.Body)
	require.Equal(t, StateAwaitingHeader, d.State())
}

func TestFragmentationInvariance(t *testing.T) {
	testlog.Start(t)
	stream := mixedStream(t)

	whole, wholeRec := newTestDecoder(t)
	n, err := whole.Feed(stream)
	require.NoError(t, err)
	require.Equal(t, len(stream), n)
	require.Len(t, wholeRec.events, 7)

	bytewise, byteRec := newTestDecoder(t)
	for i := range stream {
		n, err := bytewise.Feed(stream[i : i+1])
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	require.Equal(t, wholeRec.events, byteRec.events)

	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		chunked, chunkRec := newTestDecoder(t)
		for off := 0; off < len(stream); {
			size := 1 + rng.IntN(40)
			end := min(off+size, len(stream))
			n, err := chunked.Feed(stream[off:end])
			require.NoError(t, err)
			require.Equal(t, end-off, n)
			off = end
		}
		require.Equal(t, wholeRec.events, chunkRec.events, "round %d", round)
	}
}

func TestMixedStreamOutcomes(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)
	_, err := d.Feed(mixedStream(t))
	require.NoError(t, err)

	var correlations []int32
	for _, e := range rec.events {
		correlations = append(correlations, e.Header.CorrelationID)
	}
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6, 7}, correlations)

	require.False(t, rec.events[0].Failed)
	require.IsType(t, &schema.ProduceRequest{}, rec.events[0].Body)

	require.True(t, rec.events[1].Failed)
	require.Equal(t, ReasonUnsupportedTypeOrVersion, rec.events[1].Reason)
	require.Equal(t, int(rec.events[1].Header.Length), len(rec.events[1].Raw))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, rec.events[1].Raw[rec.events[1].Header.Size():])

	require.True(t, rec.events[2].Failed)
	require.Equal(t, ReasonTruncatedPayload, rec.events[2].Reason)
	require.Equal(t, int(rec.events[2].Header.Length), len(rec.events[2].Raw))

	require.True(t, rec.events[3].Failed)
	require.Equal(t, ReasonMalformedValue, rec.events[3].Reason)

	require.Equal(t, &schema.MetadataRequest{
		Topics:                 []schema.MetadataTopic{{Name: "a"}},
		AllowAutoTopicCreation: true,
	}, rec.events[4].Body)
	require.Equal(t, &schema.SaslHandshakeRequest{Mechanism: "PLAIN"}, rec.events[5].Body)
	require.Equal(t, &schema.APIVersionsRequest{}, rec.events[6].Body)

	require.Equal(t, Stats{BytesConsumed: int64(len(mixedStream(t))), Messages: 4, Failures: 3}, d.Stats())
}

func TestFailureErrorsWrapCauses(t *testing.T) {
	testlog.Start(t)
	var failures []ParseFailure
	d := NewDecoder(schema.Default())
	d.AddListener(DispatcherFuncs{Failure: func(f ParseFailure) { failures = append(failures, f) }})
	_, err := d.Feed(mixedStream(t))
	require.NoError(t, err)
	require.Len(t, failures, 3)
	require.ErrorIs(t, failures[0].Err, schema.ErrUnsupported)
	require.ErrorIs(t, failures[1].Err, ErrTruncated)
	require.ErrorIs(t, failures[2].Err, wire.ErrMalformedValue)
}

func TestTrailingBytesBecomeNextHeader(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)
	msg := encodeMessage(t, header(schema.KeyAPIVersions, 1, 9), &schema.APIVersionsRequest{ClientSoftwareName: "x"})
	in := append(append([]byte(nil), msg...), 0x00, 0x00)

	n, err := d.Feed(in)
	require.NoError(t, err)
	require.Equal(t, len(in), n)
	require.Len(t, rec.events, 1)
	require.Equal(t, &schema.APIVersionsRequest{ClientSoftwareName: "x"}, rec.events[0].Body)
	require.Equal(t, StateAwaitingHeader, d.State())

	// The two retained bytes plus two more form a length of 9, which is
	// below the header minimum.
	n, err = d.Feed([]byte{0x00, 0x09})
	require.Equal(t, 2, n)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.Equal(t, int64(len(msg)+frame.LengthFieldSize), fatal.Offset)
}

func TestDisabledVersionIsCapturedRaw(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	d := NewDecoder(schema.NewRegistry(schema.Without(schema.Key{APIKey: schema.KeyAPIVersions, APIVersion: 2})))
	d.AddListener(rec)

	msg := encodeMessage(t, header(schema.KeyAPIVersions, 2, 1), &schema.APIVersionsRequest{
		ClientSoftwareName:    "a",
		ClientSoftwareVersion: "b",
	})
	_, err := d.Feed(msg)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	require.Equal(t, ReasonUnsupportedTypeOrVersion, rec.events[0].Reason)
	require.Equal(t, msg[frame.LengthFieldSize:], rec.events[0].Raw)
}

func TestEmptyBodyDispatchesWithoutMoreInput(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)
	msg := encodeMessage(t, frame.RawHeader{APIKey: schema.KeyAPIVersions, CorrelationID: 3}, &schema.APIVersionsRequest{})
	require.Len(t, msg, frame.LengthFieldSize+frame.MinHeaderSize)

	_, err := d.Feed(msg)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	require.Equal(t, int32(3), rec.events[0].Header.CorrelationID)
}

func TestFatalFraming(t *testing.T) {
	cases := []struct {
		name   string
		opts   []Option
		input  []byte
		target error
		offset int64
	}{
		{
			name:   "negative length",
			input:  []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00},
			target: frame.ErrInvalidLength,
			offset: 4,
		},
		{
			name:   "zero length",
			input:  []byte{0x00, 0x00, 0x00, 0x00},
			target: frame.ErrInvalidLength,
			offset: 4,
		},
		{
			name:   "over limit",
			opts:   []Option{WithLimits(frame.Limits{MaxMessageBytes: 64})},
			input:  []byte{0x00, 0x00, 0x00, 0x41, 0x00},
			target: frame.ErrMessageTooLarge,
			offset: 4,
		},
		{
			name: "header overruns length",
			// client id claims 10 bytes but the declared length leaves 2
			input:  []byte{0x00, 0x00, 0x00, 0x0C, 0x00, 0x12, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x0A, 'a', 'b', 'c'},
			target: frame.ErrHeaderOverrun,
			offset: 16,
		},
		{
			name:   "malformed client id length",
			input:  []byte{0x00, 0x00, 0x00, 0x0A, 0x00, 0x12, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xFF, 0xFE},
			target: wire.ErrMalformedValue,
			offset: 14,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			d, rec := newTestDecoder(t, tc.opts...)
			n, err := d.Feed(tc.input)
			require.ErrorIs(t, err, ErrDesynchronized)
			require.ErrorIs(t, err, tc.target)
			if tc.target == frame.ErrMessageTooLarge {
				require.ErrorIs(t, err, frame.ErrInvalidLength)
			}
			require.Equal(t, int(tc.offset), n)

			var fatal *FatalError
			require.True(t, errors.As(err, &fatal))
			require.Equal(t, tc.offset, fatal.Offset)
			require.Equal(t, StateDesynchronized, d.State())
			require.Empty(t, rec.events)

			n, again := d.Feed(encodeMessage(t, header(schema.KeyAPIVersions, 0, 1), &schema.APIVersionsRequest{}))
			require.Zero(t, n)
			require.Equal(t, err, again)
			require.Empty(t, rec.events)
		})
	}
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	var order []string
	d := NewDecoder(schema.Default())
	d.AddListener(DispatcherFuncs{Message: func(Message) { order = append(order, "first") }})
	d.AddListener(DispatcherFuncs{Message: func(Message) { order = append(order, "second") }})

	_, err := d.Feed(encodeMessage(t, header(schema.KeyAPIVersions, 0, 1), &schema.APIVersionsRequest{}))
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestReentrantFeedRejected(t *testing.T) {
	testlog.Start(t)
	var inner error
	d := NewDecoder(schema.Default())
	d.AddListener(DispatcherFuncs{Message: func(Message) {
		_, inner = d.Feed([]byte{0x00})
	}})

	msg := encodeMessage(t, header(schema.KeyAPIVersions, 0, 1), &schema.APIVersionsRequest{})
	n, err := d.Feed(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)
	require.ErrorIs(t, inner, ErrReentrantFeed)
	require.Equal(t, int64(len(msg)), d.Stats().BytesConsumed)
}

func TestFailureRawIsNotReused(t *testing.T) {
	testlog.Start(t)
	var raws [][]byte
	d := NewDecoder(schema.Default())
	d.AddListener(DispatcherFuncs{Failure: func(f ParseFailure) { raws = append(raws, f.Raw) }})

	first := rawMessage(t, header(999, 0, 1), []byte{1, 1, 1})
	second := rawMessage(t, header(998, 0, 2), []byte{2, 2, 2})
	_, err := d.Feed(append(append([]byte(nil), first...), second...))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	require.Equal(t, first[frame.LengthFieldSize:], raws[0])
	require.Equal(t, second[frame.LengthFieldSize:], raws[1])
}

func TestEmptyFeedIsNoop(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)
	n, err := d.Feed(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, rec.events)
	require.Equal(t, StateAwaitingHeader, d.State())
}

func TestUnorderedTaggedFieldsAreMalformed(t *testing.T) {
	testlog.Start(t)
	d, rec := newTestDecoder(t)

	e := wire.NewEncoder(true)
	e.ArrayLength(1)
	e.String("a")
	e.Raw([]byte{0x02, 0x05, 0x00, 0x01, 0x00}) // topic tags 5 then 1
	e.Bool(true)
	e.Bool(false)
	e.Bool(false)
	e.Uvarint(0)
	require.NoError(t, e.Err())

	var in []byte
	in = append(in, rawMessage(t, header(schema.KeyMetadata, 9, 1), e.Bytes())...)
	in = append(in, encodeMessage(t, header(schema.KeyAPIVersions, 0, 2), &schema.APIVersionsRequest{})...)

	n, err := d.Feed(in)
	require.NoError(t, err)
	require.Equal(t, len(in), n)
	require.Len(t, rec.events, 2)

	require.True(t, rec.events[0].Failed)
	require.Equal(t, ReasonMalformedValue, rec.events[0].Reason)
	require.Contains(t, rec.events[0].Err, "tag 1 after 5")
	require.Equal(t, int(rec.events[0].Header.Length), len(rec.events[0].Raw))

	require.False(t, rec.events[1].Failed)
	require.Equal(t, int32(2), rec.events[1].Header.CorrelationID)
}

func TestLengthPrefixErrorIsFatal(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDecoder(t)
	d.length = failingLength{}

	n, err := d.Feed([]byte{0x00, 0x01})
	require.ErrorIs(t, err, ErrDesynchronized)
	require.ErrorIs(t, err, wire.ErrMalformedValue)
	require.Equal(t, 1, n)
	require.Equal(t, StateDesynchronized, d.State())
}

// failingLength consumes one byte and reports it malformed.
type failingLength struct{}

func (failingLength) Feed(data []byte) (int, error) {
	return min(len(data), 1), wire.ErrMalformedValue
}

func (failingLength) Ready() bool { return false }

func (failingLength) Get() int32 { return 0 }
