package frame

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/kproxy/internal/protocol/wire"
)

const (
	LengthFieldSize = 4
	// MinHeaderSize is the smallest header after the length prefix: api key,
	// api version, correlation id and a null client id.
	MinHeaderSize = 2 + 2 + 4 + 2
)

var (
	ErrInvalidLength   = errors.New("frame: declared length out of bounds")
	ErrHeaderOverrun   = errors.New("frame: header exceeds declared length")
	ErrMessageTooLarge = errors.New("frame: message too large")
)

// RawHeader is the request header. Length counts every byte after the
// length prefix, header fields included.
type RawHeader struct {
	Length        int32
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	ClientID      *string
}

// Size is the encoded size of the header fields that follow the length prefix.
func (h RawHeader) Size() int {
	n := MinHeaderSize
	if h.ClientID != nil {
		n += len(*h.ClientID)
	}
	return n
}

func (h RawHeader) BodyLength() int {
	return int(h.Length) - h.Size()
}

// Limits constrains decode/encode memory use.
type Limits struct {
	MaxMessageBytes int32
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 8 * 1024 * 1024}
}

// Check rejects declared lengths that cannot hold a header or exceed the
// limit. Every rejection wraps ErrInvalidLength; oversize also wraps
// ErrMessageTooLarge.
func (l Limits) Check(length int32) error {
	switch {
	case length < MinHeaderSize:
		return fmt.Errorf("%w: %d", ErrInvalidLength, length)
	case length > l.MaxMessageBytes:
		return fmt.Errorf("%w: %w: %d (max %d)", ErrInvalidLength, ErrMessageTooLarge, length, l.MaxMessageBytes)
	}
	return nil
}

// NewHeaderDeserializer decodes the header fields after the length prefix.
// Length is left for the caller to fill in.
func NewHeaderDeserializer() wire.Deserializer[RawHeader] {
	apiKey := wire.NewInt16()
	apiVersion := wire.NewInt16()
	correlationID := wire.NewInt32()
	clientID := wire.NewNullableString()
	return wire.Struct(func() RawHeader {
		return RawHeader{
			APIKey:        apiKey.Get(),
			APIVersion:    apiVersion.Get(),
			CorrelationID: correlationID.Get(),
			ClientID:      clientID.Get(),
		}
	}, apiKey, apiVersion, correlationID, clientID)
}

// EncodeHeader writes the header fields after the length prefix. The
// header never uses the compact layout, even for flexible bodies.
func EncodeHeader(h RawHeader) ([]byte, error) {
	e := wire.NewEncoder(false)
	e.Int16(h.APIKey)
	e.Int16(h.APIVersion)
	e.Int32(h.CorrelationID)
	e.NullableString(h.ClientID)
	return e.Bytes(), e.Err()
}

// WriteMessage writes a complete message to buf, computing the length
// prefix, and returns the number of bytes written. h.Length is ignored.
func WriteMessage(buf *bytes.Buffer, h RawHeader, body []byte, limits Limits) (int, error) {
	head, err := EncodeHeader(h)
	if err != nil {
		return 0, err
	}
	length := int64(len(head)) + int64(len(body))
	if length > int64(limits.MaxMessageBytes) {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrMessageTooLarge, length, limits.MaxMessageBytes)
	}
	prefix := wire.NewEncoder(false)
	prefix.Int32(int32(length))
	buf.Grow(LengthFieldSize + int(length))
	buf.Write(prefix.Bytes())
	buf.Write(head)
	buf.Write(body)
	return LengthFieldSize + int(length), nil
}
