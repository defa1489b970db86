package wire

import "errors"

var (
	// ErrInsufficientData means more bytes are needed. It never leaves the stream decoder.
	ErrInsufficientData = errors.New("wire: insufficient data")
	ErrMalformedValue   = errors.New("wire: malformed value")
	ErrValueTooLarge    = errors.New("wire: value too large")
)
