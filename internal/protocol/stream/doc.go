// Package stream owns the per-connection request decoder.
//
// Ownership boundary:
// - header/body framing over arbitrarily fragmented input
// - registry dispatch and raw capture of unsupported bodies
// - synchronous delivery of messages and parse failures to listeners
//
// A Decoder is owned by exactly one connection and is not safe for
// concurrent use. It performs no I/O.
package stream
