// Package wire owns the primitive encodings of the RPC wire format.
//
// Ownership boundary:
// - bounds-checked cursor over caller-owned bytes
// - resumable deserializers (feed/ready/get) for primitives and composites
// - the symmetric append-only encoder
//
// Deserializers never retain a view of the slice passed to Feed past the
// call; partial values are copied into deserializer-owned state.
package wire
