// Package moq implements the wire-level Media-over-QUIC Transport protocol
// (draft-11): the variable-length integer and tuple primitives, the control
// message catalogue, and the data-stream header/object framings used by both
// endpoints and the relay.
//
// This package contains no session or relay logic; those higher-level
// concerns live in [github.com/streaming-university/moqrelay/internal/relay].
package moq
