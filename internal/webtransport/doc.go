// Package webtransport provides a WebTransport server built on top of
// quic-go's HTTP/3 implementation. It recognizes the Extended CONNECT
// upgrade (RFC 9220), hijacks the underlying QUIC connection and HTTP/3
// control stream, and exposes bidirectional/unidirectional stream and
// session lifecycle primitives to callers, without depending on a
// standalone WebTransport library.
package webtransport
