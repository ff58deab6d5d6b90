package webtransport

import (
	"time"

	"github.com/quic-go/quic-go"
)

// quicStream wraps a quic.Stream to satisfy Stream, translating
// WebTransport-scoped error codes to QUIC application error codes.
type quicStream struct {
	quic.Stream
}

func wrapStream(s quic.Stream) Stream {
	return quicStream{s}
}

func (s quicStream) CancelRead(code StreamErrorCode) {
	s.Stream.CancelRead(quic.StreamErrorCode(code))
}

func (s quicStream) CancelWrite(code StreamErrorCode) {
	s.Stream.CancelWrite(quic.StreamErrorCode(code))
}

func (s quicStream) SetReadDeadline(t time.Time) error {
	return s.Stream.SetReadDeadline(t)
}

func (s quicStream) SetWriteDeadline(t time.Time) error {
	return s.Stream.SetWriteDeadline(t)
}

type quicSendStream struct {
	quic.SendStream
}

func wrapSendStream(s quic.SendStream) SendStream {
	return quicSendStream{s}
}

func (s quicSendStream) CancelWrite(code StreamErrorCode) {
	s.SendStream.CancelWrite(quic.StreamErrorCode(code))
}

func (s quicSendStream) SetWriteDeadline(t time.Time) error {
	return s.SendStream.SetWriteDeadline(t)
}

type quicReceiveStream struct {
	quic.ReceiveStream
}

func wrapReceiveStream(s quic.ReceiveStream) ReceiveStream {
	return quicReceiveStream{s}
}

func (s quicReceiveStream) CancelRead(code StreamErrorCode) {
	s.ReceiveStream.CancelRead(quic.StreamErrorCode(code))
}

func (s quicReceiveStream) SetReadDeadline(t time.Time) error {
	return s.ReceiveStream.SetReadDeadline(t)
}
