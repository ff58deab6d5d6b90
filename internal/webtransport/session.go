package webtransport

import (
	"context"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Stream is a bidirectional WebTransport stream: a QUIC stream whose
// lifetime is scoped to the session.
type Stream interface {
	StreamID() quic.StreamID
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	CancelRead(StreamErrorCode)
	CancelWrite(StreamErrorCode)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// SendStream is a unidirectional, write-only WebTransport stream.
type SendStream interface {
	StreamID() quic.StreamID
	Write(p []byte) (int, error)
	Close() error
	CancelWrite(StreamErrorCode)
	SetWriteDeadline(t time.Time) error
}

// ReceiveStream is a unidirectional, read-only WebTransport stream.
type ReceiveStream interface {
	StreamID() quic.StreamID
	Read(p []byte) (int, error)
	CancelRead(StreamErrorCode)
	SetReadDeadline(t time.Time) error
}

// Session represents one established WebTransport session, multiplexed
// over the QUIC connection carrying the HTTP/3 request that created it.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   quic.Connection
	stream http3.Stream
}

func newSession(ctx context.Context, conn quic.Connection, controlStream http3.Stream) *Session {
	sessCtx, cancel := context.WithCancel(ctx)
	return &Session{ctx: sessCtx, cancel: cancel, conn: conn, stream: controlStream}
}

// Context is cancelled when the session closes, for any reason.
func (s *Session) Context() context.Context {
	return s.ctx
}

// AcceptStream waits for the peer to open a bidirectional stream.
func (s *Session) AcceptStream(ctx context.Context) (Stream, error) {
	str, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return wrapStream(str), nil
}

// AcceptUniStream waits for the peer to open a unidirectional stream.
func (s *Session) AcceptUniStream(ctx context.Context) (ReceiveStream, error) {
	str, err := s.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return wrapReceiveStream(str), nil
}

// OpenStream opens a bidirectional stream without blocking for flow-control
// credit.
func (s *Session) OpenStream() (Stream, error) {
	str, err := s.conn.OpenStream()
	if err != nil {
		return nil, err
	}
	return wrapStream(str), nil
}

// OpenUniStreamSync opens a unidirectional stream, blocking until flow
// control admits it or ctx is cancelled.
func (s *Session) OpenUniStreamSync(ctx context.Context) (SendStream, error) {
	str, err := s.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return wrapSendStream(str), nil
}

// CloseWithError terminates the session and the underlying connection,
// delivering code and msg to the peer.
func (s *Session) CloseWithError(code SessionErrorCode, msg string) error {
	defer s.cancel()
	return s.conn.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

// SendDatagram sends b as a single unreliable, unordered QUIC datagram.
func (s *Session) SendDatagram(b []byte) error {
	return s.conn.SendDatagram(b)
}

// ReceiveDatagram waits for the peer's next datagram.
func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.conn.ReceiveDatagram(ctx)
}
