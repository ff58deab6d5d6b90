package control

import (
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// fakeStream adapts a net.Conn (from net.Pipe) to webtransport.Stream for
// tests that don't need a real QUIC connection.
type fakeStream struct {
	net.Conn
}

func (fakeStream) StreamID() quic.StreamID                 { return 0 }
func (fakeStream) CancelRead(webtransport.StreamErrorCode)  {}
func (fakeStream) CancelWrite(webtransport.StreamErrorCode) {}

func newFramerPair() (*Framer, *Framer, func()) {
	a, b := net.Pipe()
	fa := NewFramer(fakeStream{a}, DefaultMessageDeadline)
	fb := NewFramer(fakeStream{b}, DefaultMessageDeadline)
	return fa, fb, func() { a.Close(); b.Close() }
}

func TestFramerRoundTrip(t *testing.T) {
	t.Parallel()
	client, server, closeAll := newFramerPair()
	defer closeAll()

	msg := moq.ClientSetup{Versions: []uint64{moq.DRAFT_11}, Path: "/moq", HasPath: true}
	done := make(chan error, 1)
	go func() { done <- client.Send(msg) }()

	got, err := server.NextMessage()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, msg, got)
}

func TestFramerPartialMessageTimeout(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := NewFramer(fakeStream{b}, 50*time.Millisecond)

	// Write only the type tag of an Announce-family message, never the
	// length/payload, mirroring testable scenario 6 in SPEC_FULL.md §8.
	go func() {
		buf := moq.AppendVarInt(nil, moq.MsgPublishNamespace)
		_, _ = a.Write(buf)
	}()

	_, err := server.NextMessage()
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.ErrorAs(t, err, &termErr)
	require.Equal(t, moq.ControlMessageTimeout, termErr.Code)
}

func TestFramerCleanEOFIsInternalError(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	server := NewFramer(fakeStream{b}, DefaultMessageDeadline)
	require.NoError(t, a.Close())

	_, err := server.NextMessage()
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.ErrorAs(t, err, &termErr)
	require.Equal(t, moq.InternalError, termErr.Code)
}
