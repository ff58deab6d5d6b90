package control

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// DefaultMessageDeadline bounds how long a partially-received control
// message may sit in the read buffer before the stream is torn down.
const DefaultMessageDeadline = 5 * time.Second

// Framer turns a raw bidirectional WebTransport stream into a
// send(ControlMessage)/NextMessage() pair. Send is safe for concurrent use;
// NextMessage is not, since the control stream has a single reader.
type Framer struct {
	stream   webtransport.Stream
	br       *bufio.Reader
	deadline time.Duration

	writeMu sync.Mutex
}

// NewFramer wraps stream. A zero deadline selects DefaultMessageDeadline.
func NewFramer(stream webtransport.Stream, deadline time.Duration) *Framer {
	if deadline <= 0 {
		deadline = DefaultMessageDeadline
	}
	return &Framer{stream: stream, br: bufio.NewReader(stream), deadline: deadline}
}

// Send serializes and writes msg as a single framed message. A write
// failure is reported as InternalError, per §4.3.
func (f *Framer) Send(msg moq.ControlMessage) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := moq.Send(f.stream, msg); err != nil {
		return moq.Terminate(moq.InternalError, err.Error())
	}
	return nil
}

// NextMessage reads and decodes the next control message. The
// partial-message deadline only applies once the first byte of a new
// message has arrived; waiting indefinitely for the *start* of a message
// is not a timeout.
func (f *Framer) NextMessage() (moq.ControlMessage, error) {
	first, err := f.br.ReadByte()
	if err != nil {
		return nil, classifyFramingErr(err)
	}
	if err := f.br.UnreadByte(); err != nil {
		return nil, moq.Terminate(moq.InternalError, err.Error())
	}
	_ = first

	if f.deadline > 0 {
		_ = f.stream.SetReadDeadline(time.Now().Add(f.deadline))
		defer f.stream.SetReadDeadline(time.Time{})
	}

	msgType, payload, err := moq.ReadControlMsg(f.br)
	if err != nil {
		return nil, classifyFramingErr(err)
	}

	msg, err := moq.Decode(msgType, payload)
	if err != nil {
		return nil, moq.Terminate(moq.ProtocolViolation, err.Error())
	}
	return msg, nil
}

// classifyFramingErr maps a read failure to the termination code the
// state machine in §4.3 assigns it: a deadline expiry is
// ControlMessageTimeout, a clean EOF is InternalError (the stream closed
// mid-protocol), and anything else is a ProtocolViolation.
func classifyFramingErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return moq.Terminate(moq.ControlMessageTimeout, "partial control message")
	}
	if errors.Is(err, io.EOF) {
		return moq.Terminate(moq.InternalError, "stream closed mid-protocol")
	}
	return moq.Terminate(moq.ProtocolViolation, err.Error())
}
