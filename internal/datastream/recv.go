package datastream

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// DefaultReadTimeout bounds how long a data stream may go without
// delivering a further byte before it is considered stalled (§4.4).
const DefaultReadTimeout = 15 * time.Second

// readChunkSize is how much is read off the wire per fill, independent of
// any single frame's size.
const readChunkSize = 4096

// EventKind discriminates the values RecvDataStream.Next can yield.
type EventKind int

const (
	EventHeader EventKind = iota
	EventObject
	EventClosed
)

// Event is one unit yielded by RecvDataStream.Next: the header exactly
// once, then each object in arrival order, then a terminal EventClosed.
type Event struct {
	Kind     EventKind
	Header   Header
	ObjectID uint64 // absolute object id; meaningful for EventObject
	Object   moq.Object
}

// RecvDataStream incrementally parses a single subgroup or fetch data
// stream. It is a single-consumer type: callers must serialize calls to
// Next.
type RecvDataStream struct {
	stream       webtransport.ReceiveStream
	pendingFetch PendingFetchLookup
	readTimeout  time.Duration

	buf        []byte
	header     Header
	headerDone bool
	previousID uint64
	firstID    uint64
	haveFirst  bool
	closed     bool
}

// NewRecvDataStream wraps stream. pendingFetch may be nil if the caller
// never accepts fetch streams (e.g. a pure publisher connection). A
// non-positive readTimeout selects DefaultReadTimeout.
func NewRecvDataStream(stream webtransport.ReceiveStream, pendingFetch PendingFetchLookup, readTimeout time.Duration) *RecvDataStream {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &RecvDataStream{stream: stream, pendingFetch: pendingFetch, readTimeout: readTimeout}
}

// Next returns the stream's header on the first call, then each object in
// order, then a terminal EventClosed event. After EventClosed, or after any
// error, Next must not be called again. A malformed frame closes the
// stream's usefulness immediately, but objects already yielded remain
// valid.
func (r *RecvDataStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if r.closed {
		return Event{Kind: EventClosed}, nil
	}

	if !r.headerDone {
		hdr, err := r.parseHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.closed = true
				return Event{Kind: EventClosed}, nil
			}
			return Event{}, err
		}
		r.headerDone = true
		r.header = hdr
		return Event{Kind: EventHeader, Header: hdr}, nil
	}

	id, obj, err := r.parseObject()
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.closed = true
			return Event{Kind: EventClosed}, nil
		}
		return Event{}, err
	}
	return Event{Kind: EventObject, Header: r.header, ObjectID: id, Object: obj}, nil
}

// parseHeader retries a Cursor parse over the accumulated buffer, pulling
// more bytes off the wire each time the buffer doesn't yet hold a complete
// header.
func (r *RecvDataStream) parseHeader() (Header, error) {
	for {
		c := moq.NewCursor(r.buf)
		typ, err := c.ReadVarInt()
		if err == nil {
			if typ == moq.TypeFetchHeader {
				fh, ferr := moq.ParseFetchHeader(c)
				if ferr == nil {
					if r.pendingFetch != nil && !r.pendingFetch(fh.RequestID) {
						return Header{}, moq.Terminate(moq.ProtocolViolation, "fetch stream for unknown request id")
					}
					r.consume(c)
					return Header{Kind: KindFetch, Fetch: fh}, nil
				}
				err = ferr
			} else {
				sh, serr := moq.ParseSubgroupHeader(c, typ)
				if serr == nil {
					r.consume(c)
					return Header{Kind: KindSubgroup, Subgroup: sh}, nil
				}
				err = serr
			}
		}
		if !errors.Is(err, moq.ErrNotEnoughBytes) {
			return Header{}, moq.Terminate(moq.ProtocolViolation, err.Error())
		}
		if ferr := r.fill(); ferr != nil {
			if errors.Is(ferr, io.EOF) && len(r.buf) > 0 {
				return Header{}, moq.Terminate(moq.ProtocolViolation, "truncated data stream header")
			}
			return Header{}, ferr
		}
	}
}

// parseObject retries a Cursor parse for one object in the stream's
// established framing (subgroup delta-coded, or fetch absolute).
func (r *RecvDataStream) parseObject() (uint64, moq.Object, error) {
	for {
		c := moq.NewCursor(r.buf)
		var (
			id  uint64
			obj moq.Object
			err error
		)
		switch r.header.Kind {
		case KindFetch:
			obj, err = moq.ParseFetchObject(c)
			id = obj.Location.Object
		default:
			isFirst := !r.haveFirst
			id, obj, err = moq.ParseSubgroupObject(c, r.header.Subgroup.HasExt, r.previousID, isFirst)
			if err == nil {
				if isFirst {
					r.firstID = id
				}
				obj.TrackAlias = r.header.Subgroup.TrackAlias
				obj.Location = moq.Location{Group: r.header.Subgroup.GroupID, Object: id}
				obj.Priority = r.header.Subgroup.Priority
				obj.Forwarding = moq.ForwardSubgroup
				obj.HasSubgroup = true
				obj.SubgroupID = r.header.Subgroup.ResolvedSubgroupID(r.firstID)
			}
		}
		if err == nil {
			r.consume(c)
			r.previousID = id
			r.haveFirst = true
			return id, obj, nil
		}
		if !errors.Is(err, moq.ErrNotEnoughBytes) {
			return 0, moq.Object{}, moq.Terminate(moq.ProtocolViolation, err.Error())
		}
		if ferr := r.fill(); ferr != nil {
			if errors.Is(ferr, io.EOF) {
				if len(r.buf) == 0 {
					return 0, moq.Object{}, io.EOF
				}
				return 0, moq.Object{}, moq.Terminate(moq.ProtocolViolation, "truncated data stream object")
			}
			return 0, moq.Object{}, ferr
		}
	}
}

// consume drops the bytes c has read from the front of the buffer, keeping
// only the unread tail for the next parse attempt.
func (r *RecvDataStream) consume(c *moq.Cursor) {
	r.buf = append([]byte(nil), c.Remaining()...)
}

// fill blocks for up to readTimeout waiting for more bytes, appending
// whatever arrives to buf. A clean EOF is returned as io.EOF; a deadline
// expiry becomes a DataStreamTimeout termination.
func (r *RecvDataStream) fill() error {
	if err := r.stream.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
		return moq.Terminate(moq.InternalError, err.Error())
	}
	defer r.stream.SetReadDeadline(time.Time{})

	chunk := make([]byte, readChunkSize)
	n, err := r.stream.Read(chunk)
	if n > 0 {
		r.buf = append(r.buf, chunk[:n]...)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return moq.Terminate(moq.DataStreamTimeout, "data stream stalled")
		}
		return moq.Terminate(moq.ProtocolViolation, err.Error())
	}
	return nil
}
