package datastream

import (
	"sync"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// SendDataStream writes one subgroup or fetch data stream: the header
// exactly once, then a sequence of objects. Subgroup object ids are
// delta-coded against the previous object on the same stream, per §8's
// worked example.
type SendDataStream struct {
	stream webtransport.SendStream
	header Header

	writeMu     sync.Mutex
	wroteHeader bool
	previousID  uint64
	haveFirst   bool
}

// NewSendDataStream starts a subgroup data stream over stream.
func NewSendDataStream(stream webtransport.SendStream, header moq.SubgroupHeader) *SendDataStream {
	return &SendDataStream{stream: stream, header: Header{Kind: KindSubgroup, Subgroup: header}}
}

// NewFetchSendDataStream starts a fetch data stream over stream.
func NewFetchSendDataStream(stream webtransport.SendStream, header moq.FetchHeader) *SendDataStream {
	return &SendDataStream{stream: stream, header: Header{Kind: KindFetch, Fetch: header}}
}

// SendObject serializes and writes obj. For a subgroup stream, obj's
// Location.Object is the absolute object id, delta-coded against the
// previous object written on this stream; for a fetch stream, obj's full
// Location and Priority are carried explicitly. The header is prepended to
// the wire write on the first call and sent atomically with it.
func (s *SendDataStream) SendObject(obj moq.Object) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var buf []byte
	if !s.wroteHeader {
		switch s.header.Kind {
		case KindSubgroup:
			buf = s.header.Subgroup.Encode()
		case KindFetch:
			buf = s.header.Fetch.Encode()
		}
		s.wroteHeader = true
	}

	switch s.header.Kind {
	case KindSubgroup:
		id := obj.Location.Object
		delta := moq.NextSubgroupObjectIDDelta(id, s.previousID, !s.haveFirst)
		buf = append(buf, moq.EncodeSubgroupObject(delta, obj.HasExtensions, obj.Extensions, obj.Status, obj.Payload)...)
		s.previousID = id
		s.haveFirst = true
	case KindFetch:
		buf = append(buf, moq.EncodeFetchObject(obj.Location, obj.Priority, obj.HasExtensions, obj.Extensions, obj.Status, obj.Payload)...)
	}

	_, err := s.stream.Write(buf)
	if err != nil {
		return moq.Terminate(moq.InternalError, err.Error())
	}
	return nil
}

// Finish closes the stream cleanly. Objects already written remain valid
// for the peer regardless of when Finish is called.
func (s *SendDataStream) Finish() error {
	return s.stream.Close()
}
