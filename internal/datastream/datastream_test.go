package datastream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

type fakeSendStream struct{ net.Conn }

func (fakeSendStream) StreamID() quic.StreamID                 { return 0 }
func (fakeSendStream) CancelWrite(webtransport.StreamErrorCode) {}

type fakeReceiveStream struct{ net.Conn }

func (fakeReceiveStream) StreamID() quic.StreamID                { return 0 }
func (fakeReceiveStream) CancelRead(webtransport.StreamErrorCode) {}

func newPipe() (webtransport.SendStream, webtransport.ReceiveStream, func()) {
	a, b := net.Pipe()
	return fakeSendStream{a}, fakeReceiveStream{b}, func() { a.Close(); b.Close() }
}

func TestSubgroupStreamRoundTrip(t *testing.T) {
	t.Parallel()
	send, recv, closeAll := newPipe()
	defer closeAll()

	header := moq.SubgroupHeader{TrackAlias: 7, GroupID: 3, Mode: moq.SubgroupExplicit, SubgroupID: 1, Priority: 128}
	sds := NewSendDataStream(send, header)

	objs := []moq.Object{
		{Location: moq.Location{Group: 3, Object: 5}, Status: moq.StatusNormal, Payload: []byte("aaaaa")},
		{Location: moq.Location{Group: 3, Object: 9}, Status: moq.StatusNormal, Payload: []byte("bbbb")},
		{Location: moq.Location{Group: 3, Object: 10}, Status: moq.StatusNormal, Payload: []byte("c")},
	}

	done := make(chan error, 1)
	go func() {
		for _, o := range objs {
			if err := sds.SendObject(o); err != nil {
				done <- err
				return
			}
		}
		done <- sds.Finish()
	}()

	rds := NewRecvDataStream(recv, nil, time.Second)
	ctx := context.Background()

	ev, err := rds.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, EventHeader, ev.Kind)
	require.Equal(t, header, ev.Header.Subgroup)

	var gotIDs []uint64
	var gotPayloads [][]byte
	for {
		ev, err := rds.Next(ctx)
		require.NoError(t, err)
		if ev.Kind == EventClosed {
			break
		}
		require.Equal(t, EventObject, ev.Kind)
		gotIDs = append(gotIDs, ev.ObjectID)
		gotPayloads = append(gotPayloads, ev.Object.Payload)
	}

	require.NoError(t, <-done)
	require.Equal(t, []uint64{5, 9, 10}, gotIDs)
	require.Equal(t, [][]byte{[]byte("aaaaa"), []byte("bbbb"), []byte("c")}, gotPayloads)
}

func TestFetchStreamRejectsUnknownRequestID(t *testing.T) {
	t.Parallel()
	send, recv, closeAll := newPipe()
	defer closeAll()

	sds := NewFetchSendDataStream(send, moq.FetchHeader{RequestID: 42})
	go func() {
		_ = sds.SendObject(moq.Object{Location: moq.Location{Group: 0, Object: 0}, Status: moq.StatusNormal, Payload: []byte("x")})
	}()

	rds := NewRecvDataStream(recv, func(requestID uint64) bool { return false }, time.Second)
	_, err := rds.Next(context.Background())
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.ErrorAs(t, err, &termErr)
	require.Equal(t, moq.ProtocolViolation, termErr.Code)
}

func TestDataStreamStallTimesOut(t *testing.T) {
	t.Parallel()
	send, recv, closeAll := newPipe()
	defer closeAll()

	// Write only the type byte of a fixed-zero subgroup header; never
	// complete it, mirroring the truncated-frame robustness property in
	// SPEC_FULL.md §8.
	go func() {
		buf := moq.AppendVarInt(nil, moq.TypeSubgroupFixedZero)
		_, _ = send.Write(buf)
	}()

	rds := NewRecvDataStream(recv, nil, 50*time.Millisecond)
	_, err := rds.Next(context.Background())
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.ErrorAs(t, err, &termErr)
	require.Equal(t, moq.DataStreamTimeout, termErr.Code)
}
