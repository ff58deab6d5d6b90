package track

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

type fakeSendStream struct{ net.Conn }

func (fakeSendStream) StreamID() quic.StreamID                 { return 0 }
func (fakeSendStream) CancelWrite(webtransport.StreamErrorCode) {}

// fakeOpener hands out net.Pipe-backed streams, recording each pair so a
// test can read from the subscriber side and count how many streams were
// opened.
type fakeOpener struct {
	mu    chan struct{}
	peers []net.Conn
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{mu: make(chan struct{}, 1)}
}

func (o *fakeOpener) OpenUniStreamSync(ctx context.Context) (webtransport.SendStream, error) {
	a, b := net.Pipe()
	o.peers = append(o.peers, b)
	return fakeSendStream{a}, nil
}

func subgroupHeader(alias, group, subgroup uint64) datastream.Header {
	return datastream.Header{
		Kind: datastream.KindSubgroup,
		Subgroup: moq.SubgroupHeader{
			TrackAlias: alias,
			GroupID:    group,
			Mode:       moq.SubgroupExplicit,
			SubgroupID: subgroup,
			Priority:   128,
		},
	}
}

func TestSubscriptionForwardsHeaderObjectAndClose(t *testing.T) {
	t.Parallel()
	tr := New(FullTrackName{Name: "a"}, 1, 0, nil)
	streams := NewStreamMap()
	opener := newFakeOpener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := tr.AddSubscription(ctx, "conn-1", opener, streams, nil)

	id := cache.SubgroupHeaderID(1, 3, 0)
	header := subgroupHeader(1, 3, 0)
	tr.PublishHeader(id, header)

	// Give the subscription goroutine a chance to open its stream, then
	// drain the header frame the opened stream writes on the wire.
	require.Eventually(t, func() bool {
		_, ok := streams.Get(id)
		return ok
	}, time.Second, time.Millisecond)
	require.Len(t, opener.peers, 1)

	rds := datastream.NewRecvDataStream(opener.peers[0], nil, time.Second)
	ev, err := rds.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, datastream.EventHeader, ev.Kind)
	require.Equal(t, header.Subgroup, ev.Header.Subgroup)

	obj := moq.Object{Location: moq.Location{Group: 3, Object: 0}, Status: moq.StatusNormal, Payload: []byte("hi")}
	tr.PublishObject(id, obj)

	ev, err = rds.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, datastream.EventObject, ev.Kind)
	require.Equal(t, []byte("hi"), ev.Object.Payload)

	largest, ok := tr.LargestLocation()
	require.True(t, ok)
	require.Equal(t, obj.Location, largest)

	tr.PublishStreamClosed(id)
	ev, err = rds.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, datastream.EventClosed, ev.Kind)

	_, ok = streams.Get(id)
	require.False(t, ok)

	sub.Finish()
}

func TestBroadcastDropsOnFullSubscriberChannel(t *testing.T) {
	t.Parallel()
	tr := New(FullTrackName{Name: "a"}, 1, 0, nil)

	// A subscription with no running goroutine never drains events, so the
	// channel fills and broadcast must not block.
	sub := &Subscription{events: make(chan Event, 2), done: make(chan struct{})}
	tr.mu.Lock()
	tr.subs["conn-1"] = sub
	tr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < broadcastCapacity+10; i++ {
			tr.PublishObject(cache.SubgroupHeaderID(1, 0, 0), moq.Object{})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber channel")
	}
	require.Len(t, sub.events, 2)
}

func TestRemoveSubscriptionOnlyClosesItsOwnStreams(t *testing.T) {
	t.Parallel()
	tr := New(FullTrackName{Name: "a"}, 1, 0, nil)
	streams := NewStreamMap()
	openerA := newFakeOpener()
	openerB := newFakeOpener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA := tr.AddSubscription(ctx, "conn-a", openerA, streams, nil)
	_ = tr.AddSubscription(ctx, "conn-b", openerB, streams, nil)

	idA := cache.SubgroupHeaderID(1, 0, 0)
	idB := cache.SubgroupHeaderID(1, 1, 0)

	tr.PublishHeader(idA, subgroupHeader(1, 0, 0))
	tr.PublishHeader(idB, subgroupHeader(1, 1, 0))

	require.Eventually(t, func() bool {
		_, okA := streams.Get(idA)
		_, okB := streams.Get(idB)
		return okA && okB
	}, time.Second, time.Millisecond)

	_ = subA
	tr.RemoveSubscription("conn-a")

	require.Eventually(t, func() bool {
		_, okA := streams.Get(idA)
		return !okA
	}, time.Second, time.Millisecond)

	_, okB := streams.Get(idB)
	require.True(t, okB, "conn-b's stream must survive conn-a's removal on the shared StreamMap")

	tr.RemoveSubscription("conn-b")
}
