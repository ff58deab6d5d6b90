package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/control"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// fakeControlStream satisfies webtransport.Stream over a net.Pipe half, the
// same pattern the track package's tests use for its send-stream fakes.
type fakeControlStream struct{ net.Conn }

func (fakeControlStream) StreamID() quic.StreamID                { return 0 }
func (fakeControlStream) CancelRead(webtransport.StreamErrorCode)  {}
func (fakeControlStream) CancelWrite(webtransport.StreamErrorCode) {}

func newFramerPair() (*control.Framer, *control.Framer) {
	a, b := net.Pipe()
	return control.NewFramer(fakeControlStream{a}, time.Second), control.NewFramer(fakeControlStream{b}, time.Second)
}

func newTestClient(t *testing.T, connID string) *registry.Client {
	t.Helper()
	framer, peer := newFramerPair()
	t.Cleanup(func() { _ = peer })
	return registry.NewClient(connID, nil, framer, DefaultMaxRequestID, nil)
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}.withDefaults()
	require.Equal(t, uint64(DefaultMaxRequestID), cfg.MaxRequestID)
	require.Equal(t, DefaultSetupDeadline, cfg.SetupDeadline)
	require.Equal(t, DefaultRequestRate, cfg.RequestRate)
	require.Equal(t, DefaultRequestBurst, cfg.RequestBurst)
}

func TestHandshakeNegotiatesVersionAndRepliesServerSetup(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)

	clientSide, relaySide := newFramerPair()
	go func() { _ = clientSide.Send(moq.ClientSetup{Versions: []uint64{moq.DRAFT_11}}) }()

	client, err := r.handshake(context.Background(), "conn-1", nil, relaySide)
	require.NoError(t, err)
	require.Equal(t, "conn-1", client.ConnectionID)

	reply, err := clientSide.NextMessage()
	require.NoError(t, err)
	setup, ok := reply.(moq.ServerSetup)
	require.True(t, ok)
	require.Equal(t, moq.DRAFT_11, setup.SelectedVersion)
}

func TestHandshakeRejectsUnsupportedVersion(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)

	clientSide, relaySide := newFramerPair()
	go func() { _ = clientSide.Send(moq.ClientSetup{Versions: []uint64{0x1}}) }()

	_, err := r.handshake(context.Background(), "conn-1", nil, relaySide)
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.True(t, asTerminationError(err, &termErr))
	require.Equal(t, moq.VersionNegotiationFailed, termErr.Code)
}

func TestHandshakeTimesOutWithoutClientSetup(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{SetupDeadline: 20 * time.Millisecond}, nil)

	_, relaySide := newFramerPair()
	_, err := r.handshake(context.Background(), "conn-1", nil, relaySide)
	require.Error(t, err)
	var termErr *moq.TerminationError
	require.True(t, asTerminationError(err, &termErr))
	require.Equal(t, moq.ControlMessageTimeout, termErr.Code)
}

func drainOutbound(t *testing.T, client *registry.Client) moq.ControlMessage {
	t.Helper()
	select {
	case msg := <-client.Outbound():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func TestDispatchPublishNamespaceReplies(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)
	client := newTestClient(t, "conn-1")

	err := r.dispatch(context.Background(), client, moq.PublishNamespace{RequestID: 1, Namespace: moq.Tuple{"a"}})
	require.NoError(t, err)

	reply := drainOutbound(t, client)
	nsOK, ok := reply.(moq.PublishNamespaceOK)
	require.True(t, ok)
	require.Equal(t, uint64(1), nsOK.RequestID)
	require.True(t, client.ServesNamespace(moq.Tuple{"a"}))
}

func TestDispatchSubscribeTrackDoesNotExist(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)
	client := newTestClient(t, "conn-1")
	r.Registry.Add(client)

	err := r.dispatch(context.Background(), client, moq.Subscribe{
		RequestID: 1, Namespace: moq.Tuple{"missing"}, TrackName: "x",
	})
	require.NoError(t, err)

	reply := drainOutbound(t, client)
	subErr, ok := reply.(moq.SubscribeError)
	require.True(t, ok)
	require.Equal(t, moq.ErrCodeTrackDoesNotExist, subErr.ErrorCode)
}

func TestDispatchSubscribeForwardsAndRewritesRequestID(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)

	subscriber := newTestClient(t, "subscriber")
	publisher := newTestClient(t, "publisher")
	publisher.AnnounceNamespace(moq.Tuple{"live"})
	r.Registry.Add(subscriber)
	r.Registry.Add(publisher)

	err := r.dispatch(context.Background(), subscriber, moq.Subscribe{
		RequestID: 7, Namespace: moq.Tuple{"live"}, TrackName: "cam",
	})
	require.NoError(t, err)

	forwarded := drainOutbound(t, publisher)
	sub, ok := forwarded.(moq.Subscribe)
	require.True(t, ok)
	require.NotEqual(t, uint64(7), sub.RequestID, "relay must allocate its own request id toward the publisher")

	pending, ok := publisher.PeekPendingSubscribe(sub.RequestID)
	require.True(t, ok)
	require.Equal(t, "subscriber", pending.OriginConnID)
	require.Equal(t, uint64(7), pending.OriginRequestID)
}

func TestDispatchUnsubscribeRemovesTrackSubscription(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)

	publisher := newTestClient(t, "publisher")
	name := track.FullTrackName{Namespace: moq.Tuple{"live"}, Name: "cam"}
	tr := track.New(name, 42, 0, nil)
	publisher.RegisterPublishedTrack(tr)
	r.Registry.Add(publisher)

	subscriber := newTestClient(t, "subscriber")
	streams := track.NewStreamMap()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.AddSubscription(ctx, subscriber.ConnectionID, noopOpener{}, streams, nil)
	require.Equal(t, 1, tr.SubscriberCount())

	subscriber.PutPendingSubscribe(3, registry.PendingSubscribe{FullTrackName: name, OriginConnID: "subscriber", OriginRequestID: 3})

	err := r.dispatch(context.Background(), subscriber, moq.Unsubscribe{RequestID: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.SubscriberCount() == 0 }, time.Second, time.Millisecond)
}

type noopOpener struct{}

func (noopOpener) OpenUniStreamSync(ctx context.Context) (webtransport.SendStream, error) {
	return nil, context.Canceled
}

func TestResolveFetchRangeStandalone(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)
	client := newTestClient(t, "conn-1")

	name, start, end, ok := r.resolveFetchRange(client, moq.Fetch{
		FetchType:     moq.FetchStandalone,
		Namespace:     moq.Tuple{"a"},
		TrackName:     "x",
		StartLocation: moq.Location{Group: 1, Object: 0},
		EndGroup:      5,
		EndObject:     9,
	})
	require.True(t, ok)
	require.Equal(t, "x", name.Name)
	require.Equal(t, moq.Location{Group: 1, Object: 0}, start)
	require.Equal(t, moq.Location{Group: 5, Object: 9}, end)
}

func TestResolveFetchRangeRelativeJoining(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)
	client := newTestClient(t, "conn-1")

	name := track.FullTrackName{Namespace: moq.Tuple{"a"}, Name: "x"}
	tr := track.New(name, 1, 0, nil)
	headerID := cache.SubgroupHeaderID(1, 0, 0)
	tr.PublishHeader(headerID, datastream.Header{Kind: datastream.KindSubgroup, Subgroup: moq.SubgroupHeader{TrackAlias: 1}})
	tr.PublishObject(headerID, moq.Object{Location: moq.Location{Group: 4, Object: 0}, Status: moq.StatusNormal})

	publisher := newTestClient(t, "publisher")
	publisher.RegisterPublishedTrack(tr)
	r.Registry.Add(publisher)

	client.PutPendingSubscribe(1, registry.PendingSubscribe{FullTrackName: name})

	resolved, start, end, ok := r.resolveFetchRange(client, moq.Fetch{
		FetchType:        moq.FetchRelativeJoining,
		JoiningRequestID: 1,
		JoiningStart:     2,
	})
	require.True(t, ok)
	require.Equal(t, name, resolved)
	require.Equal(t, moq.Location{Group: 2, Object: 0}, start, "largest group 4 minus joining_start 2")
	require.Equal(t, moq.Location{Group: 4, Object: 0}, end)
}

func TestAdmitRequestBlocksOverRate(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{RequestRate: rate.Limit(0.0001), RequestBurst: 1}, nil)
	client := newTestClient(t, "conn-1")

	require.True(t, r.admitRequest(context.Background(), client))
	require.False(t, r.admitRequest(context.Background(), client))

	reply := drainOutbound(t, client)
	blocked, ok := reply.(moq.RequestsBlocked)
	require.True(t, ok)
	require.Equal(t, r.Config.MaxRequestID, blocked.MaximumRequestID)
}

type countingMetrics struct{ published, blocked int }

func (m *countingMetrics) TrackPublished()     { m.published++ }
func (m *countingMetrics) TrackUnpublished()   {}
func (m *countingMetrics) SubscriptionAdded()  {}
func (m *countingMetrics) SubscriptionRemoved() {}
func (m *countingMetrics) RequestRewritten()   {}
func (m *countingMetrics) RequestBlocked()     { m.blocked++ }

func TestNewTrackRecordsMetric(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{}, nil)
	metrics := &countingMetrics{}
	r.Metrics = metrics

	tr := r.newTrack(track.FullTrackName{Name: "x"}, 1)
	require.NotNil(t, tr)
	require.Equal(t, 1, metrics.published)
}

func TestAdmitRequestRecordsBlockedMetric(t *testing.T) {
	t.Parallel()
	r := NewRelay(Config{RequestRate: rate.Limit(0.0001), RequestBurst: 1}, nil)
	metrics := &countingMetrics{}
	r.Metrics = metrics
	client := newTestClient(t, "conn-1")

	require.True(t, r.admitRequest(context.Background(), client))
	require.False(t, r.admitRequest(context.Background(), client))
	require.Equal(t, 1, metrics.blocked)
	drainOutbound(t, client)
}
