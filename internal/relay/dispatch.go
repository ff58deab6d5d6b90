package relay

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
)

// dispatch implements §4.8's dispatch table for one inbound control
// message. A returned error is always a *moq.TerminationError and ends the
// session; a rejection of a single request is instead sent back as a reply
// control message and this returns nil.
func (r *Relay) dispatch(ctx context.Context, client *registry.Client, msg moq.ControlMessage) error {
	switch m := msg.(type) {
	case moq.ClientSetup:
		return moq.Terminate(moq.ProtocolViolation, "ClientSetup after setup already completed")
	case moq.PublishNamespace:
		return r.handlePublishNamespace(ctx, client, m)
	case moq.PublishNamespaceCancel:
		client.WithdrawNamespace(m.Namespace)
		r.withdrawFromCluster(client, m.Namespace)
		return nil
	case moq.PublishNamespaceDone:
		client.WithdrawNamespace(m.Namespace)
		r.withdrawFromCluster(client, m.Namespace)
		return nil
	case moq.MaxRequestIDMsg:
		return client.CheckAndSetMaxRequestID(m.RequestID)
	case moq.Subscribe:
		return r.handleSubscribe(ctx, client, m)
	case moq.SubscribeOK:
		return r.handleSubscribeOK(ctx, client, m)
	case moq.SubscribeError:
		return r.handleSubscribeError(client, m)
	case moq.Unsubscribe:
		return r.handleUnsubscribe(client, m)
	case moq.SubscribeDone:
		return r.handleSubscribeDone(client, m)
	case moq.Fetch:
		return r.handleFetch(ctx, client, m)
	case moq.FetchCancel:
		return r.handleFetchCancel(client, m)
	case moq.FetchOk:
		return r.handleFetchOk(client, m)
	case moq.FetchError:
		return r.handleFetchErrorMsg(client, m)
	case moq.Publish:
		return r.handlePublish(client, m)
	case moq.PublishOk:
		return r.handlePublishOk(client, m)
	case moq.PublishError:
		return r.handlePublishErrorMsg(client, m)
	case moq.PublishDone:
		return r.handlePublishDone(client, m)
	case moq.GoAway:
		client.Log().Info("peer requested graceful shutdown", "new_session_uri", m.NewSessionURI)
		return nil
	case moq.RequestsBlocked:
		client.Log().Debug("peer reports its own request ids are exhausted", "maximum_request_id", m.MaximumRequestID)
		return nil
	case moq.SubscribeUpdate, moq.TrackStatusRequest, moq.TrackStatus,
		moq.SubscribeAnnounces, moq.SubscribeAnnouncesOK, moq.SubscribeAnnouncesError, moq.UnsubscribeAnnounces:
		client.Log().Debug("ignoring unimplemented control message", "type", msg.Type())
		return nil
	default:
		return moq.Terminate(moq.ProtocolViolation, "unknown control message type")
	}
}

// limiterFor returns (creating if necessary) the token bucket bounding how
// quickly client may introduce new request ids, backing RequestsBlocked.
func (r *Relay) limiterFor(client *registry.Client) *rate.Limiter {
	if v, ok := r.limiters.Load(client.ConnectionID); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(r.Config.RequestRate, r.Config.RequestBurst)
	actual, _ := r.limiters.LoadOrStore(client.ConnectionID, l)
	return actual.(*rate.Limiter)
}

// admitRequest reports whether client may proceed with a new request right
// now. If not, it queues a RequestsBlocked reply and the caller must not
// process the request further.
func (r *Relay) admitRequest(ctx context.Context, client *registry.Client) bool {
	if r.limiterFor(client).Allow() {
		return true
	}
	if r.Metrics != nil {
		r.Metrics.RequestBlocked()
	}
	_ = client.Enqueue(ctx, moq.RequestsBlocked{MaximumRequestID: r.Config.MaxRequestID})
	return false
}

func (r *Relay) handlePublishNamespace(ctx context.Context, client *registry.Client, m moq.PublishNamespace) error {
	if err := client.CheckOwnCeiling(m.RequestID); err != nil {
		return err
	}
	if !r.admitRequest(ctx, client) {
		return nil
	}
	client.AnnounceNamespace(m.Namespace)
	if r.Cluster != nil {
		if err := r.Cluster.Announce(m.Namespace); err != nil {
			client.Log().Warn("cluster announce failed", "namespace", m.Namespace, "error", err)
		}
	}
	return client.Enqueue(ctx, moq.PublishNamespaceOK{RequestID: m.RequestID})
}

// withdrawFromCluster reports a local namespace withdrawal to the cluster
// fanout, if one is configured. Best-effort: a failed withdraw only leaves
// a stale peer-presence entry, which self-corrects on the next announce.
func (r *Relay) withdrawFromCluster(client *registry.Client, namespace moq.Tuple) {
	if r.Cluster == nil {
		return
	}
	if err := r.Cluster.Withdraw(namespace); err != nil {
		client.Log().Warn("cluster withdraw failed", "namespace", namespace, "error", err)
	}
}

// handleSubscribe implements the Subscribe row of §4.8's dispatch table:
// attach directly if the track already exists locally, otherwise locate its
// publisher by announced namespace and forward a relay-synthesized
// Subscribe, remembering how to translate the eventual SubscribeOk back.
func (r *Relay) handleSubscribe(ctx context.Context, client *registry.Client, m moq.Subscribe) error {
	if err := client.CheckOwnCeiling(m.RequestID); err != nil {
		return err
	}
	if !r.admitRequest(ctx, client) {
		return nil
	}

	name := track.FullTrackName{Namespace: m.Namespace, Name: m.TrackName}

	if t, _, ok := r.Registry.FindTrackByName(name); ok {
		client.PutPendingSubscribe(m.RequestID, registry.PendingSubscribe{FullTrackName: name, OriginConnID: client.ConnectionID, OriginRequestID: m.RequestID})
		r.attachSubscription(ctx, client, t, m.RequestID, m.TrackAlias)
		return nil
	}

	publisher, ok := r.Registry.FindPublisherByAnnouncedNamespace(m.Namespace)
	if !ok {
		reason := ""
		if r.Cluster != nil && r.Cluster.HasAnnounced(m.Namespace) {
			reason = "namespace is served by a peer relay, not this one"
		}
		return client.Enqueue(ctx, moq.SubscribeError{
			RequestID:    m.RequestID,
			ErrorCode:    moq.ErrCodeTrackDoesNotExist,
			ReasonPhrase: reason,
			TrackAlias:   m.TrackAlias,
		})
	}

	relayRequestID := publisher.NextRelayRequestID()
	pending := registry.PendingSubscribe{FullTrackName: name, OriginConnID: client.ConnectionID, OriginRequestID: m.RequestID}
	publisher.PutPendingSubscribe(relayRequestID, pending)
	client.PutPendingSubscribe(m.RequestID, pending)

	if r.Metrics != nil {
		r.Metrics.RequestRewritten()
	}

	forwarded := m
	forwarded.RequestID = relayRequestID
	return publisher.Enqueue(ctx, forwarded)
}

// attachSubscription registers subscriberClient's subscription on t and
// replies SubscribeOk with the track's current largest location.
func (r *Relay) attachSubscription(ctx context.Context, subscriberClient *registry.Client, t *track.Track, requestID, trackAlias uint64) {
	t.AddSubscription(subscriberClient.Session.Context(), subscriberClient.ConnectionID, subscriberClient.Session, subscriberClient.Streams, subscriberClient.Log())
	if r.Metrics != nil {
		r.Metrics.SubscriptionAdded()
	}

	largest, exists := t.LargestLocation()
	_ = subscriberClient.Enqueue(ctx, moq.SubscribeOK{
		RequestID:     requestID,
		TrackAlias:    trackAlias,
		ContentExists: exists,
		Largest:       largest,
	})
}

// handleSubscribeOK runs when the dispatch loop belongs to the publisher
// connection: translate the relay-allocated request id back to the real
// subscriber, materializing the local track on first use.
func (r *Relay) handleSubscribeOK(ctx context.Context, publisherClient *registry.Client, m moq.SubscribeOK) error {
	pending, ok := publisherClient.TakePendingSubscribe(m.RequestID)
	if !ok {
		publisherClient.Log().Debug("SubscribeOk for unknown pending subscribe", "request_id", m.RequestID)
		return nil
	}

	t, ok := publisherClient.PublishedTrack(pending.FullTrackName)
	if !ok {
		t = track.New(pending.FullTrackName, m.TrackAlias, r.Config.CacheCapacity, r.log)
		publisherClient.RegisterPublishedTrack(t)
		if r.Metrics != nil {
			r.Metrics.TrackPublished()
		}
	}

	origin, ok := r.Registry.Get(pending.OriginConnID)
	if !ok {
		return nil
	}

	r.attachSubscription(ctx, origin, t, pending.OriginRequestID, t.Alias)
	return nil
}

func (r *Relay) handleSubscribeError(client *registry.Client, m moq.SubscribeError) error {
	pending, ok := client.TakePendingSubscribe(m.RequestID)
	if !ok {
		return nil
	}
	origin, ok := r.Registry.Get(pending.OriginConnID)
	if !ok {
		return nil
	}
	reply := m
	reply.RequestID = pending.OriginRequestID
	return origin.Enqueue(context.Background(), reply)
}

// handleUnsubscribe recovers the track a subscribe request named and
// detaches this client's subscription from it.
func (r *Relay) handleUnsubscribe(client *registry.Client, m moq.Unsubscribe) error {
	pending, ok := client.TakePendingSubscribe(m.RequestID)
	if !ok {
		return nil
	}
	if t, _, ok := r.Registry.FindTrackByName(pending.FullTrackName); ok {
		t.RemoveSubscription(client.ConnectionID)
		if r.Metrics != nil {
			r.Metrics.SubscriptionRemoved()
		}
	}
	return nil
}

func (r *Relay) handleSubscribeDone(client *registry.Client, m moq.SubscribeDone) error {
	pending, ok := client.TakePendingSubscribe(m.RequestID)
	if !ok {
		return nil
	}
	origin, ok := r.Registry.Get(pending.OriginConnID)
	if !ok {
		return nil
	}
	reply := m
	reply.RequestID = pending.OriginRequestID
	return origin.Enqueue(context.Background(), reply)
}

