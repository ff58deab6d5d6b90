package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/streaming-university/moqrelay/internal/control"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/track"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// outboundQueueCapacity bounds a client's pending-to-send control message
// queue (§3's outbound_control_queue). Control messages are not dropped
// like broadcast objects are: Enqueue blocks once this fills, exerting
// backpressure on whichever handler produced the message.
const outboundQueueCapacity = 64

// ErrClientClosed is returned by Enqueue once the client has been removed
// from the registry and its send loop has stopped draining the queue.
var ErrClientClosed = errors.New("registry: client closed")

// PendingSubscribe is the bookkeeping a Subscribe leaves behind so a later
// Unsubscribe, SubscribeOk, or SubscribeError can be routed back to
// whichever connection is actually waiting on it. Stored on the
// originating client under its own request id (OriginConnID equal to that
// client's own ConnectionID) so Unsubscribe can recover the track without
// re-resolving the namespace, and on a forwarded-to publisher's client
// under the relay-synthesized request id (OriginConnID/OriginRequestID
// pointing back at the real subscriber) so a SubscribeOk reply translates
// correctly (§4.8).
type PendingSubscribe struct {
	FullTrackName   track.FullTrackName
	OriginConnID    string
	OriginRequestID uint64
}

// PendingFetch is the bookkeeping for a Fetch this client has asked the
// relay to serve, keyed by that client's own request id. FetchCancel calls
// its Cancel; the relay replays a fetch inline on the control loop and
// removes the entry when the replay ends, so a FetchCancel sent during a
// replay is read only after that replay has finished.
type PendingFetch struct {
	FullTrackName track.FullTrackName
	Cancel        context.CancelFunc
}

// pendingPublishes remembers which track name an accepted explicit-publish
// Publish's request id named, so a later PublishDone (which only carries
// the request id back) can be resolved to the track it must unregister.

// Client is the per-connection state the relay's dispatch loop reads and
// mutates: the MOQTClient record from §3, realized as one struct per
// WebTransport session plus its control framer and send-stream table.
type Client struct {
	ConnectionID string
	Session      *webtransport.Session
	Framer       *control.Framer
	Streams      *track.StreamMap

	log *slog.Logger

	ourMaxRequestID uint64

	mu                  sync.RWMutex
	peerMaxRequestID    uint64
	haveMaxRequestID    bool
	announcedNamespaces []moq.Tuple
	publishedTracks     map[string]*track.Track
	pendingFetches      map[uint64]PendingFetch
	pendingSubscribes   map[uint64]PendingSubscribe
	pendingPublishes    map[uint64]track.FullTrackName

	nextRelayRequestID atomic.Uint64

	outbound  chan moq.ControlMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a Client ready to register with a Registry.
// ourMaxRequestID is the ceiling this relay advertised to the client at
// setup time (via ServerSetup's max_request_id parameter), used to bound
// request ids the client may subsequently send us.
func NewClient(connID string, session *webtransport.Session, framer *control.Framer, ourMaxRequestID uint64, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		ConnectionID:      connID,
		Session:           session,
		Framer:            framer,
		Streams:           track.NewStreamMap(),
		ourMaxRequestID:   ourMaxRequestID,
		log:               log.With("connection_id", connID),
		publishedTracks:   make(map[string]*track.Track),
		pendingFetches:    make(map[uint64]PendingFetch),
		pendingSubscribes: make(map[uint64]PendingSubscribe),
		pendingPublishes:  make(map[uint64]track.FullTrackName),
		outbound:          make(chan moq.ControlMessage, outboundQueueCapacity),
		done:              make(chan struct{}),
	}
}

// Outbound exposes the client's send queue for the session's control loop
// to race against inbound reads, per §4.8 step 3.
func (c *Client) Outbound() <-chan moq.ControlMessage {
	return c.outbound
}

// Enqueue appends msg to the outbound queue, blocking if it is full until
// space frees, ctx is cancelled, or the client closes.
func (c *Client) Enqueue(ctx context.Context, msg moq.ControlMessage) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the client from accepting further outbound messages. Safe to
// call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// CheckAndSetMaxRequestID enforces §4.8's MaxRequestId rule: a peer's
// advertised ceiling must strictly increase. The very first value is
// always accepted.
func (c *Client) CheckAndSetMaxRequestID(max uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveMaxRequestID && max <= c.peerMaxRequestID {
		return moq.Terminate(moq.ProtocolViolation, "max_request_id did not strictly increase")
	}
	c.peerMaxRequestID = max
	c.haveMaxRequestID = true
	return nil
}

// CheckRequestID reports whether requestID is still under the peer's
// advertised ceiling, per §8's request-id overflow property. A peer that
// never sent MaxRequestId has no ceiling to enforce.
func (c *Client) CheckRequestID(requestID uint64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.haveMaxRequestID && requestID >= c.peerMaxRequestID {
		return moq.Terminate(moq.TooManyRequests, "request_id exceeds advertised maximum")
	}
	return nil
}

// CheckOwnCeiling validates a request id this client sent us against the
// ceiling we ourselves advertised at setup (§4.8's PublishNamespace check:
// "request_id < max_request_id"). Distinct from CheckRequestID, which
// validates request ids we allocate for messages we send toward this
// client against the ceiling it advertised to us.
func (c *Client) CheckOwnCeiling(requestID uint64) error {
	if requestID >= c.ourMaxRequestID {
		return moq.Terminate(moq.TooManyRequests, "request_id exceeds relay-advertised maximum")
	}
	return nil
}

// NextRelayRequestID allocates the next request id this relay will use
// when it synthesizes a message toward this client on another client's
// behalf (§4.8's per-control-stream allocation counter). Ids start at 1
// and step by 2: 1, 3, 5, ...
func (c *Client) NextRelayRequestID() uint64 {
	return c.nextRelayRequestID.Add(2) - 1
}

// AnnounceNamespace records ns as served by this client.
func (c *Client) AnnounceNamespace(ns moq.Tuple) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announcedNamespaces = append(c.announcedNamespaces, ns)
}

// WithdrawNamespace removes the first recorded announcement equal to ns,
// if any.
func (c *Client) WithdrawNamespace(ns moq.Tuple) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.announcedNamespaces {
		if have.Equal(ns) {
			c.announcedNamespaces = append(c.announcedNamespaces[:i], c.announcedNamespaces[i+1:]...)
			return
		}
	}
}

// AnnouncedNamespaces returns a snapshot of namespaces this client has
// announced.
func (c *Client) AnnouncedNamespaces() []moq.Tuple {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]moq.Tuple(nil), c.announcedNamespaces...)
}

// ServesNamespace reports whether some namespace this client announced is
// a prefix of (or equal to) ns.
func (c *Client) ServesNamespace(ns moq.Tuple) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, have := range c.announcedNamespaces {
		if ns.StartsWith(have) {
			return true
		}
	}
	return false
}

// RegisterPublishedTrack records t as published by this client.
func (c *Client) RegisterPublishedTrack(t *track.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishedTracks[t.Name.Key()] = t
}

// PublishedTrack looks up a track this client publishes by name.
func (c *Client) PublishedTrack(name track.FullTrackName) (*track.Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.publishedTracks[name.Key()]
	return t, ok
}

// PublishedTrackByAlias scans this client's published tracks for one with
// the given track alias. Aliases are assigned by the publisher and are
// unique per session, so a linear scan over one client's (typically small)
// track set is sufficient.
func (c *Client) PublishedTrackByAlias(alias uint64) (*track.Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.publishedTracks {
		if t.Alias == alias {
			return t, true
		}
	}
	return nil, false
}

// UnregisterPublishedTrack removes a track this client no longer publishes.
func (c *Client) UnregisterPublishedTrack(name track.FullTrackName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.publishedTracks, name.Key())
}

// PublishedTracks returns every track this client currently publishes, for
// a disconnecting client's teardown to unregister in bulk.
func (c *Client) PublishedTracks() []*track.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tracks := make([]*track.Track, 0, len(c.publishedTracks))
	for _, t := range c.publishedTracks {
		tracks = append(tracks, t)
	}
	return tracks
}

// PutPendingPublish records the track name an accepted explicit-publish
// Publish's request id named.
func (c *Client) PutPendingPublish(requestID uint64, name track.FullTrackName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingPublishes[requestID] = name
}

// TakePendingPublish removes and returns the track name recorded under
// requestID, if any.
func (c *Client) TakePendingPublish(requestID uint64) (track.FullTrackName, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.pendingPublishes[requestID]
	if ok {
		delete(c.pendingPublishes, requestID)
	}
	return name, ok
}

// PutPendingSubscribe records a subscribe awaiting a later Unsubscribe,
// SubscribeOk, or SubscribeError.
func (c *Client) PutPendingSubscribe(requestID uint64, p PendingSubscribe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSubscribes[requestID] = p
}

// TakePendingSubscribe removes and returns the pending subscribe under
// requestID, if any.
func (c *Client) TakePendingSubscribe(requestID uint64) (PendingSubscribe, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pendingSubscribes[requestID]
	if ok {
		delete(c.pendingSubscribes, requestID)
	}
	return p, ok
}

// PeekPendingSubscribe returns the pending subscribe under requestID
// without removing it.
func (c *Client) PeekPendingSubscribe(requestID uint64) (PendingSubscribe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pendingSubscribes[requestID]
	return p, ok
}

// PutPendingFetch records a fetch this client asked the relay to serve.
func (c *Client) PutPendingFetch(requestID uint64, p PendingFetch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingFetches[requestID] = p
}

// TakePendingFetch removes and returns the pending fetch under requestID,
// if any.
func (c *Client) TakePendingFetch(requestID uint64) (PendingFetch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pendingFetches[requestID]
	if ok {
		delete(c.pendingFetches, requestID)
	}
	return p, ok
}

// Log returns this client's scoped logger.
func (c *Client) Log() *slog.Logger {
	return c.log
}
