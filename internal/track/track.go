package track

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// broadcastCapacity bounds each subscriber's event channel. A subscriber
// that falls behind this many events loses the overflow rather than
// stalling the publisher path (§5 Backpressure).
const broadcastCapacity = 256

// FullTrackName identifies a track by its announced namespace and track
// name (§3). Namespace has 1-32 fields and an encoded length of at most
// 4096 bytes, enforced by moq.Cursor.ReadTuple on the wire.
type FullTrackName struct {
	Namespace moq.Tuple
	Name      string
}

// Key returns a canonical, comparable representation of f suitable for use
// as a map key (a Tuple is a slice and so is not itself comparable).
func (f FullTrackName) Key() string {
	var b strings.Builder
	for _, field := range f.Namespace {
		b.WriteByte(0)
		b.WriteString(field)
	}
	b.WriteByte(1)
	b.WriteString(f.Name)
	return b.String()
}

// EventKind discriminates the values a Track's broadcast delivers to each
// subscription.
type EventKind int

const (
	EventHeader EventKind = iota
	EventObject
	EventStreamClosed
)

// Event is one unit a Track publishes to every active subscription.
type Event struct {
	Kind     EventKind
	HeaderID cache.HeaderID
	Header   datastream.Header // valid iff Kind == EventHeader
	Object   moq.Object        // valid iff Kind == EventObject
}

// StreamOpener is the capability a subscription needs from its subscriber's
// session to deliver data: opening a new unidirectional stream toward it.
type StreamOpener interface {
	OpenUniStreamSync(ctx context.Context) (webtransport.SendStream, error)
}

// Track owns a TrackCache and broadcasts publisher events — a header, its
// objects, and a stream-closed notice — to every active subscription
// (§4.6). Event emission for one track is totally ordered and every
// subscription observes that same order (§5 Ordering guarantees).
type Track struct {
	Name  FullTrackName
	Alias uint64
	Cache *cache.TrackCache

	log *slog.Logger

	mu       sync.RWMutex
	subs     map[string]*Subscription // connection id -> subscription
	largest  moq.Location
	hasLarge bool
}

// New builds a Track with the given cache capacity (0 selects
// cache.DefaultCapacity).
func New(name FullTrackName, alias uint64, cacheCapacity int, log *slog.Logger) *Track {
	if log == nil {
		log = slog.Default()
	}
	return &Track{
		Name:  name,
		Alias: alias,
		Cache: cache.NewTrackCache(cacheCapacity),
		log:   log.With("track_alias", alias),
		subs:  make(map[string]*Subscription),
	}
}

// LargestLocation returns the largest (group, object) location observed
// across every normal object published on this track, for use as a
// SubscribeOK's cached largest location.
func (t *Track) LargestLocation() (moq.Location, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.largest, t.hasLarge
}

// PublishHeader registers a new data-stream header with the cache and
// broadcasts it to every subscription.
func (t *Track) PublishHeader(id cache.HeaderID, header datastream.Header) {
	t.Cache.AddHeader(id, header)
	t.broadcast(Event{Kind: EventHeader, HeaderID: id, Header: header})
}

// PublishObject appends obj to the cache entry under id and broadcasts it.
// Normal objects advance the track's largest observed location.
func (t *Track) PublishObject(id cache.HeaderID, obj moq.Object) {
	t.Cache.AddObject(id, obj)
	if obj.Status == moq.StatusNormal {
		t.mu.Lock()
		if !t.hasLarge || t.largest.Less(obj.Location) {
			t.largest = obj.Location
			t.hasLarge = true
		}
		t.mu.Unlock()
	}
	t.broadcast(Event{Kind: EventObject, HeaderID: id, Object: obj})
}

// PublishStreamClosed tells every subscription that the data stream
// carrying id has ended, so each can finish its corresponding outbound
// stream.
func (t *Track) PublishStreamClosed(id cache.HeaderID) {
	t.broadcast(Event{Kind: EventStreamClosed, HeaderID: id})
}

func (t *Track) broadcast(ev Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		select {
		case s.events <- ev:
		default:
			t.log.Warn("subscriber fell behind, dropping event", "connection_id", s.connID)
		}
	}
}

// AddSubscription spawns a subscription task for connID, delivering every
// event published after this call over opener's streams until Finish is
// called or ctx is cancelled; headers and objects already in the cache are
// not replayed to it. If connID already has a subscription on this track,
// it is replaced.
func (t *Track) AddSubscription(ctx context.Context, connID string, opener StreamOpener, streams *StreamMap, log *slog.Logger) *Subscription {
	if log == nil {
		log = t.log
	}
	sub := &Subscription{
		track:   t,
		connID:  connID,
		opener:  opener,
		streams: streams,
		events:  make(chan Event, broadcastCapacity),
		done:    make(chan struct{}),
		opened:  make(map[cache.HeaderID]struct{}),
		log:     log.With("connection_id", connID),
	}

	t.mu.Lock()
	if old, ok := t.subs[connID]; ok {
		old.Finish()
	}
	t.subs[connID] = sub
	t.mu.Unlock()

	go sub.run(ctx)
	return sub
}

// RemoveSubscription finishes and removes the subscription for connID, if
// any.
func (t *Track) RemoveSubscription(connID string) {
	t.mu.Lock()
	sub, ok := t.subs[connID]
	if ok {
		delete(t.subs, connID)
	}
	t.mu.Unlock()
	if ok {
		sub.Finish()
	}
}

// SubscriberCount reports how many subscriptions are currently active.
func (t *Track) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// SubscriberConnIDs returns a snapshot of connection ids with an active
// subscription, for callers that forward datagram objects directly to each
// subscriber's session rather than through the header/object broadcast
// (datagram objects carry no stream key to cache or replay against).
func (t *Track) SubscriberConnIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	return ids
}

// RecordDatagramLocation folds a datagram-delivered object's location into
// the track's largest observed location, mirroring the bookkeeping
// PublishObject does for subgroup-delivered objects.
func (t *Track) RecordDatagramLocation(loc moq.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasLarge || t.largest.Less(loc) {
		t.largest = loc
		t.hasLarge = true
	}
}

// Subscription is the per-subscriber fan-out task described in §4.6: it
// receives Track events and mirrors each header/object/close onto its own
// unidirectional streams toward the subscriber.
type Subscription struct {
	track   *Track
	connID  string
	opener  StreamOpener
	streams *StreamMap
	events  chan Event
	done    chan struct{}
	log     *slog.Logger

	// opened records which stream-map entries this subscription itself
	// created, so Finish only tears down its own streams even though
	// streams is shared with every other subscription this client holds
	// (the MOQTClient send-stream table is one partitioned map per client,
	// not one per track, per §3). Touched only from the run goroutine.
	opened map[cache.HeaderID]struct{}

	finishOnce sync.Once
}

func (s *Subscription) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			s.closeAllStreams()
			return
		case <-ctx.Done():
			s.Finish()
			s.closeAllStreams()
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Subscription) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventHeader:
		_, err := s.streams.GetOrOpen(ev.HeaderID, func() (*datastream.SendDataStream, error) {
			return s.openStream(ctx, ev.Header)
		})
		if err != nil {
			s.log.Warn("failed to open subscriber stream", "error", err)
			return
		}
		s.opened[ev.HeaderID] = struct{}{}
	case EventObject:
		stream, ok := s.streams.Get(ev.HeaderID)
		if !ok {
			// Stream closed or never opened (e.g. the header arrived before
			// this subscription existed); dropping is expected, not an error.
			s.log.Debug("dropping object for stream with no open send stream")
			return
		}
		if err := stream.SendObject(ev.Object); err != nil {
			s.log.Warn("failed to forward object, dropping stream", "error", err)
			s.streams.Delete(ev.HeaderID)
			delete(s.opened, ev.HeaderID)
		}
	case EventStreamClosed:
		if stream, ok := s.streams.Delete(ev.HeaderID); ok {
			delete(s.opened, ev.HeaderID)
			if err := stream.Finish(); err != nil {
				s.log.Debug("error finishing subscriber stream", "error", err)
			}
		}
	}
}

func (s *Subscription) openStream(ctx context.Context, header datastream.Header) (*datastream.SendDataStream, error) {
	raw, err := s.opener.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	switch header.Kind {
	case datastream.KindFetch:
		return datastream.NewFetchSendDataStream(raw, header.Fetch), nil
	default:
		return datastream.NewSendDataStream(raw, header.Subgroup), nil
	}
}

// Finish stops the subscription's task and closes every stream it opened.
// Safe to call more than once and from any goroutine.
func (s *Subscription) Finish() {
	s.finishOnce.Do(func() { close(s.done) })
}

func (s *Subscription) closeAllStreams() {
	for id := range s.opened {
		if stream, ok := s.streams.Delete(id); ok {
			if err := stream.Finish(); err != nil {
				s.log.Debug("error finishing subscriber stream on shutdown", "error", err)
			}
		}
	}
	s.opened = nil
}
