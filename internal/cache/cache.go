package cache

import (
	"container/list"
	"sort"
	"sync"

	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
)

// DefaultCapacity is the number of resident headers a new TrackCache holds
// before it starts evicting, absent an explicit cache_size configuration.
const DefaultCapacity = 2000

// CacheEventKind discriminates the values ReadObjects yields.
type CacheEventKind int

const (
	CacheObject CacheEventKind = iota
	CacheEndLocation
	CacheNoObject
)

// CacheConsumeEvent is one unit produced by TrackCache.ReadObjects.
type CacheConsumeEvent struct {
	Kind     CacheEventKind
	HeaderID HeaderID
	Object   moq.Object
	Location moq.Location // valid when Kind == CacheEndLocation
}

type entry struct {
	id      HeaderID
	header  datastream.Header
	objects []moq.Object
}

// TrackCache is a bounded, per-header ring buffer: at most capacity headers
// are resident at once, each carrying its own ordered object list. Adding a
// header beyond capacity evicts the least-recently-touched header and every
// object under it. Objects for a header that isn't resident (never added,
// or since evicted) are dropped silently rather than erroring, since a
// late-arriving object after eviction is an expected race, not a protocol
// fault.
type TrackCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = least recently touched, back = most recent
	index    map[HeaderID]*list.Element
}

// NewTrackCache builds a cache holding at most capacity headers. A
// non-positive capacity selects DefaultCapacity.
func NewTrackCache(capacity int) *TrackCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TrackCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[HeaderID]*list.Element, capacity),
	}
}

// AddHeader registers header under id. If id is already resident, it is
// moved to the most-recently-touched position and its previous header is
// returned. Otherwise, if the cache is at capacity, the least-recently-
// touched header and all its objects are evicted first.
func (c *TrackCache) AddHeader(id HeaderID, header datastream.Header) (previous datastream.Header, hadPrevious bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		e := el.Value.(*entry)
		previous, hadPrevious = e.header, true
		e.header = header
		c.order.MoveToBack(el)
		return previous, hadPrevious
	}

	if c.order.Len() >= c.capacity {
		c.evictFrontLocked()
	}
	el := c.order.PushBack(&entry{id: id, header: header})
	c.index[id] = el
	return datastream.Header{}, false
}

// AddObject appends obj under id, unless id is not resident, in which case
// the object is dropped.
func (c *TrackCache) AddObject(id HeaderID, obj moq.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[id]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	e.objects = append(e.objects, obj)
}

// Len reports the number of resident headers.
func (c *TrackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// ReadObjects returns every cached object, across all resident headers,
// whose location falls within [start, end], in ascending location order,
// followed by a terminal CacheEndLocation event carrying the last location
// yielded, or a CacheNoObject event if nothing matched.
func (c *TrackCache) ReadObjects(start, end moq.Location) []CacheConsumeEvent {
	c.mu.Lock()
	type match struct {
		id  HeaderID
		obj moq.Object
	}
	var matches []match
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		for _, obj := range e.objects {
			if start.LessOrEqual(obj.Location) && obj.Location.LessOrEqual(end) {
				matches = append(matches, match{id: e.id, obj: obj})
			}
		}
	}
	c.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].obj.Location.Less(matches[j].obj.Location)
	})

	if len(matches) == 0 {
		return []CacheConsumeEvent{{Kind: CacheNoObject}}
	}
	events := make([]CacheConsumeEvent, 0, len(matches)+1)
	for _, m := range matches {
		events = append(events, CacheConsumeEvent{Kind: CacheObject, HeaderID: m.id, Object: m.obj})
	}
	events = append(events, CacheConsumeEvent{Kind: CacheEndLocation, Location: matches[len(matches)-1].obj.Location})
	return events
}

func (c *TrackCache) evictFrontLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e := front.Value.(*entry)
	delete(c.index, e.id)
	c.order.Remove(front)
}
