package track

import (
	"sync"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/datastream"
)

// streamBucketCount is the number of independently-locked partitions a
// StreamMap splits its entries across, per §3/§5's stream-key sharding:
// many subgroups open at once should not all serialize on one mutex.
const streamBucketCount = 10

// StreamMap is a bucket-partitioned map<StreamKey, SendStream>, the send-
// stream table the MOQTClient model in §3 describes. A header id (the
// cache's stable stand-in for a StreamKey) hashes to one of a small fixed
// number of buckets, each guarded by its own mutex.
type StreamMap struct {
	buckets [streamBucketCount]streamBucket
}

type streamBucket struct {
	mu      sync.Mutex
	streams map[cache.HeaderID]*datastream.SendDataStream
}

// NewStreamMap builds an empty, ready-to-use StreamMap.
func NewStreamMap() *StreamMap {
	sm := &StreamMap{}
	for i := range sm.buckets {
		sm.buckets[i].streams = make(map[cache.HeaderID]*datastream.SendDataStream)
	}
	return sm
}

func (m *StreamMap) bucket(id cache.HeaderID) *streamBucket {
	return &m.buckets[hashHeaderID(id)%streamBucketCount]
}

// Get returns the stream resident under id, if any.
func (m *StreamMap) Get(id cache.HeaderID) (*datastream.SendDataStream, bool) {
	b := m.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	return s, ok
}

// GetOrOpen returns the stream resident under id, opening one via open if
// none exists yet. open is called with the bucket locked, so it must not
// itself touch the StreamMap.
func (m *StreamMap) GetOrOpen(id cache.HeaderID, open func() (*datastream.SendDataStream, error)) (*datastream.SendDataStream, error) {
	b := m.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[id]; ok {
		return s, nil
	}
	s, err := open()
	if err != nil {
		return nil, err
	}
	b.streams[id] = s
	return s, nil
}

// Delete removes and returns the stream resident under id, if any.
func (m *StreamMap) Delete(id cache.HeaderID) (*datastream.SendDataStream, bool) {
	b := m.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	delete(b.streams, id)
	return s, ok
}

// hashHeaderID combines a HeaderID's fields with an FNV-1a-style mix so
// stream-key lookups never format a string on the hot path.
func hashHeaderID(id cache.HeaderID) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	h = (h ^ uint64(id.Kind)) * prime
	h = (h ^ id.RequestID) * prime
	h = (h ^ id.TrackAlias) * prime
	h = (h ^ id.GroupID) * prime
	h = (h ^ id.SubgroupID) * prime
	return h
}
