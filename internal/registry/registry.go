package registry

import (
	"sync"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/track"
)

// Registry is the connection-id-keyed client table described in §4.7,
// guarded by a single reader-writer lock since lookups vastly outnumber
// registrations and removals.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers c under its ConnectionID, replacing any previous client
// with the same id.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnectionID] = c
}

// Remove drops the client with the given id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Get returns the client registered under id, if any.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len reports how many clients are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// FindPublisherByAnnouncedNamespace returns the first registered client
// whose announced-namespace set contains a namespace that is a prefix of
// (or equal to) ns. Iteration order over the client map is unspecified, so
// "first" only means "some", matching the Open Question decision that
// overlapping announcements are not rejected (see DESIGN.md).
func (r *Registry) FindPublisherByAnnouncedNamespace(ns moq.Tuple) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.ServesNamespace(ns) {
			return c, true
		}
	}
	return nil, false
}

// FindTrackByName returns the track published under name, and the client
// publishing it, if any registered client currently publishes it.
func (r *Registry) FindTrackByName(name track.FullTrackName) (*track.Track, *Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if t, ok := c.PublishedTrack(name); ok {
			return t, c, true
		}
	}
	return nil, nil, false
}

// CheckTrackAliasAvailable reports whether alias is not already in use by
// any published track on any registered client other than excludeConnID.
// The relay checks it when a client offers a track with Publish and answers
// a collision with PublishError{DuplicateTrackAlias}, leaving the session
// open; Subscribe does not check aliases.
func (r *Registry) CheckTrackAliasAvailable(alias uint64, excludeConnID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		if id == excludeConnID {
			continue
		}
		if _, ok := c.PublishedTrackByAlias(alias); ok {
			return false
		}
	}
	return true
}
