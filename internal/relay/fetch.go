package relay

import (
	"context"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
)

// handleFetch implements §4.8's Fetch row: resolve the requested range
// (standalone, or joining an existing subscription), replay whatever the
// track's cache holds for it over a dedicated fetch data stream, and reply
// FetchOk or FetchError accordingly. The replay runs inline, so the control
// loop dispatches no other message until the fetch stream is finished and
// FetchOk is queued.
func (r *Relay) handleFetch(ctx context.Context, client *registry.Client, m moq.Fetch) error {
	if err := client.CheckOwnCeiling(m.RequestID); err != nil {
		return err
	}
	if !r.admitRequest(ctx, client) {
		return nil
	}

	name, start, end, ok := r.resolveFetchRange(client, m)
	if !ok {
		return client.Enqueue(ctx, moq.FetchError{RequestID: m.RequestID, ErrorCode: moq.ErrCodeInvalidRange, ReasonPhrase: "could not resolve joining fetch"})
	}

	t, _, ok := r.Registry.FindTrackByName(name)
	if !ok {
		return client.Enqueue(ctx, moq.FetchError{RequestID: m.RequestID, ErrorCode: moq.ErrCodeTrackDoesNotExist})
	}

	events := t.Cache.ReadObjects(start, end)
	if len(events) == 1 && events[0].Kind == cache.CacheNoObject {
		return client.Enqueue(ctx, moq.FetchError{RequestID: m.RequestID, ErrorCode: moq.ErrCodeNoObjects, ReasonPhrase: "No objects available"})
	}

	fetchCtx, cancel := context.WithCancel(client.Session.Context())
	client.PutPendingFetch(m.RequestID, registry.PendingFetch{FullTrackName: name, Cancel: cancel})

	stream, err := client.Session.OpenUniStreamSync(fetchCtx)
	if err != nil {
		cancel()
		return client.Enqueue(ctx, moq.FetchError{RequestID: m.RequestID, ErrorCode: moq.ErrCodeInternal, ReasonPhrase: err.Error()})
	}
	sds := datastream.NewFetchSendDataStream(stream, moq.FetchHeader{RequestID: m.RequestID})

	var endLocation moq.Location
	for _, ev := range events {
		if ev.Kind == cache.CacheEndLocation {
			endLocation = ev.Location
			continue
		}
		if err := sds.SendObject(ev.Object); err != nil {
			client.Log().Warn("fetch stream write failed", "request_id", m.RequestID, "error", err)
			break
		}
	}
	_ = sds.Finish()
	client.TakePendingFetch(m.RequestID)
	cancel()

	largest, hasLargest := t.LargestLocation()
	endOfTrack := hasLargest && endLocation.Group == largest.Group

	return client.Enqueue(ctx, moq.FetchOk{
		RequestID:   m.RequestID,
		GroupOrder:  m.GroupOrder,
		EndOfTrack:  endOfTrack,
		EndLocation: endLocation,
	})
}

// resolveFetchRange computes the track name and [start, end] location range
// a Fetch names, joining it against a prior Subscribe's track when the
// fetch type is relative or absolute joining.
func (r *Relay) resolveFetchRange(client *registry.Client, m moq.Fetch) (track.FullTrackName, moq.Location, moq.Location, bool) {
	end := moq.Location{Group: m.EndGroup, Object: m.EndObject}

	if m.FetchType == moq.FetchStandalone {
		name := track.FullTrackName{Namespace: m.Namespace, Name: m.TrackName}
		return name, m.StartLocation, end, true
	}

	joined, ok := client.PeekPendingSubscribe(m.JoiningRequestID)
	if !ok {
		return track.FullTrackName{}, moq.Location{}, moq.Location{}, false
	}

	t, _, ok := r.Registry.FindTrackByName(joined.FullTrackName)
	if !ok {
		return track.FullTrackName{}, moq.Location{}, moq.Location{}, false
	}
	largest, hasLargest := t.LargestLocation()
	if !hasLargest {
		return joined.FullTrackName, moq.Location{}, moq.Location{}, true
	}

	var start moq.Location
	switch m.FetchType {
	case moq.FetchAbsoluteJoining:
		start = moq.Location{Group: m.JoiningStart, Object: 0}
	default: // FetchRelativeJoining
		if m.JoiningStart > largest.Group {
			return track.FullTrackName{}, moq.Location{}, moq.Location{}, false
		}
		start = moq.Location{Group: largest.Group - m.JoiningStart, Object: 0}
	}
	return joined.FullTrackName, start, largest, true
}

func (r *Relay) handleFetchCancel(client *registry.Client, m moq.FetchCancel) error {
	pending, ok := client.TakePendingFetch(m.RequestID)
	if ok && pending.Cancel != nil {
		pending.Cancel()
	}
	return nil
}

// handleFetchOk and handleFetchErrorMsg only run if a peer sends the relay
// one of its own reply types, which a conformant client never does; log and
// move on rather than tearing down the session over it.
func (r *Relay) handleFetchOk(client *registry.Client, m moq.FetchOk) error {
	client.Log().Debug("ignoring unexpected FetchOk from peer", "request_id", m.RequestID)
	return nil
}

func (r *Relay) handleFetchErrorMsg(client *registry.Client, m moq.FetchError) error {
	client.Log().Debug("ignoring unexpected FetchError from peer", "request_id", m.RequestID)
	return nil
}
