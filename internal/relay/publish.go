package relay

import (
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
)

// handlePublish implements the explicit-publish opt-in: a prospective
// publisher offers a track before any Subscribe has named it. The relay
// accepts unless the offered alias collides with one already in use.
func (r *Relay) handlePublish(client *registry.Client, m moq.Publish) error {
	ctx := client.Session.Context()

	if err := client.CheckOwnCeiling(m.RequestID); err != nil {
		return err
	}
	if !r.admitRequest(ctx, client) {
		return nil
	}

	if !r.Registry.CheckTrackAliasAvailable(m.TrackAlias, client.ConnectionID) {
		return client.Enqueue(ctx, moq.PublishError{
			RequestID: m.RequestID,
			ErrorCode: moq.ErrCodeDuplicateTrackAlias,
		})
	}

	name := track.FullTrackName{Namespace: m.Namespace, Name: m.TrackName}
	t, ok := client.PublishedTrack(name)
	if !ok {
		t = r.newTrack(name, m.TrackAlias)
		client.RegisterPublishedTrack(t)
	}
	if m.ContentExists {
		t.RecordDatagramLocation(m.Largest)
	}
	client.PutPendingPublish(m.RequestID, name)

	return client.Enqueue(ctx, moq.PublishOk{
		RequestID:  m.RequestID,
		Forward:    1,
		FilterType: moq.FilterLatestObject,
	})
}

// PublishOk and PublishError are relay-originated replies to a client's
// Publish; a conformant client never sends the relay one back, so receiving
// one here is logged and otherwise ignored rather than torn down.
func (r *Relay) handlePublishOk(client *registry.Client, m moq.PublishOk) error {
	client.Log().Debug("ignoring unexpected PublishOk from peer", "request_id", m.RequestID)
	return nil
}

func (r *Relay) handlePublishErrorMsg(client *registry.Client, m moq.PublishError) error {
	client.Log().Debug("ignoring unexpected PublishError from peer", "request_id", m.RequestID)
	return nil
}

// handlePublishDone implements §4.8's Publish/PublishDone row: the publisher
// that sent the original Publish is done with that track, so it comes off
// this client's published set and the relay stops treating it as a source
// for new subscribers.
func (r *Relay) handlePublishDone(client *registry.Client, m moq.PublishDone) error {
	name, ok := client.TakePendingPublish(m.RequestID)
	if !ok {
		client.Log().Debug("PublishDone for unknown request", "request_id", m.RequestID)
		return nil
	}
	client.UnregisterPublishedTrack(name)
	if r.Metrics != nil {
		r.Metrics.TrackUnpublished()
	}
	return nil
}
