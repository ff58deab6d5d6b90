package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/streaming-university/moqrelay/internal/cache"
	"github.com/streaming-university/moqrelay/internal/control"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

// AcceptSession drives one already-upgraded WebTransport session to
// completion: it accepts the control stream, performs the setup handshake,
// registers the resulting client, and runs the control dispatch loop
// alongside the publisher data-stream and datagram acceptors (§4.8 step 2-3).
// It blocks until the session ends, for any reason, and returns that reason.
func (r *Relay) AcceptSession(ctx context.Context, session *webtransport.Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	controlStream, err := session.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("relay: accept control stream: %w", err)
	}
	framer := control.NewFramer(controlStream, 0)

	connID := uuid.NewString()
	client, err := r.handshake(ctx, connID, session, framer)
	if err != nil {
		r.closeForError(session, err)
		return err
	}
	r.Registry.Add(client)
	client.Log().Info("session established")

	defer r.teardown(client)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runControlLoop(gctx, client) })
	g.Go(func() error { return r.runUniStreamAcceptLoop(gctx, client) })
	g.Go(func() error { return r.runDatagramAcceptLoop(gctx, client) })

	err = g.Wait()
	r.closeForError(session, err)
	return err
}

// handshake reads the client's ClientSetup within the setup deadline,
// negotiates a version, and replies with ServerSetup.
func (r *Relay) handshake(ctx context.Context, connID string, session *webtransport.Session, framer *control.Framer) (*registry.Client, error) {
	setupCtx, cancel := context.WithTimeout(ctx, r.Config.SetupDeadline)
	defer cancel()

	msgCh := make(chan moq.ControlMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := framer.NextMessage()
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- msg
	}()

	var first moq.ControlMessage
	select {
	case <-setupCtx.Done():
		return nil, moq.Terminate(moq.ControlMessageTimeout, "client setup did not arrive in time")
	case err := <-errCh:
		return nil, err
	case first = <-msgCh:
	}

	cs, ok := first.(moq.ClientSetup)
	if !ok {
		return nil, moq.Terminate(moq.ProtocolViolation, "expected ClientSetup as the first control message")
	}

	supported := false
	for _, v := range cs.Versions {
		if v == moq.DRAFT_11 {
			supported = true
			break
		}
	}
	if !supported {
		return nil, moq.Terminate(moq.VersionNegotiationFailed, "no common MoQ version")
	}

	if r.Auth != nil {
		path := ""
		if cs.HasPath {
			path = cs.Path
		}
		if err := r.Auth.Authenticate(ctx, path); err != nil {
			return nil, moq.Terminate(moq.Unauthorized, err.Error())
		}
	}

	if err := framer.Send(moq.ServerSetup{
		SelectedVersion: moq.DRAFT_11,
		MaxRequestID:    r.Config.MaxRequestID,
	}); err != nil {
		return nil, err
	}

	return registry.NewClient(connID, session, framer, r.Config.MaxRequestID, r.log), nil
}

// teardown removes the client from the registry, withdraws any namespaces
// and published tracks it leaves behind, and unblocks its outbound queue.
func (r *Relay) teardown(client *registry.Client) {
	for _, ns := range client.AnnouncedNamespaces() {
		r.withdrawFromCluster(client, ns)
	}
	for _, t := range client.PublishedTracks() {
		client.UnregisterPublishedTrack(t.Name)
		if r.Metrics != nil {
			r.Metrics.TrackUnpublished()
		}
	}
	r.Registry.Remove(client.ConnectionID)
	r.limiters.Delete(client.ConnectionID)
	client.Close()
	client.Log().Info("session ended")
}

// closeForError translates a handler failure into a CloseWithError on the
// underlying session, per §4.8's "failure of any handler" rule.
func (r *Relay) closeForError(session *webtransport.Session, err error) {
	if err == nil {
		_ = session.CloseWithError(webtransport.SessionErrorCode(moq.NoError), "")
		return
	}
	var termErr *moq.TerminationError
	if asTerminationError(err, &termErr) {
		_ = session.CloseWithError(webtransport.SessionErrorCode(termErr.Code), termErr.Reason)
		return
	}
	_ = session.CloseWithError(webtransport.SessionErrorCode(moq.InternalError), err.Error())
}

func asTerminationError(err error, target **moq.TerminationError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if te, ok := err.(*moq.TerminationError); ok {
			*target = te
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// runControlLoop races inbound control-message parsing against the
// client's outbound queue (§4.8 step 3, §5 suspension points).
func (r *Relay) runControlLoop(ctx context.Context, client *registry.Client) error {
	inbound := make(chan moq.ControlMessage)
	inboundErr := make(chan error, 1)
	go func() {
		for {
			msg, err := client.Framer.NextMessage()
			if err != nil {
				inboundErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-inboundErr:
			return err
		case msg := <-inbound:
			if err := r.dispatch(ctx, client, msg); err != nil {
				return err
			}
		case out := <-client.Outbound():
			if err := client.Framer.Send(out); err != nil {
				return err
			}
		}
	}
}

// runUniStreamAcceptLoop accepts the data streams a publisher opens to
// carry subgroup or fetch objects toward the relay, and forwards each onto
// its matching track (§4.6's publisher-handling loop).
func (r *Relay) runUniStreamAcceptLoop(ctx context.Context, client *registry.Client) error {
	for {
		stream, err := client.Session.AcceptUniStream(ctx)
		if err != nil {
			return err
		}
		go r.runPublisherStream(ctx, client, stream)
	}
}

// runPublisherStream consumes one publisher data stream end-to-end,
// publishing its header (once resolved against the first object) and every
// subsequent object onto the track the stream's alias names.
func (r *Relay) runPublisherStream(ctx context.Context, client *registry.Client, stream webtransport.ReceiveStream) {
	rds := datastream.NewRecvDataStream(stream, nil, 0)

	var headerID cache.HeaderID
	var t *track.Track
	started := false

	for {
		ev, err := rds.Next(ctx)
		if err != nil {
			client.Log().Warn("publisher data stream error", "error", err)
			return
		}
		switch ev.Kind {
		case datastream.EventHeader:
			// Deferred: the subgroup id may depend on the first object
			// (SubgroupFirstObject mode), so registration happens below.
		case datastream.EventObject:
			if !started {
				if ev.Header.Kind != datastream.KindSubgroup {
					client.Log().Warn("publisher opened a fetch-framed data stream")
					return
				}
				resolved, ok := client.PublishedTrackByAlias(ev.Header.Subgroup.TrackAlias)
				if !ok {
					client.Log().Warn("data stream for unpublished track alias", "track_alias", ev.Header.Subgroup.TrackAlias)
					return
				}
				t = resolved
				headerID = cache.SubgroupHeaderID(ev.Header.Subgroup.TrackAlias, ev.Header.Subgroup.GroupID, ev.Object.SubgroupID)
				t.PublishHeader(headerID, ev.Header)
				started = true
			}
			t.PublishObject(headerID, ev.Object)
			if r.ObjectLog != nil {
				r.ObjectLog.LogObject(client.ConnectionID, ev.Header.Subgroup.TrackAlias, headerID.GroupID, headerID.SubgroupID, ev.ObjectID, len(ev.Object.Payload))
			}
		case datastream.EventClosed:
			if started {
				t.PublishStreamClosed(headerID)
			}
			return
		}
	}
}

// runDatagramAcceptLoop receives the unreliable datagrams a publisher sends
// for its ForwardDatagram objects and fans each one out live to every
// current subscriber of the matching track.
func (r *Relay) runDatagramAcceptLoop(ctx context.Context, client *registry.Client) error {
	for {
		raw, err := client.Session.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		if err := r.handleDatagram(client, raw); err != nil {
			client.Log().Warn("bad datagram", "error", err)
		}
	}
}

func (r *Relay) handleDatagram(client *registry.Client, raw []byte) error {
	c := moq.NewCursor(raw)
	typ, err := c.ReadVarInt()
	if err != nil {
		return err
	}
	d, err := moq.ParseDatagramObject(c, typ)
	if err != nil {
		return err
	}
	t, ok := client.PublishedTrackByAlias(d.TrackAlias)
	if !ok {
		return fmt.Errorf("datagram for unpublished track alias %d", d.TrackAlias)
	}
	if d.Object.Status == moq.StatusNormal {
		t.RecordDatagramLocation(d.Location)
	}
	for _, connID := range t.SubscriberConnIDs() {
		sub, ok := r.Registry.Get(connID)
		if !ok {
			continue
		}
		if err := sub.Session.SendDatagram(raw); err != nil {
			sub.Log().Debug("failed to forward datagram", "error", err)
		}
	}
	return nil
}
