// Command moqclient is a minimal interop tool for exercising a relay as a
// publisher, subscriber, or fetcher from the command line.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/streaming-university/moqrelay/internal/control"
	"github.com/streaming-university/moqrelay/internal/datastream"
	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

const clientTrackAlias = 1

func main() {
	var (
		role         = flag.String("role", "", "publisher, subscriber, or fetcher")
		endpoint     = flag.String("endpoint", "https://localhost:4443/moq", "session URL")
		namespace    = flag.String("namespace", "demo", "/-separated track namespace")
		trackName    = flag.String("track", "video", "track name")
		skipVerify   = flag.Bool("insecure-skip-verify", false, "skip TLS certificate validation")
		publishCount = flag.Int("objects", 10, "publisher: number of objects to send before exiting")
		duration     = flag.Duration("duration", 10*time.Second, "subscriber/fetcher: how long to wait for data")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*role, *endpoint, *namespace, *trackName, *skipVerify, *publishCount, *duration, log); err != nil {
		log.Error("moqclient failed", "error", err)
		os.Exit(1)
	}
}

func run(role, endpoint, namespace, trackName string, skipVerify bool, publishCount int, duration time.Duration, log *slog.Logger) error {
	switch role {
	case "publisher", "subscriber", "fetcher":
	default:
		return fmt.Errorf("moqclient: -role must be one of publisher, subscriber, fetcher, got %q", role)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration+10*time.Second)
	defer cancel()

	session, err := webtransport.Dial(ctx, endpoint, &tls.Config{InsecureSkipVerify: skipVerify})
	if err != nil {
		return fmt.Errorf("moqclient: dial: %w", err)
	}
	defer session.CloseWithError(0, "done")

	ns := moq.Tuple(strings.Split(strings.Trim(namespace, "/"), "/"))

	ctrlStream, err := session.OpenStream()
	if err != nil {
		return fmt.Errorf("moqclient: open control stream: %w", err)
	}
	framer := control.NewFramer(ctrlStream, control.DefaultMessageDeadline)
	if err := handshake(framer); err != nil {
		return fmt.Errorf("moqclient: setup: %w", err)
	}

	switch role {
	case "publisher":
		return runPublisher(session, framer, ns, trackName, publishCount, log)
	case "subscriber":
		return runSubscriber(ctx, session, framer, ns, trackName, log)
	case "fetcher":
		return runFetcher(ctx, session, framer, ns, trackName, log)
	}
	return nil
}

func handshake(framer *control.Framer) error {
	if err := framer.Send(moq.ClientSetup{Versions: []uint64{moq.DRAFT_11}, MaxRequestID: 100}); err != nil {
		return fmt.Errorf("send client setup: %w", err)
	}
	msg, err := framer.NextMessage()
	if err != nil {
		return fmt.Errorf("read server setup: %w", err)
	}
	setup, ok := msg.(moq.ServerSetup)
	if !ok {
		return fmt.Errorf("expected ServerSetup, got %T", msg)
	}
	if setup.SelectedVersion != moq.DRAFT_11 {
		return fmt.Errorf("server selected unsupported version %#x", setup.SelectedVersion)
	}
	return nil
}

func runPublisher(session *webtransport.Session, framer *control.Framer, ns moq.Tuple, trackName string, count int, log *slog.Logger) error {
	if err := framer.Send(moq.PublishNamespace{RequestID: 0, Namespace: ns}); err != nil {
		return fmt.Errorf("send publish namespace: %w", err)
	}
	reply, err := framer.NextMessage()
	if err != nil {
		return fmt.Errorf("read publish namespace reply: %w", err)
	}
	if pnErr, ok := reply.(moq.PublishNamespaceError); ok {
		return fmt.Errorf("publish namespace rejected: code=%d reason=%q", pnErr.ErrorCode, pnErr.ReasonPhrase)
	}

	stream, err := session.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open data stream: %w", err)
	}
	send := datastream.NewSendDataStream(stream, moq.SubgroupHeader{
		TrackAlias: clientTrackAlias,
		GroupID:    0,
		Mode:       moq.SubgroupExplicit,
		SubgroupID: 0,
		Priority:   128,
	})

	for i := 0; i < count; i++ {
		obj := moq.Object{
			TrackAlias: clientTrackAlias,
			Location:   moq.Location{Group: 0, Object: uint64(i)},
			Status:     moq.StatusNormal,
			Payload:    []byte(fmt.Sprintf("object-%d", i)),
		}
		if err := send.SendObject(obj); err != nil {
			return fmt.Errorf("send object %d: %w", i, err)
		}
		log.Info("published object", "index", i, "bytes", len(obj.Payload))
	}
	return send.Finish()
}

func runSubscriber(ctx context.Context, session *webtransport.Session, framer *control.Framer, ns moq.Tuple, trackName string, log *slog.Logger) error {
	if err := framer.Send(moq.Subscribe{
		RequestID:  0,
		TrackAlias: clientTrackAlias,
		Namespace:  ns,
		TrackName:  trackName,
		Priority:   128,
		FilterType: moq.FilterLatestObject,
	}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	reply, err := framer.NextMessage()
	if err != nil {
		return fmt.Errorf("read subscribe reply: %w", err)
	}
	if subErr, ok := reply.(moq.SubscribeError); ok {
		return fmt.Errorf("subscribe rejected: code=%d reason=%q", subErr.ErrorCode, subErr.ReasonPhrase)
	}

	for {
		stream, err := session.AcceptUniStream(ctx)
		if err != nil {
			return nil
		}
		go drainDataStream(ctx, stream, nil, log)
	}
}

func drainDataStream(ctx context.Context, stream webtransport.ReceiveStream, pendingFetch datastream.PendingFetchLookup, log *slog.Logger) {
	recv := datastream.NewRecvDataStream(stream, pendingFetch, 0)
	for {
		ev, err := recv.Next(ctx)
		if err != nil {
			return
		}
		switch ev.Kind {
		case datastream.EventObject:
			log.Info("received object", "object_id", ev.ObjectID, "bytes", len(ev.Object.Payload))
		case datastream.EventClosed:
			return
		}
	}
}

func runFetcher(ctx context.Context, session *webtransport.Session, framer *control.Framer, ns moq.Tuple, trackName string, log *slog.Logger) error {
	const fetchRequestID = 0
	if err := framer.Send(moq.Fetch{
		RequestID:  fetchRequestID,
		Priority:   128,
		GroupOrder: moq.GroupOrderAscending,
		FetchType:  moq.FetchStandalone,
		Namespace:  ns,
		TrackName:  trackName,
	}); err != nil {
		return fmt.Errorf("send fetch: %w", err)
	}
	reply, err := framer.NextMessage()
	if err != nil {
		return fmt.Errorf("read fetch reply: %w", err)
	}
	if fetchErr, ok := reply.(moq.FetchError); ok {
		return fmt.Errorf("fetch rejected: code=%d reason=%q", fetchErr.ErrorCode, fetchErr.ReasonPhrase)
	}

	stream, err := session.AcceptUniStream(ctx)
	if err != nil {
		return fmt.Errorf("accept fetch stream: %w", err)
	}
	isPending := func(requestID uint64) bool { return requestID == fetchRequestID }
	recv := datastream.NewRecvDataStream(stream, isPending, 0)
	count := 0
	for {
		ev, err := recv.Next(ctx)
		if err != nil {
			break
		}
		if ev.Kind == datastream.EventObject {
			count++
			log.Info("fetched object", "group", ev.Object.Location.Group, "object", ev.Object.Location.Object, "bytes", len(ev.Object.Payload))
		}
		if ev.Kind == datastream.EventClosed {
			break
		}
	}
	log.Info("fetch complete", "objects", count)
	return nil
}
