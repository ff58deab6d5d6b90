package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/streaming-university/moqrelay/internal/moq"
	"github.com/streaming-university/moqrelay/internal/registry"
	"github.com/streaming-university/moqrelay/internal/track"
)

// DefaultMaxRequestID is the ceiling advertised to every client via
// ServerSetup's max_request_id parameter, absent an explicit configuration.
const DefaultMaxRequestID = 100

// DefaultSetupDeadline bounds how long a session may take to deliver its
// ClientSetup before the relay gives up on it.
const DefaultSetupDeadline = 5 * time.Second

// DefaultRequestRate and DefaultRequestBurst bound how quickly one
// connection may introduce new request ids before the relay starts
// replying RequestsBlocked instead of servicing further requests.
const (
	DefaultRequestRate  rate.Limit = 50
	DefaultRequestBurst            = 100
)

// Authenticator validates a WebTransport session before it is admitted. A
// non-nil error rejects the session with Unauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, path string) error
}

// MetricsRecorder receives counters for Prometheus export. All methods
// must tolerate a nil receiver's absence being already handled by the
// caller (the relay only calls through a non-nil MetricsRecorder).
type MetricsRecorder interface {
	TrackPublished()
	TrackUnpublished()
	SubscriptionAdded()
	SubscriptionRemoved()
	RequestRewritten()
	RequestBlocked()
}

// ObjectLogger records one line per object the relay receives on a
// publisher's subgroup data stream, in §6's persisted-state CSV format.
// Each object is logged once, as it arrives; deliveries to individual
// subscribers are not logged.
type ObjectLogger interface {
	LogObject(connID string, trackAlias, groupID, subgroupID, objectID uint64, payloadSize int)
}

// Announcer fans a locally-announced namespace out to peer relays in a
// cluster, and reports back whether any peer already serves one. A nil
// Announcer makes every relay instance fully standalone.
type Announcer interface {
	Announce(namespace moq.Tuple) error
	Withdraw(namespace moq.Tuple) error
	HasAnnounced(namespace moq.Tuple) bool
}

// Config bounds the per-relay tunables §6 names as configuration surface.
type Config struct {
	MaxRequestID     uint64
	CacheCapacity    int
	SetupDeadline    time.Duration
	RequestRate      rate.Limit
	RequestBurst     int
}

func (c Config) withDefaults() Config {
	if c.MaxRequestID == 0 {
		c.MaxRequestID = DefaultMaxRequestID
	}
	if c.SetupDeadline <= 0 {
		c.SetupDeadline = DefaultSetupDeadline
	}
	if c.RequestRate <= 0 {
		c.RequestRate = DefaultRequestRate
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = DefaultRequestBurst
	}
	return c
}

// Relay owns the shared client registry and track-visible state for one
// standalone (or clustered, via an optional Cluster hook) relay process.
type Relay struct {
	Config   Config
	Registry *registry.Registry

	Auth      Authenticator
	Metrics   MetricsRecorder
	ObjectLog ObjectLogger
	Cluster   Announcer

	// limiters holds one rate.Limiter per connection id, bounding how fast
	// that client may introduce new request ids (backs RequestsBlocked).
	limiters sync.Map

	log *slog.Logger
}

// NewRelay builds a Relay with the given configuration, defaulting unset
// fields.
func NewRelay(cfg Config, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		Config:   cfg.withDefaults(),
		Registry: registry.NewRegistry(),
		log:      log.With("component", "relay"),
	}
}

func (r *Relay) newTrack(name track.FullTrackName, alias uint64) *track.Track {
	t := track.New(name, alias, r.Config.CacheCapacity, r.log)
	if r.Metrics != nil {
		r.Metrics.TrackPublished()
	}
	return t
}
