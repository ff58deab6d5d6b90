// Package metrics exports relay counters for Prometheus scraping, the way
// the retrieval pack's websocket servers expose connection/message
// counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements relay.MetricsRecorder against a dedicated Prometheus
// registry, so tests and multiple relay instances never collide on the
// default global registry.
type Recorder struct {
	registry *prometheus.Registry

	tracksPublished     prometheus.Counter
	tracksUnpublished   prometheus.Counter
	subscriptionsActive prometheus.Gauge
	requestsRewritten   prometheus.Counter
	requestsBlocked     prometheus.Counter
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		tracksPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqrelay_tracks_published_total",
			Help: "Total number of tracks that started being published.",
		}),
		tracksUnpublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqrelay_tracks_unpublished_total",
			Help: "Total number of tracks removed from publication, by PublishDone or by the publisher disconnecting.",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moqrelay_subscriptions_active",
			Help: "Current number of live subscriber attachments across all tracks.",
		}),
		requestsRewritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqrelay_requests_rewritten_total",
			Help: "Total number of request ids the relay rewrote while forwarding toward a publisher.",
		}),
		requestsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqrelay_requests_blocked_total",
			Help: "Total number of requests rejected with RequestsBlocked due to rate limiting.",
		}),
	}
	reg.MustRegister(r.tracksPublished, r.tracksUnpublished, r.subscriptionsActive, r.requestsRewritten, r.requestsBlocked)
	return r
}

func (r *Recorder) TrackPublished()      { r.tracksPublished.Inc() }
func (r *Recorder) TrackUnpublished()    { r.tracksUnpublished.Inc() }
func (r *Recorder) SubscriptionAdded()   { r.subscriptionsActive.Inc() }
func (r *Recorder) SubscriptionRemoved() { r.subscriptionsActive.Dec() }
func (r *Recorder) RequestRewritten()    { r.requestsRewritten.Inc() }
func (r *Recorder) RequestBlocked()      { r.requestsBlocked.Inc() }

// Handler returns the /metrics HTTP handler for this Recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
