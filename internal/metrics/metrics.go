package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PresenceWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_writes_total",
			Help: "Merge-writes against the presence store.",
		},
		[]string{"backend", "result"},
	)

	PublishAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_publish_attempts_total",
			Help: "Publish attempts made by the presence publisher, including retries.",
		},
		[]string{"kind", "result"},
	)

	PartnerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_events_total",
			Help: "Partner presence snapshots received, by outcome.",
		},
		[]string{"outcome"},
	)

	SubscriptionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partner_subscription_failures_total",
			Help: "Partner presence subscriptions that failed or dropped.",
		},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_stream_connections",
			Help: "Open websocket presence streams.",
		},
	)
)

// MustRegister registers the collectors with the default registry.
func MustRegister() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		PresenceWritesTotal,
		PublishAttemptsTotal,
		PartnerEventsTotal,
		SubscriptionFailuresTotal,
		ActiveStreams,
	)
}
