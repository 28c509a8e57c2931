package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cipherroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Message metrics
	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_messages_created_total",
			Help: "Total messages accepted and stored",
		},
		[]string{"backend"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_messages_rejected_total",
			Help: "Total messages rejected before storage",
		},
		[]string{"reason"}, // "room", "too_large", "malformed"
	)

	SaveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_save_failures_total",
			Help: "Total message writes that failed",
		},
		[]string{"backend"},
	)

	CorruptRecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_corrupt_records_skipped_total",
			Help: "Stored records skipped on load because they failed to decode",
		},
		[]string{"backend"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cipherroom_store_latency_seconds",
			Help:    "Message repository operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"backend", "op"},
	)

	// Sweeper metrics
	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_sweeps_total",
			Help: "Total expiration sweeps run",
		},
	)

	RecordsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_records_expired_total",
			Help: "Total records removed by the expiration sweeper",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_sweep_failures_total",
			Help: "Total enumeration or removal failures during sweeps",
		},
	)

	SweepDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cipherroom_last_sweep_duration_seconds",
			Help: "Duration of the most recent sweep",
		},
	)

	// Live feed metrics
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cipherroom_live_subscribers",
			Help: "Currently connected live feed subscribers",
		},
	)

	LiveDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_live_dropped_total",
			Help: "Live feed deliveries dropped for slow subscribers",
		},
	)

	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_events_published_total",
			Help: "Message events delivered to the event stream",
		},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherroom_event_publish_failures_total",
			Help: "Message events the event stream rejected",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherroom_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
