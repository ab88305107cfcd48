package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmaku_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "danmaku_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "danmaku_active_connections",
			Help: "Open WebSocket connections on this process",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "danmaku_active_rooms",
			Help: "Videos with at least one local viewer",
		},
	)

	// Ingest metrics
	DanmakuSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmaku_submitted_total",
			Help: "Submit attempts by outcome",
		},
		[]string{"result"}, // ok, validation, forbidden, store_unavailable
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmaku_publish_failures_total",
			Help: "Bridge publish failures that fell back to local delivery",
		},
		[]string{"reason"}, // error, queue_full, local_full, closed
	)

	SubscribeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_subscribe_failures_total",
			Help: "Failed bridge subscribe attempts, retried until the room empties",
		},
	)

	// Delivery metrics
	Delivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_delivered_total",
			Help: "Messages handed to local connections",
		},
	)

	DeliveryTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_delivery_timeouts_total",
			Help: "Delivery attempts that exceeded the per-connection timeout",
		},
	)

	SlowConsumersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_slow_consumers_evicted_total",
			Help: "Connections removed after repeated delivery timeouts",
		},
	)

	BridgeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_bridge_dropped_total",
			Help: "Bridge events dropped because a room queue was full",
		},
	)

	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "danmaku_fanout_duration_seconds",
			Help:    "Time to fan one message out to a local room",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// Enrichment metrics
	ScoresAttached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmaku_scores_attached_total",
			Help: "Scores written back by the enrichment callback",
		},
	)

	EnrichJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmaku_enrich_jobs_total",
			Help: "Enrichment jobs by outcome",
		},
		[]string{"result"}, // enqueued, enqueue_failed, scored, score_failed
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "danmaku_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"driver", "op"},
	)
)
