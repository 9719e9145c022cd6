package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_total", Help: "Offers resolved, by outcome"},
		[]string{"outcome"},
	)
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_created_total", Help: "Offers sent to drivers"})
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Requests matched to a driver"})
	ExpirationsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "expirations_total", Help: "Requests expired without a driver"})
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cancellations_total", Help: "Requests cancelled by riders"})
	NoDriverRetries    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "no_driver_retries_total", Help: "Dispatch attempts that found no candidate"})
	StateConflicts     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "state_conflicts_total", Help: "Compare-and-set conflicts absorbed by the coordinator"},
		[]string{"entity"},
	)
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time from request creation to match",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	QueueDepth     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "queue_depth", Help: "Pending ride requests"})
	IndexedDrivers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "indexed_drivers", Help: "Drivers present in the geospatial index"})

	LocationUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location pings, by result"},
		[]string{"result"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notifications delivered, by channel and result"},
		[]string{"channel", "result"},
	)
	ETALookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "eta_lookups_total", Help: "ETA lookups, by source and result"},
		[]string{"source", "result"},
	)
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ingest_messages_total", Help: "Location messages consumed, by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
