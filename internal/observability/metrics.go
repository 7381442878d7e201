package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bharat_ride", Name: "pings_total", Help: "Ping requests by terminal outcome"},
		[]string{"outcome"},
	)
	MatchesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bharat_ride", Name: "matches_total", Help: "Total accepted pings"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bharat_ride", Name: "drivers_online", Help: "Number of online drivers"})

	LocationSamples = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bharat_ride", Name: "location_samples_total", Help: "Driver location samples received"})
	DroppedEvents   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bharat_ride", Name: "dropped_events_total", Help: "Inbound events dropped by the relay"},
		[]string{"event", "reason"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bharat_ride", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bharat_ride",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
