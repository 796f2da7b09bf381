package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LocationsRecorded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fango", Name: "rider_locations_recorded_total", Help: "Total rider location records accepted"})
	AssignmentsTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fango", Name: "assignments_total", Help: "Assignments created, by mode"},
		[]string{"mode"},
	)
	AssignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fango", Name: "assignment_conflicts_total", Help: "Assignment attempts rejected by the single-active invariant"})
	MatchLatency        = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fango", Name: "auto_assign_latency_seconds", Help: "Auto-assignment latency seconds"})
	NotifyDropped       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fango", Name: "notify_dropped_total", Help: "Events dropped because a subscriber was full"})
	WSSessions          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fango", Name: "ws_sessions", Help: "Open websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fango", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fango",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
