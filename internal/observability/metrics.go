package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "booking_engine"

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Booking status transitions applied by sessions"},
		[]string{"from", "to"},
	)
	InvalidTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "invalid_transitions_total", Help: "Rejected booking status transitions"})
	DuplicateSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "duplicate_snapshots_total", Help: "Snapshots that carried an unchanged status"})
	DroppedSnapshotsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dropped_snapshots_total", Help: "Stale snapshots replaced before a session applied them"})

	ActiveSessions    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_sessions", Help: "Open booking sessions"})
	OpenSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "open_subscriptions", Help: "Live feed subscriptions held by sessions"})
	SessionEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "session_evictions_total", Help: "Sessions closed by the sweeper, by reason"},
		[]string{"reason"},
	)

	LocationSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_total", Help: "Worker location samples applied"})
	LocationPollsTotal   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_polls_total", Help: "Fallback location polls by result"},
		[]string{"result"},
	)

	PricingComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "pricing_computations_total", Help: "Final pricing computations by pricing type"},
		[]string{"type"},
	)
	PricingFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pricing_fallbacks_total", Help: "Pricing computations that fell back to the booking estimate"})

	TimerStartRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "timer_start_retries_total", Help: "Job timer start retries after a missing start time"})
	TimerRecoveriesTotal   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "timer_recoveries_total", Help: "Job timers started late, by recovery path"},
		[]string{"path"},
	)

	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "kafka_messages_total", Help: "Location messages consumed by result"},
		[]string{"result"},
	)
	RedisWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "redis_write_errors_total", Help: "Failed redis location writes"})
	NotificationsTotal    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Show-message notifications by result"},
		[]string{"result"},
	)
	GeocodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_failures_total", Help: "Reverse geocode failures that fell back to coordinates"})

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
