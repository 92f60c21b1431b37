package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrgateway_requests_total",
			Help: "Total number of resolve requests processed",
		},
		[]string{"status"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qrgateway_request_duration_seconds",
			Help:    "Resolve request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrgateway_rate_limit_hits_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qrgateway_resolutions_total",
			Help: "Total number of resolutions by outcome",
		},
		[]string{"outcome"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrgateway_cache_hits_total",
			Help: "Total number of record cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrgateway_cache_misses_total",
			Help: "Total number of record cache misses",
		},
	)

	IntegrityAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrgateway_integrity_anomalies_total",
			Help: "Total number of duplicate-qrId anomalies observed at read time",
		},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qrgateway_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the publisher was saturated",
		},
	)
)

func RecordRequest(status string, durationSec float64) {
	RequestsTotal.WithLabelValues(status).Inc()
	RequestDuration.Observe(durationSec)
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}

func RecordResolution(outcome string) {
	ResolutionsTotal.WithLabelValues(outcome).Inc()
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordIntegrityAnomaly() {
	IntegrityAnomalies.Inc()
}

func RecordAuditEventDropped() {
	AuditEventsDropped.Inc()
}
