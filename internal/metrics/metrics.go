// Package metrics registers the coordinator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execution_plane_jobs_enqueued_total",
		Help: "Execution requests accepted and enqueued.",
	})

	JobsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_plane_jobs_settled_total",
		Help: "Settled executions by outcome.",
	}, []string{"outcome", "error_kind"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_plane_artifact_cache_lookups_total",
		Help: "Artifact cache lookups by result.",
	}, []string{"result"})

	CacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "execution_plane_artifact_cache_bytes",
		Help: "Total bytes held by the artifact cache.",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "execution_plane_settlement_seconds",
		Help:    "Time from enqueue to settlement.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	WorkersAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execution_plane_workers_admitted_total",
		Help: "Workers admitted through the attestation gate.",
	})

	AttestationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execution_plane_attestation_rejections_total",
		Help: "Worker attestations rejected.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "execution_plane_requests_rate_limited_total",
		Help: "Requests rejected by the per-key rate limiter.",
	})
)
