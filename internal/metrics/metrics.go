// Package metrics defines the Prometheus instruments for an enrichment run.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "citation_enricher"

var (
	// SubjectsTotal counts finalized subjects.
	// Labels: outcome (matched, unmatched, failed)
	SubjectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "subjects_total",
		Help:      "Subjects finalized by outcome",
	}, []string{"outcome"})

	// SubjectsSkipped counts subjects skipped because the ledger had them.
	SubjectsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "subjects_skipped_total",
		Help:      "Subjects skipped as already done",
	})

	// SubjectDuration measures wall time per subject, cache hits included.
	SubjectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "subject_duration_seconds",
		Help:      "Time to enrich one subject",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// CompetitorCitations counts matched citing patents per competitor.
	CompetitorCitations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "competitor_citations_total",
		Help:      "Citing patents matched to each competitor",
	}, []string{"competitor"})

	// ChunksWritten counts output chunk files.
	ChunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "chunks_written_total",
		Help:      "Result chunks flushed to disk",
	})

	// Requests counts upstream HTTP responses.
	// Labels: endpoint, code
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Upstream HTTP responses by endpoint and status code",
	}, []string{"endpoint", "code"})

	// RequestDuration measures upstream round trips.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Upstream request latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	// LimiterWait measures time spent blocked in the rate limiter.
	LimiterWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "limiter_wait_seconds",
		Help:      "Time callers waited for a rate limiter grant",
		Buckets:   []float64{0, 0.1, 0.5, 1, 1.5, 2, 5, 10},
	})

	// Throttles counts 429 responses that triggered a cooldown.
	Throttles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "throttles_total",
		Help:      "429 responses answered with a cooldown",
	}, []string{"endpoint"})

	// CacheLookups counts response cache lookups.
	// Labels: endpoint, result (hit, miss)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Response cache lookups by result",
	}, []string{"endpoint", "result"})
)

// ObserveSubject records one finalized subject.
func ObserveSubject(outcome string, elapsed time.Duration) {
	SubjectsTotal.WithLabelValues(outcome).Inc()
	SubjectDuration.Observe(elapsed.Seconds())
}

// ObserveRequest records one upstream response.
func ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	Requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// CacheHit and CacheMiss match the cache.Fetcher hook signatures.
func CacheHit(endpoint string)  { CacheLookups.WithLabelValues(endpoint, "hit").Inc() }
func CacheMiss(endpoint string) { CacheLookups.WithLabelValues(endpoint, "miss").Inc() }
