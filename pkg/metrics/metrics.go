// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks reconciliation runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "run",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by status",
		},
		[]string{"tenant_id", "status"},
	)

	// RunDuration tracks reconciliation run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"tenant_id"},
	)

	// RunSkippedPairs tracks pairings skipped because of a scoring error
	RunSkippedPairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "run",
			Name:      "skipped_pairs_total",
			Help:      "Total number of pairings skipped due to scoring errors",
		},
		[]string{"tenant_id"},
	)

	// CandidatesPending tracks the pending candidate count per tier after the latest run of a dataset
	CandidatesPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "candidates",
			Name:      "pending",
			Help:      "Number of pending candidates by tier after the latest run",
		},
		[]string{"tenant_id", "dataset_id", "tier"},
	)

	// MatchesCreated tracks created matches by method
	MatchesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matches",
			Name:      "created_total",
			Help:      "Total number of matches created by method",
		},
		[]string{"tenant_id", "method"},
	)

	// MatchesRemoved tracks unmatch operations
	MatchesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matches",
			Name:      "removed_total",
			Help:      "Total number of matches removed",
		},
		[]string{"tenant_id"},
	)

	// CandidatesRejected tracks rejected candidates
	CandidatesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "candidates",
			Name:      "rejected_total",
			Help:      "Total number of rejected candidates",
		},
		[]string{"tenant_id"},
	)

	// ConflictsTotal tracks optimistic-concurrency conflicts by operation
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Total number of conflicts by operation",
		},
		[]string{"operation"},
	)
)

// RecordRun records a finished reconciliation run
func RecordRun(tenantID, status string, durationSeconds float64, skippedPairs int) {
	RunsTotal.WithLabelValues(tenantID, status).Inc()
	RunDuration.WithLabelValues(tenantID).Observe(durationSeconds)
	if skippedPairs > 0 {
		RunSkippedPairs.WithLabelValues(tenantID).Add(float64(skippedPairs))
	}
}

// RecordPending replaces the pending candidate gauges of a dataset
func RecordPending(tenantID, datasetID string, byTier map[string]int, tiers []string) {
	for _, tier := range tiers {
		CandidatesPending.WithLabelValues(tenantID, datasetID, tier).Set(float64(byTier[tier]))
	}
}

// RecordMatchCreated records created matches
func RecordMatchCreated(tenantID, method string, count int) {
	MatchesCreated.WithLabelValues(tenantID, method).Add(float64(count))
}

// RecordMatchRemoved records an unmatch
func RecordMatchRemoved(tenantID string) {
	MatchesRemoved.WithLabelValues(tenantID).Inc()
}

// RecordRejection records a rejected candidate
func RecordRejection(tenantID string) {
	CandidatesRejected.WithLabelValues(tenantID).Inc()
}

// RecordConflict records a conflict on an operation
func RecordConflict(operation string) {
	ConflictsTotal.WithLabelValues(operation).Inc()
}
