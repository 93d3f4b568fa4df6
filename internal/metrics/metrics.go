package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow metrics - Track list / resell / buy executions
var (
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_workflows_started_total",
			Help: "Total number of workflow instances started by kind",
		},
		[]string{"kind"},
	)

	WorkflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_workflows_finished_total",
			Help: "Total number of workflow instances finished by kind, outcome and failing stage",
		},
		[]string{"kind", "outcome", "stage"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_workflow_duration_seconds",
			Help:    "Time from workflow start to a terminal state",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	SupersededResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_superseded_results_total",
			Help: "Results of superseded workflow instances that were discarded",
		},
		[]string{"kind"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_reconciliations_total",
			Help: "Chain state re-queries after a confirmation timeout, by result",
		},
		[]string{"kind", "result"},
	)
)

// Storage metrics - Track content-addressed storage traffic
var (
	StorageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_storage_requests_total",
			Help: "Storage service requests by operation and result",
		},
		[]string{"op", "result"},
	)

	StorageUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_storage_upload_bytes_total",
		Help: "Total bytes uploaded to the storage service",
	})
)

// Chain metrics - Track contract transactions
var (
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_transactions_submitted_total",
			Help: "Transactions submitted to the marketplace contract by method",
		},
		[]string{"method"},
	)

	TransactionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_transaction_outcomes_total",
			Help: "Awaited transaction outcomes: confirmed, reverted, timeout",
		},
		[]string{"method", "outcome"},
	)

	ConfirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_confirmation_duration_seconds",
		Help:    "Time spent waiting for a transaction receipt",
		Buckets: prometheus.DefBuckets,
	})
)

// Catalog metrics - Track the cached projection
var (
	CatalogEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketplace_catalog_entries",
			Help: "Number of entries in the current catalog snapshot",
		},
		[]string{"scope"},
	)

	CatalogUnresolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_catalog_unresolved_total",
		Help: "Catalog entries omitted because their metadata could not be resolved",
	})

	CatalogRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_catalog_refresh_duration_seconds",
		Help:    "Time taken to fetch and rebuild a catalog snapshot",
		Buckets: prometheus.DefBuckets,
	})
)

// Session metrics
var (
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketplace_session_state",
			Help: "1 for the current wallet connection state, 0 otherwise",
		},
		[]string{"state"},
	)
)

// SetSessionState flips the session state gauge to the given state
func SetSessionState(current string) {
	for _, state := range []string{"disconnected", "connecting", "connected", "error"} {
		if state == current {
			SessionState.WithLabelValues(state).Set(1)
		} else {
			SessionState.WithLabelValues(state).Set(0)
		}
	}
}
