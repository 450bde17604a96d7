package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	MigrationsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_runs_started_total", Help: "Migration runs started"})
	MigrationsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_runs_completed_total", Help: "Migration runs completed without row errors"})
	MigrationsWithError = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_runs_with_errors_total", Help: "Migration runs completed with row errors"})
	RowsMigrated        = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_rows_migrated_total", Help: "Source rows successfully loaded"})
	RowsFailed          = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_rows_failed_total", Help: "Source rows that failed validation or load"})
	RetriesQueued       = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_retries_queued_total", Help: "Batch operations queued for retry"})
	RetriesExhausted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_retries_exhausted_total", Help: "Retry items that ran out of attempts"})
	DuplicatesFound     = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_duplicates_found_total", Help: "Duplicate candidate pairs surfaced"})
	SnapshotsCreated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_snapshots_created_total", Help: "Snapshots captured"})
	RollbacksTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_rollbacks_total", Help: "Snapshot rollbacks executed"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_rate_limit_rejects_total", Help: "API requests rejected by rate limiter"})
	WorkItemsClaimed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "migration_work_items_claimed_total", Help: "Work items claimed by workers"})
	WorkersActiveGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "migration_workers_active", Help: "Workers currently processing"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			MigrationsStarted,
			MigrationsCompleted,
			MigrationsWithError,
			RowsMigrated,
			RowsFailed,
			RetriesQueued,
			RetriesExhausted,
			DuplicatesFound,
			SnapshotsCreated,
			RollbacksTotal,
			RateLimitRejects,
			WorkItemsClaimed,
			WorkersActiveGauge,
		)
	})
	return promhttp.Handler()
}
