package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ar_engine_runs_total",
		Help: "Completed engine runs by terminal status.",
	}, []string{"status"})

	metricTransactionsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_engine_transactions_processed_total",
		Help: "Unified ledger transactions processed across all runs.",
	})

	metricRowsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ar_engine_rows_rejected_total",
		Help: "Source rows rejected during unification, by reason.",
	}, []string{"reason"})

	metricSnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ar_engine_snapshots_written_total",
		Help: "Aging snapshots upserted across all runs.",
	})

	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ar_engine_run_duration_seconds",
		Help:    "Wall-clock duration of engine runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func recordRunMetrics(rs *RunSummary) {
	metricRunsTotal.WithLabelValues(string(rs.Status)).Inc()
	metricTransactionsProcessed.Add(float64(rs.TransactionsProcessed))
	metricSnapshotsWritten.Add(float64(rs.SnapshotsWritten))
	for reason, n := range rs.RejectsByReason {
		metricRowsRejected.WithLabelValues(string(reason)).Add(float64(n))
	}
	metricRunDuration.Observe(rs.FinishedAt.Sub(rs.StartedAt).Seconds())
}
