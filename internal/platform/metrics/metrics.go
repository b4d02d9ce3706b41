package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the issuer.
type Metrics struct {
	CredentialsIssued    *prometheus.CounterVec
	IssuanceFailures     *prometheus.CounterVec
	IndicesAssigned      prometheus.Counter
	StatusListsCreated   prometheus.Counter
	Revocations          prometheus.Counter
	ConsolidationRuns    prometheus.Counter
	ConsolidationErrors  prometheus.Counter
	ConsolidationSeconds prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CredentialsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_credentials_issued_total",
			Help: "Total credentials issued, by format",
		}, []string{"format"}),
		IssuanceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_issuance_failures_total",
			Help: "Total failed issuance requests, by error code",
		}, []string{"code"}),
		IndicesAssigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_status_list_indices_assigned_total",
			Help: "Total status list indices handed out",
		}),
		StatusListsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_status_lists_created_total",
			Help: "Total status list credentials created",
		}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_revocations_total",
			Help: "Total synchronous revocation operations",
		}),
		ConsolidationRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_consolidation_runs_total",
			Help: "Total consolidation job executions",
		}),
		ConsolidationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_consolidation_list_errors_total",
			Help: "Status lists that failed during a consolidation run",
		}),
		ConsolidationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attest_consolidation_duration_seconds",
			Help:    "Wall time of consolidation runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
