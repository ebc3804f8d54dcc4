package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type StorageMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type BusinessMetrics struct {
	LoansCreatedTotal prometheus.Counter
	PaymentsTotal     *prometheus.CounterVec
	LedgerDriftLoans  prometheus.Gauge
}

var (
	Storage = StorageMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loan_ledger_storage_query_duration_seconds",
				Help:    "Histogram of storage operation latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Business = BusinessMetrics{
		LoansCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loan_ledger_loans_created_total",
				Help: "Total number of loans successfully created.",
			},
		),
		PaymentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_ledger_payments_total",
				Help: "Total number of payment attempts by outcome.",
			},
			[]string{"status"},
		),
		LedgerDriftLoans: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loan_ledger_reconciliation_drift_loans",
				Help: "Loans whose cached amount paid disagreed with their transactions in the last reconciliation run.",
			},
		),
	}
)

func RecordStorageQuery(queryName, status string, duration time.Duration) {
	Storage.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordLoanCreated() {
	Business.LoansCreatedTotal.Inc()
}

func RecordPayment(status string) {
	Business.PaymentsTotal.WithLabelValues(status).Inc()
}

func SetLedgerDrift(count int) {
	Business.LedgerDriftLoans.Set(float64(count))
}
