package chainexport

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	positionsExported = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chainexport_positions_exported_total", Help: "Range positions fully exported"},
		[]string{"chain"},
	)
	recordsExported = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chainexport_records_exported_total", Help: "Records handed to the sink"},
		[]string{"chain", "type"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "chainexport_fetch_duration_seconds", Help: "Fetch and transform latency per batch", Buckets: prometheus.DefBuckets},
		[]string{"chain", "mode"},
	)
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chainexport_job_runs_total", Help: "Range export runs by outcome"},
		[]string{"chain", "status"},
	)
)

func init() {
	prometheus.MustRegister(positionsExported, recordsExported, fetchDuration, jobRuns)
}
