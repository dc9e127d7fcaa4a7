package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var IngestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "linglongta_ingest_runs_total",
	Help: "Number of ingest runs by final status",
}, []string{"status"})

var IngestRecordsStored = promauto.NewCounter(prometheus.CounterOpts{
	Name: "linglongta_ingest_records_stored_total",
	Help: "Number of CVE records upserted by ingest runs",
})

var IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "linglongta_ingest_duration_seconds",
	Help:    "Duration of ingest runs in seconds",
	Buckets: prometheus.DefBuckets,
})

var QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "linglongta_query_duration_seconds",
	Help:    "Duration of record store queries in seconds",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})

var StoredRecords = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "linglongta_stored_records",
	Help: "Number of CVE records currently stored",
})
