package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seokkiyoon07-sys/exam-data-manager-sub000/models"
)

// Metrics counts ingestion results. A nil *Metrics records nothing.
type Metrics struct {
	recordsTotal  *prometheus.CounterVec
	batchesTotal  *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

// NewMetrics creates the ingestion collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exam_import",
				Name:      "records_total",
				Help:      "Records processed by ingestion, by result",
			},
			[]string{"result"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exam_import",
				Name:      "batches_total",
				Help:      "Batches processed by ingestion, by status",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exam_import",
				Name:      "batch_duration_seconds",
				Help:      "Time spent reconciling and writing one batch",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.recordsTotal, m.batchesTotal, m.batchDuration)
	}
	return m
}

func (m *Metrics) observeBatch(r batchResult, d time.Duration) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues("created").Add(float64(r.created))
	m.recordsTotal.WithLabelValues("updated").Add(float64(r.updated))
	m.recordsTotal.WithLabelValues("skipped").Add(float64(r.skipped - r.conflicts))
	m.recordsTotal.WithLabelValues("conflict").Add(float64(r.conflicts))
	m.recordsTotal.WithLabelValues("failed").Add(float64(r.failed))

	status := "ok"
	for _, e := range r.errors {
		if e.Kind == models.ErrorKindBatch {
			status = "fatal"
			break
		}
	}
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) observeParseFailures(n int) {
	if m == nil || n == 0 {
		return
	}
	m.recordsTotal.WithLabelValues("parse_failed").Add(float64(n))
}
