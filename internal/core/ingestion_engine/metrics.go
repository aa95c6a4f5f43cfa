package ingestion_engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markdave123-py/pdfindex/internal/core"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	ingestions     *prometheus.CounterVec
	duration       prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	fragmentsTotal prometheus.Histogram
	queueDepth     prometheus.GaugeFunc
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pdfindex",
			Name:      "ingestions_total",
			Help:      "Ingestions by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfindex",
			Name:      "ingestion_duration_seconds",
			Help:      "End to end ingestion latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pdfindex",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		fragmentsTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pdfindex",
			Name:      "fragments_per_document",
			Help:      "Fragments produced per ingested document.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
	reg.MustRegister(m.ingestions, m.duration, m.stageDuration, m.fragmentsTotal)
	return m
}

// RegisterQueueDepth exposes the current number of queued jobs.
func (m *Metrics) RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	if m == nil {
		return
	}
	m.queueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pdfindex",
		Name:      "queue_depth",
		Help:      "Ingestions waiting for a worker.",
	}, func() float64 { return float64(depth()) })
	reg.MustRegister(m.queueDepth)
}

func (m *Metrics) timeStage(stage string, fn func() error) error {
	if m == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}

func (m *Metrics) observeFragments(n int) {
	if m == nil {
		return
	}
	m.fragmentsTotal.Observe(float64(n))
}

func (m *Metrics) observeIngestion(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.ingestions.WithLabelValues("failed", core.StageOf(err)).Inc()
		return
	}
	m.ingestions.WithLabelValues("ready", "").Inc()
	m.duration.Observe(elapsed.Seconds())
}
