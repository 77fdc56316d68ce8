package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/objectloader/pkg/batching"
	"github.com/marmos91/objectloader/pkg/metrics"
)

// batchingMetrics is the Prometheus implementation of batching.Metrics.
type batchingMetrics struct {
	batches  *prometheus.CounterVec
	items    *prometheus.HistogramVec
	duration *prometheus.HistogramVec
	interval *prometheus.GaugeVec
}

// NewBatchingMetrics returns nil if metrics are not enabled. One instance
// serves every queue; the queue name is a label.
func NewBatchingMetrics() batching.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &batchingMetrics{
		batches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "batch_operations_total",
				Help:      "Processed batches by queue and status",
			},
			[]string{"queue", "status"}, // status: "success", "error"
		),
		items: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "batch_size_items",
				Help:      "Items per processed batch",
				Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"queue"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Name:      "batch_duration_milliseconds",
				Help:      "Time spent processing one batch",
				Buckets: []float64{
					1,    // 1ms - in-memory sinks
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms - local database round trip
					100,  // 100ms
					500,  // 500ms - remote fetch
					1000, // 1s
					5000, // 5s - retried fetch
				},
			},
			[]string{"queue"},
		),
		interval: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "batch_interval_milliseconds",
				Help:      "Current adaptive interval between drain cycles",
			},
			[]string{"queue"},
		),
	}
}

func (m *batchingMetrics) ObserveBatch(queue string, size int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.batches.WithLabelValues(queue, status).Inc()
	m.items.WithLabelValues(queue).Observe(float64(size))
	m.duration.WithLabelValues(queue).Observe(float64(d.Microseconds()) / 1000)
}

func (m *batchingMetrics) RecordInterval(queue string, d time.Duration) {
	m.interval.WithLabelValues(queue).Set(float64(d.Microseconds()) / 1000)
}
