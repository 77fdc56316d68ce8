package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/objectloader/pkg/loader"
	"github.com/marmos91/objectloader/pkg/metrics"
)

// loaderMetrics is the Prometheus implementation of loader.Metrics.
type loaderMetrics struct {
	requests  *prometheus.CounterVec
	delivered *prometheus.CounterVec
	missing   prometheus.Counter
	refetches *prometheus.CounterVec
}

// NewLoaderMetrics returns nil if metrics are not enabled.
func NewLoaderMetrics() loader.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &loaderMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "loader_requests_total",
				Help:      "Object requests by how they were satisfied",
			},
			[]string{"source"}, // "cache", "shared", "store", "download"
		),
		delivered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "loader_objects_delivered_total",
				Help:      "Objects that arrived from each source",
			},
			[]string{"source"},
		),
		missing: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "loader_objects_missing_total",
				Help:      "Objects no source could deliver",
			},
		),
		refetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "loader_evictions_total",
				Help:      "Evicted objects by whether they were requested again",
			},
			[]string{"refetched"}, // "true", "false"
		),
	}
}

func (m *loaderMetrics) ObserveRequest(source string) {
	m.requests.WithLabelValues(source).Inc()
}

func (m *loaderMetrics) ObserveDelivered(source string, n int) {
	m.delivered.WithLabelValues(source).Add(float64(n))
}

func (m *loaderMetrics) ObserveMissing(n int) {
	m.missing.Add(float64(n))
}

func (m *loaderMetrics) ObserveRefetch(requested bool) {
	label := "false"
	if requested {
		label = "true"
	}
	m.refetches.WithLabelValues(label).Inc()
}
