// Package prometheus implements the component metrics interfaces on top of
// the shared registry.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/objectloader/pkg/cache"
	"github.com/marmos91/objectloader/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	lookups   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	bytes     prometheus.Gauge
	entries   prometheus.Gauge
}

// NewCacheMetrics returns nil if metrics are not enabled.
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
		evictions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Name:      "cache_evictions_total",
				Help:      "Entries removed from the cache by reason",
			},
			[]string{"reason"}, // "size", "ttl"
		),
		bytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "cache_size_bytes",
				Help:      "Approximate resident size of cached objects",
			},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Name:      "cache_entries",
				Help:      "Number of cached objects",
			},
		),
	}
}

func (m *cacheMetrics) ObserveHit() {
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *cacheMetrics) ObserveMiss() {
	m.lookups.WithLabelValues("miss").Inc()
}

func (m *cacheMetrics) RecordEviction(reason cache.EvictionReason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}

func (m *cacheMetrics) RecordSize(bytes int64, entries int) {
	m.bytes.Set(float64(bytes))
	m.entries.Set(float64(entries))
}
