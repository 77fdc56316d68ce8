package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/objectloader/pkg/deferment"
	"github.com/marmos91/objectloader/pkg/metrics"
	"github.com/marmos91/objectloader/pkg/writebehind"
)

// RegisterManager exposes deferment counters read from m on every scrape.
// No-op when metrics are disabled.
func RegisterManager(m *deferment.Manager) {
	if !metrics.IsEnabled() || m == nil {
		return
	}
	f := promauto.With(metrics.GetRegistry())

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Name:      "deferments_outstanding",
		Help:      "Objects requested but not yet delivered",
	}, func() float64 { return float64(m.Stats().Outstanding) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "deferments_created_total",
		Help:      "Deferments created for previously unknown objects",
	}, func() float64 { return float64(m.Stats().Created) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "deferments_rejected_total",
		Help:      "Deferments failed by a fetch error or disposal",
	}, func() float64 { return float64(m.Stats().Rejected) })
}

// RegisterWriter exposes write-behind producer counters.
func RegisterWriter(w *writebehind.Writer) {
	if !metrics.IsEnabled() || w == nil {
		return
	}
	f := promauto.With(metrics.GetRegistry())

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "writebehind_enqueued_total",
		Help:      "Objects handed to the write-behind queue",
	}, func() float64 { return float64(w.Stats().Written) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "writebehind_dropped_total",
		Help:      "Objects that did not fit in the write-behind queue in time",
	}, func() float64 { return float64(w.Stats().Dropped) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Name:      "writebehind_buffer_used_bytes",
		Help:      "Bytes currently held by the ring buffer",
	}, func() float64 { return float64(w.Stats().Queue.BufferUsed) })
}

// RegisterWorker exposes write-behind consumer counters.
func RegisterWorker(w *writebehind.Worker) {
	if !metrics.IsEnabled() || w == nil {
		return
	}
	f := promauto.With(metrics.GetRegistry())

	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "writebehind_persisted_total",
		Help:      "Objects written to the persistence sink",
	}, func() float64 { return float64(w.Stats().Persisted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "writebehind_failed_total",
		Help:      "Objects in batches the sink rejected",
	}, func() float64 { return float64(w.Stats().Failed) })
}
