// Package promobs adapts a controller's Observer interface onto Prometheus
// client metrics, for deployments that scrape rather than poll snapshots.
package promobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements nvmehost.Observer by recording into
// Prometheus counter/histogram/gauge vectors registered under a caller
// supplied namespace.
type PrometheusObserver struct {
	ops       *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewPrometheusObserver creates and registers the vectors with reg. Passing
// a fresh prometheus.NewRegistry() in tests avoids colliding with the
// global default registry.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Total number of I/O operations by type.",
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total bytes transferred by operation type.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of failed operations by type.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_seconds",
			Help:      "Operation latency in seconds by type.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"op"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Most recently observed submission queue depth.",
		}),
	}

	reg.MustRegister(o.ops, o.bytes, o.errors, o.latency, o.queueDepth)
	return o
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.observe("read", bytes, latencyNs, success)
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.observe("write", bytes, latencyNs, success)
}

func (o *PrometheusObserver) ObserveFlush(latencyNs uint64, success bool) {
	o.observe("flush", 0, latencyNs, success)
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

func (o *PrometheusObserver) observe(op string, bytes uint64, latencyNs uint64, success bool) {
	o.ops.WithLabelValues(op).Inc()
	if bytes > 0 {
		o.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	if !success {
		o.errors.WithLabelValues(op).Inc()
	}
	o.latency.WithLabelValues(op).Observe(float64(latencyNs) / 1e9)
}
