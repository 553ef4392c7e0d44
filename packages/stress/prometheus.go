package stress

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives every request outcome of a run.
type Observer interface {
	Observe(target string, duration time.Duration, bytes int64, err error)
}

// PrometheusExporter mirrors a run into Prometheus collectors held in a
// private registry, so several runs in one process never collide.
type PrometheusExporter struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	bytesRead       prometheus.Counter
}

// NewPrometheusExporter registers the run collectors under namespace.
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	e := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests issued by the load run, by target and outcome.",
			},
			[]string{"target", "outcome"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Failed requests by error kind.",
			},
			[]string{"kind"},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency including the body read.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes read.",
		}),
	}

	e.registry.MustRegister(e.requestsTotal, e.failuresTotal, e.durationSeconds, e.bytesRead)
	return e
}

// Observe records one outcome.
func (e *PrometheusExporter) Observe(target string, duration time.Duration, bytes int64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		e.failuresTotal.WithLabelValues(failureKind(err)).Inc()
	}
	e.requestsTotal.WithLabelValues(target, outcome).Inc()
	e.durationSeconds.WithLabelValues(target).Observe(duration.Seconds())
	e.bytesRead.Add(float64(bytes))
}

// Registry exposes the collectors, e.g. for promhttp.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// WriteTextfile writes the collectors in the text exposition format, in the
// shape node_exporter's textfile collector reads.
func (e *PrometheusExporter) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, e.registry)
}
