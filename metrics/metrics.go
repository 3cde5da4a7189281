// Package metrics exposes registry dispatch and setup outcomes as Prometheus
// metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/registry"
)

const (
	subsystem = "registry"

	// CodeOK labels successful calls.
	CodeOK = "OK"
)

// Metrics is a registry.Recorder backed by Prometheus collectors.
type Metrics struct {
	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	setupFailures *prometheus.CounterVec
}

var _ registry.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg. Metric names are
// prefixed with namespace when it is not empty.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "calls_total",
				Help:      "Count of plugin calls by registry, item and result code.",
			},
			[]string{"registry", "item", "code"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "call_duration_seconds",
				Help:      "Plugin call latency in seconds, for calls that reached a plugin.",
				Buckets: []float64{
					0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
				},
			},
			[]string{"registry", "item"},
		),
		setupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "setup_failures_total",
				Help:      "Count of items pruned because their SetUp failed.",
			},
			[]string{"registry", "item"},
		),
	}

	for _, c := range []prometheus.Collector{m.calls, m.callDuration, m.setupFailures} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	return m, nil
}

// RecordCall counts one call. Calls rejected before reaching a plugin (unknown
// registry or item) are counted but not timed, and the unknown name is not
// used as a label so callers cannot create series at will.
func (m *Metrics) RecordCall(registryName, item string, err error, elapsed time.Duration) {
	code := CodeOK
	if err != nil {
		code = string(errors.Code(err))
	}

	switch {
	case errors.Is(err, errors.ErrCodeRegistryNotFound):
		m.calls.WithLabelValues("", "", code).Inc()
		return
	case errors.Is(err, errors.ErrCodeItemNotFound):
		m.calls.WithLabelValues(registryName, "", code).Inc()
		return
	}

	m.calls.WithLabelValues(registryName, item, code).Inc()
	m.callDuration.WithLabelValues(registryName, item).Observe(elapsed.Seconds())
}

// RecordSetUpFailure counts one pruned item.
func (m *Metrics) RecordSetUpFailure(registryName, item string) {
	m.setupFailures.WithLabelValues(registryName, item).Inc()
}
