package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/pluginkit/registry"
)

type directoryCollector struct {
	dir   *registry.Directory
	items *prometheus.Desc
	auto  *prometheus.Desc
}

var _ prometheus.Collector = &directoryCollector{}

// NewDirectoryCollector exposes the live item count and auto-setup state of
// every registry in dir. Values are read at scrape time.
func NewDirectoryCollector(dir *registry.Directory, namespace string) prometheus.Collector {
	return &directoryCollector{
		dir: dir,
		items: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "items"),
			"Number of items currently present in each registry.",
			[]string{"registry"}, nil,
		),
		auto: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "auto_setup"),
			"Whether SetUp initializes the registry's items (1) or skips it (0).",
			[]string{"registry"}, nil,
		),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *directoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.auto
}

// Collect implements the prometheus.Collector interface.
func (c *directoryCollector) Collect(ch chan<- prometheus.Metric) {
	for name, container := range c.dir.All() {
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(container.Count()), name)

		auto := 0.0
		if container.AutoSetup() {
			auto = 1
		}
		ch <- prometheus.MustNewConstMetric(c.auto, prometheus.GaugeValue, auto, name)
	}
}
