package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes counters and socket request totals to Prometheus. Values
// are read from the source on every scrape.
type Collector struct {
	source  Source
	counter *prometheus.Desc
	served  *prometheus.Desc
	failed  *prometheus.Desc
}

// NewCollector returns a collector reading from source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		counter: prometheus.NewDesc(
			"statsock_counter",
			"Current value of a stats counter.",
			[]string{"key"}, nil,
		),
		served: prometheus.NewDesc(
			"statsock_requests_served_total",
			"Socket requests answered with error=0.",
			nil, nil,
		),
		failed: prometheus.NewDesc(
			"statsock_requests_failed_total",
			"Socket requests answered with error=1 or not answered.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counter
	ch <- c.served
	ch <- c.failed
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for key, value := range c.source.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.counter, prometheus.GaugeValue, float64(value), key)
	}

	status := c.source.Status()
	ch <- prometheus.MustNewConstMetric(c.served, prometheus.CounterValue, float64(status.Served))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(status.Failed))
}
