// Package metrics exposes the runtime's counters in Prometheus format.
// The scheduler keeps its counters as plain atomics; the collector here
// converts a point-in-time snapshot into metrics on every scrape, so
// the hot path never touches a Prometheus primitive.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coproc-io/coproc/internal/domain"
)

var (
	descMessagesPut = prometheus.NewDesc(
		"coproc_messages_put_total",
		"Total messages enqueued on channels",
		nil, nil,
	)
	descMessagesDelivered = prometheus.NewDesc(
		"coproc_messages_delivered_total",
		"Total messages delivered to instances",
		nil, nil,
	)
	descSteps = prometheus.NewDesc(
		"coproc_steps_total",
		"Total cooperative steps executed",
		nil, nil,
	)
	descScriptErrors = prometheus.NewDesc(
		"coproc_script_errors_total",
		"Total scripted errors recovered by the dispatch loop",
		nil, nil,
	)
	descHandlerErrors = prometheus.NewDesc(
		"coproc_handler_errors_total",
		"Total error-handler failures",
		nil, nil,
	)
	descInstancesSpawned = prometheus.NewDesc(
		"coproc_instances_spawned_total",
		"Total instances created",
		nil, nil,
	)
	descInstancesDied = prometheus.NewDesc(
		"coproc_instances_died_total",
		"Total instances destroyed",
		nil, nil,
	)
	descActiveWorkers = prometheus.NewDesc(
		"coproc_active_workers",
		"Current number of live worker threads",
		nil, nil,
	)
	descAvgStepMs = prometheus.NewDesc(
		"coproc_step_duration_avg_ms",
		"Average cooperative step duration in milliseconds",
		nil, nil,
	)
	descReadyDepth = prometheus.NewDesc(
		"coproc_ready_queue_depth",
		"Instances waiting on ready queues",
		nil, nil,
	)
)

// Collector adapts domain.Metrics to prometheus.Collector.
type Collector struct {
	metrics *domain.Metrics

	// readyDepth reports the aggregate ready-queue depth; nil disables
	// the gauge.
	readyDepth func() int
}

// NewCollector creates a collector over m. readyDepth may be nil.
func NewCollector(m *domain.Metrics, readyDepth func() int) *Collector {
	return &Collector{metrics: m, readyDepth: readyDepth}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descMessagesPut
	ch <- descMessagesDelivered
	ch <- descSteps
	ch <- descScriptErrors
	ch <- descHandlerErrors
	ch <- descInstancesSpawned
	ch <- descInstancesDied
	ch <- descActiveWorkers
	ch <- descAvgStepMs
	ch <- descReadyDepth
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	ch <- prometheus.MustNewConstMetric(descMessagesPut, prometheus.CounterValue, float64(s.MessagesPut))
	ch <- prometheus.MustNewConstMetric(descMessagesDelivered, prometheus.CounterValue, float64(s.MessagesDelivered))
	ch <- prometheus.MustNewConstMetric(descSteps, prometheus.CounterValue, float64(s.StepsExecuted))
	ch <- prometheus.MustNewConstMetric(descScriptErrors, prometheus.CounterValue, float64(s.ScriptErrors))
	ch <- prometheus.MustNewConstMetric(descHandlerErrors, prometheus.CounterValue, float64(s.HandlerErrors))
	ch <- prometheus.MustNewConstMetric(descInstancesSpawned, prometheus.CounterValue, float64(s.InstancesSpawned))
	ch <- prometheus.MustNewConstMetric(descInstancesDied, prometheus.CounterValue, float64(s.InstancesDied))
	ch <- prometheus.MustNewConstMetric(descActiveWorkers, prometheus.GaugeValue, float64(s.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(descAvgStepMs, prometheus.GaugeValue, s.AvgStepTimeMs)
	if c.readyDepth != nil {
		ch <- prometheus.MustNewConstMetric(descReadyDepth, prometheus.GaugeValue, float64(c.readyDepth()))
	}
}

// NewRegistry builds a registry holding only the given collector.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
