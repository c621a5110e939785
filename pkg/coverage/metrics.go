package coverage

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Table label values.
const (
	tableMethods   = "methods"
	tableEdges     = "edges"
	tableAnnotated = "annotated_edges"
)

// Event label values.
const (
	eventMethodEntry = "method_entry"
	eventCall        = "call"
	eventVirtualCall = "virtual_call"
	eventUnknownSite = "unknown_site"
)

// metrics holds the coverage gauges of one tracker on a private registry so
// several trackers can coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	// total is the size of each loaded table.
	total *prometheus.GaugeVec

	// uncovered is the current size of each residual set.
	uncovered *prometheus.GaugeVec

	// events counts processed runtime events by kind.
	events *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		total: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chacov_table_entries",
			Help: "Number of entries in each loaded coverage table",
		}, []string{"table"}),
		uncovered: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chacov_uncovered_entries",
			Help: "Number of entries not yet covered by the monitored execution",
		}, []string{"table"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chacov_events_total",
			Help: "Runtime events processed by kind",
		}, []string{"kind"}),
	}
}

func (m *metrics) setTotals(methods, edges, annotated int) {
	m.total.WithLabelValues(tableMethods).Set(float64(methods))
	m.total.WithLabelValues(tableEdges).Set(float64(edges))
	m.total.WithLabelValues(tableAnnotated).Set(float64(annotated))
}

func (m *metrics) setUncovered(methods, edges, annotated int) {
	m.uncovered.WithLabelValues(tableMethods).Set(float64(methods))
	m.uncovered.WithLabelValues(tableEdges).Set(float64(edges))
	m.uncovered.WithLabelValues(tableAnnotated).Set(float64(annotated))
}

func (m *metrics) event(kind string) { m.events.WithLabelValues(kind).Inc() }

// Registry exposes the tracker's metrics, for example to serve them over
// HTTP or to gather them in tests.
func (t *Tracker) Registry() *prometheus.Registry { return t.metrics.registry }

// WriteMetrics writes the current gauges to path in the Prometheus text
// exposition format, suitable for the node exporter textfile collector.
func (t *Tracker) WriteMetrics(path string) error {
	t.mu.Lock()
	t.syncGauges()
	t.mu.Unlock()

	if err := prometheus.WriteToTextfile(path, t.metrics.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
