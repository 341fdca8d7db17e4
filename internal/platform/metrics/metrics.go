package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the ingestion counters. Each Collector owns its own
// registry so tests can build collectors without clashing on global
// registration.
type Collector struct {
	registry *prometheus.Registry

	FilesIngestedTotal     *prometheus.CounterVec
	RowsProcessedTotal     *prometheus.CounterVec
	RowsWithIssuesTotal    *prometheus.CounterVec
	ValidationEntriesTotal *prometheus.CounterVec
}

func NewCollector(serviceName string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		FilesIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Uploaded files processed, by file kind and outcome.",
		}, []string{"kind", "outcome"}),

		RowsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "rows_processed_total",
			Help:      "Rows seen by the upload engine, by file kind.",
		}, []string{"kind"}),

		RowsWithIssuesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "rows_with_issues_total",
			Help:      "Rows that produced at least one upload issue, by file kind.",
		}, []string{"kind"}),

		ValidationEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "ingest",
			Name:      "validation_entries_total",
			Help:      "Validation findings, by severity.",
		}, []string{"severity"}),
	}
}

// Handler serves this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
