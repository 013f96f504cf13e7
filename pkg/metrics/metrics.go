// Package metrics provides the Prometheus instrumentation for the
// import pipeline and its RabbitMQ result notifications.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects every pipeline metric. One registry per process;
// the import command serves it when a metrics port is configured.
var Registry = prometheus.NewRegistry()

func init() {
	// Runtime and process collectors ride along with the pipeline
	// metrics, mostly for spotting imports that leak goroutines.
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with the pipeline registry.
// Panics on an invalid or duplicated collector.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
