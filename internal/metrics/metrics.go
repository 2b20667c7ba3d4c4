package metrics

import (
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// IncIngested counts one accepted inbound alert.
// Params: originating service name.
// Returns: counter incremented.
func IncIngested(service string) {
	counter("klaxer_alerts_ingested_total", service).Inc()
}

// IncDropped counts one alert suppressed by exclusion or session filters.
// Params: originating service name.
// Returns: counter incremented.
func IncDropped(service string) {
	counter("klaxer_alerts_dropped_total", service).Inc()
}

// IncDelivered counts one alert posted to the chat destination.
// Params: originating service name.
// Returns: counter incremented.
func IncDelivered(service string) {
	counter("klaxer_alerts_delivered_total", service).Inc()
}

// IncDebounced counts one alert collapsed into an existing counter message.
// Params: originating service name.
// Returns: counter incremented.
func IncDebounced(service string) {
	counter("klaxer_alerts_debounced_total", service).Inc()
}

// IncDeliveryFailure counts one failed chat-sink delivery.
// Params: originating service name.
// Returns: counter incremented.
func IncDeliveryFailure(service string) {
	counter("klaxer_delivery_failures_total", service).Inc()
}

// counter resolves a service-labeled counter in the default metrics set.
// Params: metric name and service label value.
// Returns: shared counter instance.
func counter(name, service string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`%s{service=%q}`, name, service))
}

// Handler exposes the process metrics in Prometheus text format.
// Params: none.
// Returns: HTTP handler for the metrics path.
func Handler() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(writer, true)
	})
}
