package observability

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// PrometheusExporter renders a Registry in the Prometheus text exposition
// format and serves it over HTTP.
type PrometheusExporter struct {
	registry *Registry
}

// NewPrometheusExporter creates an exporter backed by the given registry.
func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric as HELP/TYPE/sample triples.
func (e *PrometheusExporter) Format() string {
	var b strings.Builder
	for _, entry := range e.registry.AllMetrics() {
		if entry.Help != "" {
			b.WriteString("# HELP ")
			b.WriteString(entry.Name)
			b.WriteByte(' ')
			b.WriteString(entry.Help)
			b.WriteByte('\n')
		}
		b.WriteString("# TYPE ")
		b.WriteString(entry.Name)
		b.WriteByte(' ')
		b.WriteString(string(entry.Type))
		b.WriteByte('\n')
		b.WriteString(entry.Name)
		writeLabels(&b, entry.Labels)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(entry.Value, 'g', -1, 64))
		b.WriteString("\n\n")
	}
	return b.String()
}

func writeLabels(b *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(labels[k]))
	}
	b.WriteByte('}')
}
