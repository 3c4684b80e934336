package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// GaugeFunc reports a point-in-time value, e.g. the number of connected users.
type GaugeFunc func() int

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All counters are exported as one metric family with an `event` label.
// Gauges are exported as their own families.
func PrometheusHandler(m *Metrics, gauges map[string]GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP flight_signaling_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE flight_signaling_events_total counter")
		escape := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "flight_signaling_events_total{event=\"%s\"} %d\n", escape.Replace(k), snap[k])
		}

		names := make([]string, 0, len(gauges))
		for name := range gauges {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "# TYPE flight_signaling_%s gauge\n", name)
			_, _ = fmt.Fprintf(w, "flight_signaling_%s %d\n", name, gauges[name]())
		}
	})
}
