package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccgate",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Count of successful WebSocket reconnects, by url.",
	}, []string{"url"})

	wsConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ccgate",
		Subsystem: "stream",
		Name:      "connected",
		Help:      "1 while a managed WebSocket client holds a live connection, 0 otherwise.",
	}, []string{"url"})
)

// IncWSReconnect bumps the reconnect counter for url.
func IncWSReconnect(url string) {
	wsReconnects.WithLabelValues(url).Inc()
}

// SetWSConnected records whether the client for url currently holds a live
// connection.
func SetWSConnected(url string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	wsConnected.WithLabelValues(url).Set(v)
}
