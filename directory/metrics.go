package directory

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	authx "github.com/christian-2/ldap-authx"
)

type metrics struct {
	binds             *prometheus.CounterVec
	extended          *prometheus.CounterVec
	searches          prometheus.Counter
	deliveries        *prometheus.CounterVec
	activeConnections prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		binds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "bind_requests_total",
			Help:      "Bind requests processed, by mechanism and result code.",
		}, []string{"mechanism", "result"}),
		extended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "extended_requests_total",
			Help:      "Extended requests processed, by request OID and result code.",
		}, []string{"oid", "result"}),
		searches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "search_requests_total",
			Help:      "Search requests processed.",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "directory",
			Name:      "deliveries_total",
			Help:      "One-time password and reset token deliveries, by mechanism.",
		}, []string{"mechanism"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "directory",
			Name:      "active_connections",
			Help:      "Currently open client connections.",
		}),
	}
}

func resultLabel(code authx.ResultCode) string {
	return strconv.Itoa(int(code))
}
