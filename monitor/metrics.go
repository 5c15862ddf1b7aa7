package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the monitor's Prometheus collectors. The caller owns the registry so tests can use a private
// one while the daemon registers on the default.
type Metrics struct {
	NetworkHealthy prometheus.Gauge
	BlockHeight    prometheus.Gauge
	GasPriceGwei   prometheus.Gauge
	RPCLatency     prometheus.Histogram
	Alerts         *prometheus.CounterVec
	DroppedAlerts  prometheus.Counter
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NetworkHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tourcoin_network_healthy",
			Help: "Whether the last ledger health sample was healthy (1) or not (0).",
		}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tourcoin_block_height",
			Help: "Last observed ledger block height.",
		}),
		GasPriceGwei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tourcoin_gas_price_gwei",
			Help: "Last observed gas price in gwei.",
		}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourcoin_rpc_latency_seconds",
			Help:    "Round trip time of ledger health samples.",
			Buckets: prometheus.DefBuckets,
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tourcoin_alerts_total",
			Help: "Alerts raised, by kind.",
		}, []string{"kind"}),
		DroppedAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tourcoin_alerts_dropped_total",
			Help: "Alerts dropped because the dispatch queue was full.",
		}),
	}
	reg.MustRegister(m.NetworkHealthy, m.BlockHeight, m.GasPriceGwei, m.RPCLatency, m.Alerts, m.DroppedAlerts)
	return m
}
