// Package metrics exposes the Prometheus counters, gauges and histogram
// named in spec.md §6 on a /metrics HTTP endpoint, using client_golang —
// the teacher's go.mod already carries it as an indirect dependency of
// gopsutil's process sampling; this engine promotes it to a first-class
// observability surface the way the rest of the example pack's services
// do.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine reports, so call sites take
// one struct rather than package-level globals.
type Metrics struct {
	OpportunitiesTotal prometheus.Counter
	TradesTotal        prometheus.Counter
	TradesFailed       prometheus.Counter
	SandwichAttempts   prometheus.Counter
	FrontrunAttempts   prometheus.Counter
	PrivateTxSuccess   prometheus.Counter

	TotalProfit      prometheus.Gauge
	GasPrice         prometheus.Gauge
	LastBlockTime    prometheus.Gauge
	MemoryUsageBytes prometheus.Gauge
	ConnectedNodes   prometheus.Gauge
	PositionValue    prometheus.Gauge
	CurrentSpread    prometheus.Gauge
	InventoryRatio   prometheus.Gauge

	ExecutionTimeMs prometheus.Histogram

	registry *prometheus.Registry
}

// New registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		OpportunitiesTotal: f.NewCounter(prometheus.CounterOpts{Name: "opportunities_total", Help: "Opportunities discovered by the finder."}),
		TradesTotal:        f.NewCounter(prometheus.CounterOpts{Name: "trades_total", Help: "Trades submitted."}),
		TradesFailed:       f.NewCounter(prometheus.CounterOpts{Name: "trades_failed", Help: "Trades that reverted or were rejected."}),
		SandwichAttempts:   f.NewCounter(prometheus.CounterOpts{Name: "sandwich_attempts", Help: "Sandwich attempts detected against our transactions."}),
		FrontrunAttempts:   f.NewCounter(prometheus.CounterOpts{Name: "frontrun_attempts", Help: "Front-running attempts detected."}),
		PrivateTxSuccess:   f.NewCounter(prometheus.CounterOpts{Name: "private_tx_success", Help: "Transactions successfully landed via a private relay."}),

		TotalProfit:      f.NewGauge(prometheus.GaugeOpts{Name: "total_profit", Help: "Cumulative realized profit, profit-token units."}),
		GasPrice:         f.NewGauge(prometheus.GaugeOpts{Name: "gas_price", Help: "Last observed gas price, gwei."}),
		LastBlockTime:    f.NewGauge(prometheus.GaugeOpts{Name: "last_block_time", Help: "Unix timestamp of the last processed block."}),
		MemoryUsageBytes: f.NewGauge(prometheus.GaugeOpts{Name: "memory_usage_bytes", Help: "Process RSS, bytes."}),
		ConnectedNodes:   f.NewGauge(prometheus.GaugeOpts{Name: "connected_nodes", Help: "Chains with a live subscription."}),
		PositionValue:    f.NewGauge(prometheus.GaugeOpts{Name: "position_value", Help: "Market-making position value, profit-token units."}),
		CurrentSpread:    f.NewGauge(prometheus.GaugeOpts{Name: "current_spread", Help: "Market-making current spread, bps."}),
		InventoryRatio:   f.NewGauge(prometheus.GaugeOpts{Name: "inventory_ratio", Help: "Market-making inventory ratio, 0-1."}),

		ExecutionTimeMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "execution_time_ms",
			Help:    "End-to-end time from opportunity discovery to submission acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}),

		registry: reg,
	}
}

// Handler returns the http.Handler to mount at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
