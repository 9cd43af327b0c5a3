package manager

import "github.com/zeromicro/go-zero/core/metric"

const metricNamespace = "perpexec"

var (
	metricCycles = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Trading iterations by result.",
		Labels:    []string{"result"},
	})
	metricOrders = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "engine",
		Name:      "orders_total",
		Help:      "Entry and close attempts by outcome.",
		Labels:    []string{"op", "coin", "outcome"},
	})
	metricRejections = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "engine",
		Name:      "entry_rejections_total",
		Help:      "Entry plans rejected by reason.",
		Labels:    []string{"reason"},
	})
	metricRiskEvents = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "risk",
		Name:      "events_total",
		Help:      "Risk state transitions.",
		Labels:    []string{"event"},
	})
	metricEquity = metric.NewGaugeVec(&metric.GaugeVecOpts{
		Namespace: metricNamespace,
		Subsystem: "engine",
		Name:      "equity_usd",
		Help:      "Balance, equity and reserved margin after the last iteration.",
		Labels:    []string{"kind"},
	})
	metricOpenPositions = metric.NewGaugeVec(&metric.GaugeVecOpts{
		Namespace: metricNamespace,
		Subsystem: "engine",
		Name:      "open_positions",
		Help:      "Open positions after the last iteration.",
		Labels:    []string{"backend"},
	})
)
