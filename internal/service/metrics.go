package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_commands_total",
		Help: "Campaign commands processed, labeled by operation and result code",
	}, []string{"operation", "code"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campaign_command_duration_seconds",
		Help:    "Latency of campaign commands including lock wait",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	contributedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_contributed_accounting_total",
		Help: "Accounting amount of recorded contributions per asset",
	}, []string{"asset"})

	sweepFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_sweep_finalized_total",
		Help: "Campaigns finalized by the deadline sweep, labeled by resulting status",
	}, []string{"status"})

	balanceDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campaign_balance_drift_units",
		Help: "Confirmed ledger balance minus engine balance, in whole asset units",
	}, []string{"campaign", "asset"})
)
