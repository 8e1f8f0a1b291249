package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the protocol core.
type Metrics struct {
	// Event log
	EventsRecorded *prometheus.CounterVec
	EventLogSize   prometheus.Gauge
	ReplayEvents   prometheus.Counter
	ReplayDuration prometheus.Gauge

	// Protocol state
	CollateralRatio prometheus.Gauge
	CoveredRatio    prometheus.Gauge
	TotalCollateral prometheus.Gauge
	TotalLiquidity  prometheus.Gauge
	TotalMinted     prometheus.Gauge
	TotalBurned     prometheus.Gauge
	OpenPositions   prometheus.Gauge
	OpenSwaps       prometheus.Gauge
	IcpRate         prometheus.Gauge

	// Engines
	SwapsRequested    *prometheus.CounterVec
	SwapsSettled      *prometheus.CounterVec
	SwapSweepFailures prometheus.Counter
	PositionsOpened   prometheus.Counter
	PositionsClosed   *prometheus.CounterVec
	Liquidations      prometheus.Counter
	AvailableFees     prometheus.Gauge
	LiquidityOps      *prometheus.CounterVec

	// Guards
	GuardRejections *prometheus.CounterVec
	GuardsHeld      *prometheus.GaugeVec

	// External calls
	LedgerTransferErrors *prometheus.CounterVec
	OracleFetchErrors    prometheus.Counter

	// Scheduler
	TasksDispatched *prometheus.CounterVec
	TaskQueueSize   prometheus.Gauge

	// API
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_events_recorded_total",
			Help: "Events appended to the audit log",
		}, []string{"event_type"}),

		EventLogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_event_log_size",
			Help: "Number of events in the append-only log",
		}),

		ReplayEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elp_replay_events_total",
			Help: "Events folded during startup replay",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_replay_duration_seconds",
			Help: "Duration of the last startup replay",
		}),

		CollateralRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_collateral_ratio_e8s",
			Help: "TVL over outstanding synthetic supply, e8s fixed point",
		}),

		CoveredRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_covered_ratio_e8s",
			Help: "Covered collateral over total collateral, e8s fixed point",
		}),

		TotalCollateral: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_collateral_e8s",
			Help: "Total ICP collateral held by the protocol",
		}),

		TotalLiquidity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_liquidity_e8s",
			Help: "Total pooled liquidity",
		}),

		TotalMinted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_minted_e8s",
			Help: "Cumulative synthetic units minted",
		}),

		TotalBurned: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_burned_e8s",
			Help: "Cumulative synthetic units burned",
		}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_open_leverage_positions",
			Help: "Currently open leverage positions",
		}),

		OpenSwaps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_open_swaps",
			Help: "Swaps awaiting outbound settlement",
		}),

		IcpRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_icp_rate_e8s",
			Help: "Most recent ICP/USD rate, e8s fixed point",
		}),

		SwapsRequested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_swaps_requested_total",
			Help: "Swap requests accepted, by direction",
		}, []string{"direction"}),

		SwapsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_swaps_settled_total",
			Help: "Swaps whose outbound leg settled, by direction",
		}, []string{"direction"}),

		SwapSweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elp_swap_sweep_failures_total",
			Help: "Outbound settlement attempts that failed and were retried",
		}),

		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elp_positions_opened_total",
			Help: "Leverage positions opened",
		}),

		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_positions_closed_total",
			Help: "Leverage positions closed, by trigger",
		}, []string{"trigger"}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elp_liquidations_total",
			Help: "Leverage positions liquidated",
		}),

		AvailableFees: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_available_fees_e8s",
			Help: "Fees pooled and not yet distributed to liquidity providers",
		}),

		LiquidityOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_liquidity_ops_total",
			Help: "Liquidity operations, by kind",
		}, []string{"kind"}),

		GuardRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_guard_rejections_total",
			Help: "Guard acquisitions rejected, by family and reason",
		}, []string{"family", "reason"}),

		GuardsHeld: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "elp_guards_held",
			Help: "Guards currently held, by family",
		}, []string{"family"}),

		LedgerTransferErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_ledger_transfer_errors_total",
			Help: "External ledger transfer failures, by asset",
		}, []string{"asset"}),

		OracleFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "elp_oracle_fetch_errors_total",
			Help: "Oracle rate fetch failures",
		}),

		TasksDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_tasks_dispatched_total",
			Help: "Scheduler tasks dispatched, by kind",
		}, []string{"kind"}),

		TaskQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "elp_task_queue_size",
			Help: "Tasks currently queued",
		}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elp_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: opBuckets,
		}, []string{"route", "method"}),

		RequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "elp_http_request_errors_total",
			Help: "HTTP requests answered with an error status",
		}, []string{"route", "status"}),
	}
}
