package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "sessions",
		Name:      "started_total",
		Help:      "Claim sessions started.",
	})

	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "sessions",
		Name:      "finished_total",
		Help:      "Claim sessions whose loop exited, by final status.",
	}, []string{"status"}) // completed, failed, stopped

	claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "claims",
		Name:      "total",
		Help:      "Claim outcomes aggregated, by status.",
	}, []string{"status"})

	claimsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "faucetd",
		Subsystem: "claims",
		Name:      "in_flight",
		Help:      "Claim attempts currently running across all sessions.",
	})

	earnedSats = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "claims",
		Name:      "earned_sats_total",
		Help:      "Satoshis earned by successful claims.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faucetd",
		Subsystem: "batches",
		Name:      "duration_seconds",
		Help:      "Time from first launch to last outcome of a batch.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	persistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "aggregator",
		Name:      "persistence_failures_total",
		Help:      "Best-effort writes skipped after an error, by operation.",
	}, []string{"op"}) // append_log, credit, withdrawal
)

func init() {
	prometheus.MustRegister(
		sessionsStarted,
		sessionsFinished,
		claimsTotal,
		claimsInFlight,
		earnedSats,
		batchDuration,
		persistenceFailures,
	)
}
