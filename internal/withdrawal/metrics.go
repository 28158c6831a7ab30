package withdrawal

import "github.com/prometheus/client_golang/prometheus"

var (
	withdrawalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "withdrawals",
		Name:      "total",
		Help:      "Withdrawal attempts by kind and result.",
	}, []string{"kind", "result"}) // kind: auto, manual; result: sent, failed

	withdrawalsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "withdrawals",
		Name:      "skipped_total",
		Help:      "Automatic withdrawal checks that did not transfer, by reason.",
	}, []string{"reason"}) // disabled, below_threshold, reserve, no_session

	withdrawnSats = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "faucetd",
		Subsystem: "withdrawals",
		Name:      "sent_sats_total",
		Help:      "Satoshis sent by successful withdrawals.",
	})
)

func init() {
	prometheus.MustRegister(withdrawalsTotal, withdrawalsSkipped, withdrawnSats)
}
