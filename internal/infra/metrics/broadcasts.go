package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(broadcastsStartedTotal, broadcastsCompletedTotal, broadcastDeliveriesTotal)
}

var broadcastsStartedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "broadcasts_started_total",
		Help: "Total broadcasts moved to running.",
	},
)

var broadcastsCompletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "broadcasts_completed_total",
		Help: "Total broadcasts that reached completed.",
	},
)

var broadcastDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "broadcast_deliveries_total",
		Help: "Per-recipient delivery outcomes.",
	},
	[]string{"status"}, // 'sent', 'failed', 'blocked'
)

func IncBroadcastStarted()   { broadcastsStartedTotal.Inc() }
func IncBroadcastCompleted() { broadcastsCompletedTotal.Inc() }

func IncBroadcastDelivery(status string) {
	broadcastDeliveriesTotal.WithLabelValues(norm(status)).Inc()
}
