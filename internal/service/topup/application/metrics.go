package application

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_orders_placed_total",
			Help: "Orders placed, labelled by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	paymentCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_payment_callbacks_total",
			Help: "Payment callbacks by processing result",
		},
		[]string{"result"},
	)

	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_reconcile_outcomes_total",
			Help: "Fulfillment status transitions written by the reconciler",
		},
		[]string{"status"},
	)

	reconcilePolls = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "topup_reconcile_polls",
			Help:    "Number of provider polls per reconciliation run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 30},
		},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_notifications_total",
			Help: "Outbound notification attempts by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, paymentCallbacks, reconcileOutcomes, reconcilePolls, notificationsSent)
}
