// Package metrics exposes the Prometheus counters served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	salesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piercehub_sales_processed_total",
		Help: "Sales persisted, labeled by payment method.",
	}, []string{"payment_method"})

	stockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piercehub_stock_conflicts_total",
		Help: "Reservations rejected because stock ran out.",
	})

	discountsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piercehub_discounts_applied_total",
		Help: "Loyalty discounts applied, labeled by reason.",
	}, []string{"reason"})

	registersOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piercehub_registers_opened_total",
		Help: "Cash registers opened.",
	})

	registersClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piercehub_registers_closed_total",
		Help: "Cash registers closed.",
	})
)

func SaleProcessed(paymentMethod string) {
	salesProcessed.WithLabelValues(paymentMethod).Inc()
}

func StockConflict() {
	stockConflicts.Inc()
}

func DiscountApplied(reason string) {
	discountsApplied.WithLabelValues(reason).Inc()
}

func RegisterOpened() {
	registersOpened.Inc()
}

func RegisterClosed() {
	registersClosed.Inc()
}
