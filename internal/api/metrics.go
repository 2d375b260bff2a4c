package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ledgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stash",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by name and outcome.",
}, []string{"op", "outcome"})

var cooldownReservations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stash",
	Subsystem: "coord",
	Name:      "cooldown_reservations_total",
	Help:      "Cooldown reservation attempts by outcome.",
}, []string{"outcome"})

func observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ledgerOps.WithLabelValues(op, outcome).Inc()
}
