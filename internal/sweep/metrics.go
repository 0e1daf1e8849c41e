package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tgfleet",
	Subsystem: "sweep",
	Name:      "runs_total",
	Help:      "Completed pool sweeps.",
})
