package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var statesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "tgfleet",
	Subsystem: "conversation",
	Name:      "states",
	Help:      "Operator conversation states held in memory.",
})
