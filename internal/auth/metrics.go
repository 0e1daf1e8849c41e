package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var flowResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tgfleet",
	Subsystem: "auth",
	Name:      "flows_total",
	Help:      "Finished account creation flows by result.",
}, []string{"result"})
