package bulk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgfleet",
		Subsystem: "bulk",
		Name:      "outcomes_total",
		Help:      "Per-account bulk outcomes by action and kind.",
	}, []string{"action", "outcome"})

	runSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgfleet",
		Subsystem: "bulk",
		Name:      "run_seconds",
		Help:      "Wall time of bulk runs, throttling delays included.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"action"})

	floodWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tgfleet",
		Subsystem: "bulk",
		Name:      "flood_wait_seconds_total",
		Help:      "Time spent honoring remote rate-limit waits.",
	})
)
