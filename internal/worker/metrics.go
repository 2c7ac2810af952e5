package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pairsLinked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "associator_pairs_linked_total",
		Help: "The total number of transaction/item batch pairs created",
	})
	pairsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "associator_pairs_forwarded_total",
		Help: "The total number of pairs accepted by the downstream service",
	})
	forwardErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "associator_forward_errors_total",
		Help: "The total number of failed forward attempts",
	}, []string{"reason"})
	forwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "associator_forward_duration_seconds",
		Help:    "Time taken by one downstream submit",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	eventsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "associator_events_evicted_total",
		Help: "The total number of pending events evicted by the max age policy",
	}, []string{"kind"})
	pendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "associator_pending",
		Help: "Current size of the pending collections",
	}, []string{"collection"})
)
