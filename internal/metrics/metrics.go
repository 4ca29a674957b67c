// Package metrics holds the Prometheus collectors shared by the binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_events_published_total",
		Help: "Publish attempts by event kind and status",
	}, []string{"kind", "status"})

	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_publish_duration_seconds",
		Help:    "Time spent in a single broker send",
		Buckets: prometheus.DefBuckets,
	})

	Dispositions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_consumer_dispositions_total",
		Help: "Delivered envelopes by consumer and disposition",
	}, []string{"consumer", "disposition"})

	EffectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fanout_consumer_effect_duration_seconds",
		Help:    "Time taken by a consumer business effect",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"consumer"})

	OutboxRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_outbox_relayed_total",
		Help: "Outbox rows handled by the relay, by result",
	}, []string{"result"})
)
