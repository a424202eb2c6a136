package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "messages_received_total",
		Help:      "Total number of envelopes received by kind and source",
	}, []string{"kind", "source"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "messages_dropped_total",
		Help:      "Envelopes dropped because they could not be parsed or routed",
	}, []string{"reason"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "decisions_total",
		Help:      "Lock decisions by device and result",
	}, []string{"device_id", "result"})

	PolicyUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "policy_updates_total",
		Help:      "Transit policies stored per device",
	}, []string{"device_id"})

	PolicyChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "policy_changes_total",
		Help:      "Active policy changes observed per device",
	}, []string{"device_id"})

	PublishedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flapguard",
		Name:      "published_requests_total",
		Help:      "Outbound requests to the remote service by type",
	}, []string{"type"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flapguard",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of transit policy evaluation",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	KnownDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flapguard",
		Name:      "known_devices",
		Help:      "Number of devices currently registered",
	})
)
