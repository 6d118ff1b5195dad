package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what passes through a Hub.
type Metrics struct {
	registry *prometheus.Registry

	KeysUploaded    prometheus.Counter
	KeysClaimed     prometheus.Counter
	ClaimMisses     prometheus.Counter
	EventsQueued    *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	DuplicateTxns   prometheus.Counter
}

// NewMetrics registers the relay counters on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		KeysUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "one_time_keys_uploaded_total",
			Help: "One-time keys accepted by key uploads.",
		}),
		KeysClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "one_time_keys_claimed_total",
			Help: "One-time keys handed out by claims.",
		}),
		ClaimMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "one_time_key_claim_misses_total",
			Help: "Claims for a device that had no key left.",
		}),
		EventsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "to_device_events_queued_total",
			Help: "To-device events queued for delivery, by event type.",
		}, []string{"event_type"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "to_device_events_delivered_total",
			Help: "To-device events returned by sync.",
		}),
		DuplicateTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon", Subsystem: "relay", Name: "duplicate_transactions_total",
			Help: "sendToDevice requests ignored because the transaction id was seen before.",
		}),
	}
	m.registry.MustRegister(
		m.KeysUploaded,
		m.KeysClaimed,
		m.ClaimMisses,
		m.EventsQueued,
		m.EventsDelivered,
		m.DuplicateTxns,
	)
	return m
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
