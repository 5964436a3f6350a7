package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_recorded_total",
			Help: "Total number of telemetry events accepted by the recorder, by kind.",
		},
		[]string{"kind"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_dropped_total",
			Help: "Total number of telemetry events dropped before reaching the sink, by reason.",
		},
		[]string{"reason"}, // e.g. queue_full, sink_panic
	)

	EventsForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_forwarded_total",
			Help: "Total number of telemetry events handed to the sink, by kind.",
		},
		[]string{"kind"},
	)

	BatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_batches_total",
			Help: "Total number of non-empty batches drained from the queue.",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_batch_size",
			Help:    "Number of events per drained batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. 16384
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_queue_depth",
			Help: "Number of telemetry events currently buffered.",
		},
	)

	PublisherState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_publisher_state",
			Help: "Current lifecycle state of the publisher (1 for the active state).",
		},
		[]string{"state"},
	)

	RelayBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_relay_backlog",
			Help: "Envelopes waiting in NSQ for the relay, by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	RelayInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_relay_in_flight",
			Help: "Envelopes delivered to the relay but not yet acknowledged, by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsRecordedTotal,
		EventsDroppedTotal,
		EventsForwardedTotal,
		BatchesTotal,
		BatchSize,
		QueueDepth,
		PublisherState,
		RelayBacklog,
		RelayInFlight,
	)
}

// RecordEventRecorded counts an event accepted by the recorder
func RecordEventRecorded(kind string) {
	EventsRecordedTotal.WithLabelValues(kind).Inc()
}

// RecordEventDropped counts an event lost before the sink
func RecordEventDropped(reason string) {
	EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordEventForwarded counts an event handed to the sink
func RecordEventForwarded(kind string) {
	EventsForwardedTotal.WithLabelValues(kind).Inc()
}

// RecordBatch counts a drained batch and observes its size
func RecordBatch(size int) {
	BatchesTotal.Inc()
	BatchSize.Observe(float64(size))
}

// UpdateQueueDepth sets the buffered event gauge
func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// SetPublisherState marks state as the active one and clears the others
func SetPublisherState(state string, all []string) {
	for _, s := range all {
		if s == state {
			PublisherState.WithLabelValues(s).Set(1)
		} else {
			PublisherState.WithLabelValues(s).Set(0)
		}
	}
}

// UpdateRelayBacklog sets the NSQ depth and in-flight gauges for a relay channel
func UpdateRelayBacklog(topic, channel string, depth, inFlight int64) {
	RelayBacklog.WithLabelValues(topic, channel).Set(float64(depth))
	RelayInFlight.WithLabelValues(topic, channel).Set(float64(inFlight))
}
