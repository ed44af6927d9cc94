package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_count",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "status"},
	)

	RateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_rate_limit_denials",
			Help: "Total number of sends denied by the rate limiter",
		},
		[]string{"window"},
	)

	BatchSweepCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_batch_sweep_count",
			Help: "Total number of batches processed by the sweep",
		},
		[]string{"outcome"}, // outcome: digest, fallback, failed
	)

	SchedulePromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_schedule_promotions",
			Help: "Total number of scheduled notifications promoted",
		},
		[]string{"outcome"}, // outcome: delivered, completed, failed
	)

	SenderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_sender_latency_ms",
			Help:    "Channel sender call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel", "status"},
	)

	EventIngestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_event_ingest_count",
			Help: "Total number of domain events consumed",
		},
		[]string{"kind", "status"}, // status: success, failed
	)
)

// RecordDelivery increments the delivery counter for a channel outcome.
func RecordDelivery(channel, status string) {
	DeliveryCount.WithLabelValues(channel, status).Inc()
}

// RecordRateLimitDenial increments the denial counter for a window granularity.
func RecordRateLimitDenial(window string) {
	RateLimitDenials.WithLabelValues(window).Inc()
}

// RecordBatchSweep increments the sweep counter for an outcome.
func RecordBatchSweep(outcome string) {
	BatchSweepCount.WithLabelValues(outcome).Inc()
}

// RecordSchedulePromotion increments the promotion counter for an outcome.
func RecordSchedulePromotion(outcome string) {
	SchedulePromotions.WithLabelValues(outcome).Inc()
}

// RecordSenderLatency records the latency of one channel sender call.
func RecordSenderLatency(channel, status string, duration time.Duration) {
	SenderLatency.WithLabelValues(channel, status).Observe(float64(duration.Milliseconds()))
}

// RecordEventIngest increments the event ingestion counter.
func RecordEventIngest(kind, status string) {
	EventIngestCount.WithLabelValues(kind, status).Inc()
}
