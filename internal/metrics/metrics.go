// Package metrics exposes Prometheus instruments for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Connection metrics
	ActiveSessions      prometheus.Gauge
	SessionsAdmitted    prometheus.Counter
	SessionsRejected    prometheus.Counter
	SessionsRemoved     prometheus.Counter
	LivenessTerminated  prometheus.Counter

	// Audio pipeline metrics
	AudioFramesReceived prometheus.Counter
	AudioFramesDropped  prometheus.Counter
	AudioBytesReceived  prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionEmpty    prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Batch metrics
	ActiveBatches   prometheus.Gauge
	BatchesFlushed  prometheus.Counter
	BatchItems      prometheus.Histogram
	HandlerFailures prometheus.Counter
	HandlerDuration prometheus.Histogram
}

// New creates and registers all relay metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Current number of admitted sessions",
		}),
		SessionsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_admitted_total",
			Help: "Total number of admitted sessions",
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_rejected_total",
			Help: "Total number of admissions rejected by the per-user cap",
		}),
		SessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_removed_total",
			Help: "Total number of sessions removed",
		}),
		LivenessTerminated: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_liveness_terminated_total",
			Help: "Total number of connections reaped by the heartbeat",
		}),
		AudioFramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_frames_received_total",
			Help: "Total number of inbound audio frames",
		}),
		AudioFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_frames_dropped_total",
			Help: "Total number of audio frames dropped outside Recording state",
		}),
		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_bytes_received_total",
			Help: "Total audio payload bytes received",
		}),
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_requests_total",
			Help: "Total number of transcription calls issued",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_failures_total",
			Help: "Total number of failed transcription calls",
		}),
		TranscriptionEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_empty_total",
			Help: "Total number of empty (suppressed) transcription results",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_duration_seconds",
			Help:    "Wall-clock duration of transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ActiveBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_batches",
			Help: "Current number of accumulating batches",
		}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_batches_flushed_total",
			Help: "Total number of flushed batches",
		}),
		BatchItems: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_batch_items",
			Help:    "Number of items per flushed batch",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		HandlerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_batch_handler_failures_total",
			Help: "Total number of failed batch handler invocations",
		}),
		HandlerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_batch_handler_duration_seconds",
			Help:    "Wall-clock duration of batch handler invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}
