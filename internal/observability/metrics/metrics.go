// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicetotext"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Progress channel metrics
	ObserversActive     prometheus.Gauge
	ObserversTotal      prometheus.Counter
	ObserverSendErrors  prometheus.Counter
	ProgressBroadcasts  prometheus.Counter
	ObserverMessagesIn  prometheus.Counter
	ObserverMessageDrop prometheus.Counter

	// Transcription metrics
	TranscriptionsActive  prometheus.Gauge
	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	RecognitionLatency    *prometheus.HistogramVec
	ProbeFailures         prometheus.Counter
	UploadBytes           prometheus.Counter

	// Repository metrics
	RepositoryOps *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ObserversActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_observers_active",
			Help:      "Number of currently connected progress observers",
		}),
		ObserversTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_observers_total",
			Help:      "Total number of progress observers registered",
		}),
		ObserverSendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_observer_send_errors_total",
			Help:      "Total number of failed deliveries that evicted an observer",
		}),
		ProgressBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_broadcasts_total",
			Help:      "Total number of frames broadcast to the observer set",
		}),
		ObserverMessagesIn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_observer_messages_total",
			Help:      "Total number of client frames received on the progress channel",
		}),
		ObserverMessageDrop: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_observer_messages_dropped_total",
			Help:      "Client frames dropped by the per-connection rate limit",
		}),

		TranscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcriptions_active",
			Help:      "Number of transcriptions currently in flight",
		}),
		TranscriptionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "End-to-end duration of transcription requests",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		RecognitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_latency_seconds",
			Help:      "Duration of the blocking recognizer call",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"provider"}),
		ProbeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duration_probe_failures_total",
			Help:      "Duration probes that failed and degraded to a zero estimate",
		}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total audio bytes staged from uploads",
		}),

		RepositoryOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repository_operations_total",
			Help:      "Repository operations by operation and outcome",
		}, []string{"op", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls by method and status code",
		}, []string{"method", "code"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordObserverRegistered records a new progress observer.
func (m *Metrics) RecordObserverRegistered() {
	m.ObserversTotal.Inc()
	m.ObserversActive.Inc()
}

// RecordObserverUnregistered records a progress observer leaving the set.
func (m *Metrics) RecordObserverUnregistered(sendFailed bool) {
	m.ObserversActive.Dec()
	if sendFailed {
		m.ObserverSendErrors.Inc()
	}
}

// RecordBroadcast records one broadcast call.
func (m *Metrics) RecordBroadcast() {
	m.ProgressBroadcasts.Inc()
}

// RecordObserverMessage records an inbound client frame.
func (m *Metrics) RecordObserverMessage(dropped bool) {
	m.ObserverMessagesIn.Inc()
	if dropped {
		m.ObserverMessageDrop.Inc()
	}
}

// RecordTranscriptionStart records a transcription entering the pipeline.
func (m *Metrics) RecordTranscriptionStart() {
	m.TranscriptionsActive.Inc()
}

// RecordTranscriptionEnd records a transcription leaving the pipeline.
func (m *Metrics) RecordTranscriptionEnd(outcome string, durationSeconds float64) {
	m.TranscriptionsActive.Dec()
	m.TranscriptionsTotal.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordRejected records a request rejected before it entered the pipeline.
func (m *Metrics) RecordRejected() {
	m.TranscriptionsTotal.WithLabelValues("rejected").Inc()
}

// RecordRecognition records the latency of one recognizer call.
func (m *Metrics) RecordRecognition(provider string, latencySeconds float64) {
	m.RecognitionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordProbeFailure records a degraded duration probe.
func (m *Metrics) RecordProbeFailure() {
	m.ProbeFailures.Inc()
}

// RecordUpload records staged upload bytes.
func (m *Metrics) RecordUpload(bytes int64) {
	m.UploadBytes.Add(float64(bytes))
}

// RecordRepositoryOp records a repository operation.
func (m *Metrics) RecordRepositoryOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RepositoryOps.WithLabelValues(op, outcome).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, code string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latencySeconds)
}

// RecordGRPCRequest records a served gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
