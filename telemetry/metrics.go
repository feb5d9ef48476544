// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	WebhookRequests     *prometheus.CounterVec // labels: message_type, status
	SignatureFailures   prometheus.Counter
	Revocations         *prometheus.CounterVec // labels: type, reason
	SubscriptionOps     *prometheus.CounterVec // labels: op, result
	InteractionOutcomes *prometheus.CounterVec // labels: stage, reason
	EventsIngested      *prometheus.CounterVec // labels: source
	TranscriptFlushes   prometheus.Counter

	// Histograms (seconds)
	CompletionDuration prometheus.Observer
	SendDuration       prometheus.Observer
	ReconcileDuration  prometheus.Observer

	// Gauges
	ActiveChannelsGauge prometheus.Gauge
	DBOpenConnections   prometheus.Gauge
	DBInUseConnections  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_webhook_requests_total", Help: "EventSub webhook deliveries by message type and response status"}, []string{"message_type", "status"})
		SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_webhook_signature_failures_total", Help: "Webhook deliveries rejected for a bad signature"})
		Revocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_subscription_revocations_total", Help: "EventSub revocations received"}, []string{"type", "reason"})
		SubscriptionOps = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_subscription_ops_total", Help: "EventSub subscription create/delete calls by result"}, []string{"op", "result"})
		InteractionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_interaction_outcomes_total", Help: "Interaction cycles by terminal stage and reason"}, []string{"stage", "reason"})
		EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_events_ingested_total", Help: "Chat and transcript events persisted"}, []string{"source"})
		TranscriptFlushes = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_transcript_flushes_total", Help: "Transcript buffers flushed into events"})
		CompletionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_completion_duration_seconds", Help: "Language model completion latency", Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30}})
		SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_chat_send_duration_seconds", Help: "Chat send latency excluding pacing delay", Buckets: prometheus.DefBuckets})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_reconcile_duration_seconds", Help: "Subscription reconcile duration", Buckets: prometheus.DefBuckets})
		ActiveChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_channels", Help: "Channels that are live with the bot enabled"})
		DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_db_open_connections", Help: "Open database connections"})
		DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_db_in_use_connections", Help: "Database connections in use"})
	})
}

// RecordWebhook counts a webhook delivery.
func RecordWebhook(messageType string, status int) {
	if WebhookRequests != nil {
		WebhookRequests.WithLabelValues(messageType, statusLabel(status)).Inc()
	}
}

// RecordSubscriptionOp counts a Helix subscription call.
func RecordSubscriptionOp(op string, err error) {
	if SubscriptionOps == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	SubscriptionOps.WithLabelValues(op, result).Inc()
}

// RecordInteraction counts an interaction cycle outcome.
func RecordInteraction(stage, reason string) {
	if InteractionOutcomes != nil {
		InteractionOutcomes.WithLabelValues(stage, reason).Inc()
	}
}

// RecordRevocation counts a subscription revocation.
func RecordRevocation(subType, reason string) {
	if Revocations != nil {
		Revocations.WithLabelValues(subType, reason).Inc()
	}
}

// RecordIngest counts a persisted event.
func RecordIngest(source string) {
	if EventsIngested != nil {
		EventsIngested.WithLabelValues(source).Inc()
	}
}

// RecordTranscriptFlush counts a flushed utterance buffer.
func RecordTranscriptFlush() {
	if TranscriptFlushes != nil {
		TranscriptFlushes.Inc()
	}
}

// SetActiveChannels records the number of live, bot-enabled channels.
func SetActiveChannels(n int) {
	if ActiveChannelsGauge != nil {
		ActiveChannelsGauge.Set(float64(n))
	}
}

// UpdateDatabasePoolMetrics records sql.DBStats connection counts.
func UpdateDatabasePoolMetrics(open, inUse int) {
	if DBOpenConnections != nil {
		DBOpenConnections.Set(float64(open))
	}
	if DBInUseConnections != nil {
		DBInUseConnections.Set(float64(inUse))
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200 && code < 300:
		return "2xx"
	default:
		return "other"
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
