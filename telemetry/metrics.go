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
	MessagesAdmitted  *prometheus.CounterVec // label: tier
	MessagesRejected  prometheus.Counter
	MessagesEvicted   *prometheus.CounterVec // label: reason (stale|expired)
	TasksFinished     *prometheus.CounterVec // label: outcome
	Interruptions     prometheus.Counter
	GiftBatchesMerged prometheus.Counter
	ChunksSent        prometheus.Counter
	ChunkSendFailures prometheus.Counter

	// Histograms (seconds)
	TaskDuration      prometheus.Observer
	CancelLatency     prometheus.Observer
	QueueWaitDuration prometheus.Observer

	// Gauges
	ActiveSessions prometheus.Gauge
	QueueDepth     *prometheus.GaugeVec // labels: chat_id, tier
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "s4u_messages_admitted_total", Help: "Messages admitted into a session queue"}, []string{"tier"})
		MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "s4u_messages_rejected_total", Help: "Malformed events dropped at admission"})
		MessagesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "s4u_messages_evicted_total", Help: "Queued messages dropped before service"}, []string{"reason"})
		TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "s4u_tasks_finished_total", Help: "Generation tasks finished by outcome"}, []string{"outcome"})
		Interruptions = promauto.NewCounter(prometheus.CounterOpts{Name: "s4u_interruptions_total", Help: "Active tasks interrupted by a newer message"})
		GiftBatchesMerged = promauto.NewCounter(prometheus.CounterOpts{Name: "s4u_gift_batches_total", Help: "Debounced gift aggregates flushed as one message"})
		ChunksSent = promauto.NewCounter(prometheus.CounterOpts{Name: "s4u_chunks_sent_total", Help: "Reply chunks delivered to the outbound transport"})
		ChunkSendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "s4u_chunk_send_failures_total", Help: "Reply chunks the outbound transport rejected"})
		TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "s4u_task_duration_seconds", Help: "Generate-and-send task duration seconds", Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120}})
		CancelLatency = promauto.NewHistogram(prometheus.HistogramOpts{Name: "s4u_cancel_latency_seconds", Help: "Time from interruption to task termination", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2}})
		QueueWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "s4u_queue_wait_seconds", Help: "Time a message waited in queue before service", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "s4u_active_sessions", Help: "Chat sessions currently registered"})
		QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "s4u_queue_depth", Help: "Queued messages per session and tier"}, []string{"chat_id", "tier"})
	})
}

// IncAdmitted counts an admitted message for tier (vip|normal).
func IncAdmitted(tier string) {
	if MessagesAdmitted != nil {
		MessagesAdmitted.WithLabelValues(tier).Inc()
	}
}

// IncRejected counts a malformed event.
func IncRejected() {
	if MessagesRejected != nil {
		MessagesRejected.Inc()
	}
}

// AddEvicted counts n queued messages dropped for reason.
func AddEvicted(reason string, n int) {
	if MessagesEvicted != nil && n > 0 {
		MessagesEvicted.WithLabelValues(reason).Add(float64(n))
	}
}

// IncTaskOutcome counts a finished task.
func IncTaskOutcome(outcome string) {
	if TasksFinished != nil {
		TasksFinished.WithLabelValues(outcome).Inc()
	}
}

// IncInterruptions counts an interruption.
func IncInterruptions() {
	if Interruptions != nil {
		Interruptions.Inc()
	}
}

// IncGiftBatches counts a flushed gift aggregate.
func IncGiftBatches() {
	if GiftBatchesMerged != nil {
		GiftBatchesMerged.Inc()
	}
}

// RecordChunk counts one chunk send attempt.
func RecordChunk(err error) {
	if err != nil {
		if ChunkSendFailures != nil {
			ChunkSendFailures.Inc()
		}
		return
	}
	if ChunksSent != nil {
		ChunksSent.Inc()
	}
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// SetActiveSessions records the registry size.
func SetActiveSessions(n int) {
	if ActiveSessions != nil {
		ActiveSessions.Set(float64(n))
	}
}

// SetQueueDepth records the queue length for one session tier.
func SetQueueDepth(chatID, tier string, n int) {
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(chatID, tier).Set(float64(n))
	}
}

// DeleteQueueDepth drops the per-session series once a session is closed.
func DeleteQueueDepth(chatID string) {
	if QueueDepth != nil {
		QueueDepth.DeleteLabelValues(chatID, "vip")
		QueueDepth.DeleteLabelValues(chatID, "normal")
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	Observe(obs, d)
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
