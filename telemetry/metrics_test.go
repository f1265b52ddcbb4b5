package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := ChunksSent
	Init()
	if ChunksSent != first {
		t.Fatal("Init re-registered metrics")
	}
	if TaskDuration == nil || CancelLatency == nil || QueueWaitDuration == nil {
		t.Fatal("histograms not initialized")
	}
}

func TestRecordChunk(t *testing.T) {
	Init()
	sentBefore := counterValue(t, ChunksSent)
	failedBefore := counterValue(t, ChunkSendFailures)

	RecordChunk(nil)
	RecordChunk(nil)
	RecordChunk(errors.New("irc write failed"))

	if got := counterValue(t, ChunksSent) - sentBefore; got != 2 {
		t.Errorf("chunks sent delta = %v, want 2", got)
	}
	if got := counterValue(t, ChunkSendFailures) - failedBefore; got != 1 {
		t.Errorf("chunk failures delta = %v, want 1", got)
	}
}

func TestLabelledCounters(t *testing.T) {
	Init()
	tests := []struct {
		name string
		vec  *prometheus.CounterVec
		lbl  string
		inc  func()
	}{
		{"admitted vip", MessagesAdmitted, "vip", func() { IncAdmitted("vip") }},
		{"evicted stale", MessagesEvicted, "stale", func() { AddEvicted("stale", 3) }},
		{"outcome fallback", TasksFinished, "fallback", func() { IncTaskOutcome("fallback") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.vec.WithLabelValues(tt.lbl)
			before := counterValue(t, c)
			tt.inc()
			if counterValue(t, c) <= before {
				t.Errorf("%s did not increase", tt.name)
			}
		})
	}
}

func TestAddEvictedIgnoresZero(t *testing.T) {
	Init()
	c := MessagesEvicted.WithLabelValues("expired")
	before := counterValue(t, c)
	AddEvicted("expired", 0)
	if counterValue(t, c) != before {
		t.Error("AddEvicted(0) changed the counter")
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", metric.GetHistogram().GetSampleCount())
	}
}

func TestQueueDepthSeries(t *testing.T) {
	Init()
	SetQueueDepth("chan-a", "normal", 4)
	m := &dto.Metric{}
	if err := QueueDepth.WithLabelValues("chan-a", "normal").Write(m); err != nil {
		t.Fatal(err)
	}
	if m.GetGauge().GetValue() != 4 {
		t.Errorf("queue depth = %v, want 4", m.GetGauge().GetValue())
	}
	DeleteQueueDepth("chan-a")
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation on bare context")
	}
	ctx = WithCorrelation(ctx, "abc")
	if got := GetCorrelation(ctx); got != "abc" {
		t.Errorf("GetCorrelation = %q, want abc", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
