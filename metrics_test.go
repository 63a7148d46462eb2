package goIdentity

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricResetRequest)
	m.Observe(MetricRequestResetLatency, time.Millisecond)

	if got := m.Value(MetricResetRequest); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled metrics must snapshot empty, got %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricResetRequest)
	if nilMetrics.Value(MetricResetRequest) != 0 {
		t.Fatal("nil metrics must read zero")
	}
}

func TestMetricsConcurrentIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 16, 2000
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				m.Inc(MetricOTPVerifyFailure)
			}
		}()
	}
	wg.Wait()

	if got, want := m.Value(MetricOTPVerifyFailure), uint64(workers*perWorker); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + time.Microsecond, 1},
		{25 * time.Millisecond, 2},
		{40 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Errorf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsSnapshotSeparatesCountersAndHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricResetRequest)
	m.Inc(MetricResetRequestUnknown)
	m.Inc(MetricResetRequestUnknown)
	m.Observe(MetricRequestResetLatency, 22*time.Millisecond)
	m.Observe(MetricRequestResetLatency, 38*time.Millisecond)
	m.Observe(MetricResetRequest, time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricResetRequest] != 1 || snap.Counters[MetricResetRequestUnknown] != 2 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
	if _, ok := snap.Counters[MetricRequestResetLatency]; ok {
		t.Fatal("latency ids must not appear as counters")
	}
	if _, ok := snap.Histograms[MetricResetRequest]; ok {
		t.Fatal("counter ids must not get a histogram")
	}

	buckets := snap.Histograms[MetricRequestResetLatency]
	if len(buckets) != histBucketCount || buckets[2] != 1 || buckets[3] != 1 {
		t.Fatalf("unexpected reset latency buckets: %v", buckets)
	}
	if got := snap.HistogramSums[MetricRequestResetLatency]; got != 60*time.Millisecond {
		t.Fatalf("expected sum 60ms, got %v", got)
	}
}

func TestEngineValidateLatencyRespectsHistogramToggle(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = false
	env := newTestEnv(t, cfg)

	_, _ = env.engine.ValidateSession(context.Background(), "garbage")

	snap := env.engine.MetricsSnapshot()
	if len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms when disabled, got %+v", snap.Histograms)
	}
	if _, ok := snap.Counters[MetricLoginSuccess]; !ok {
		t.Fatal("expected counters to stay enabled")
	}
}
