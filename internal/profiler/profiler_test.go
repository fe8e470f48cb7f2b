package profiler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politicalsim/bridge/internal/config"
)

func newTestProfiler(t *testing.T) *Profiler {
	t.Helper()
	cfg := config.ProfilerConfig{
		MeasurementInterval: time.Second,
		HistorySize:         10,
		AlertThresholds: map[string]float64{
			"turn_duration_seconds": 1.0,
		},
	}
	return New(cfg, nil, prometheus.NewRegistry())
}

func TestTurnProfileTracksPhaseDurations(t *testing.T) {
	t.Parallel()

	p := newTestProfiler(t)
	p.StartTurn(1)
	p.StartPhase(1, "planning")
	time.Sleep(time.Millisecond)
	p.EndPhase(1, "planning")

	profile, ok := p.EndTurn(1)
	if !ok {
		t.Fatalf("expected EndTurn to find turn 1")
	}
	if profile.PhaseDurations["planning"] <= 0 {
		t.Fatalf("expected positive planning duration, got %v", profile.PhaseDurations["planning"])
	}
}

func TestEndTurnUnknownReturnsFalse(t *testing.T) {
	t.Parallel()

	p := newTestProfiler(t)
	if _, ok := p.EndTurn(99); ok {
		t.Fatalf("expected EndTurn on untracked turn to report false")
	}
}

func TestAlertTriggersAboveThresholdAndClears(t *testing.T) {
	t.Parallel()

	p := newTestProfiler(t)
	var seen []Alert
	p.OnAlert(func(a Alert) { seen = append(seen, a) })

	p.recordMetric("turn_duration_seconds", 1.2, time.Now())
	if len(seen) != 1 {
		t.Fatalf("expected 1 alert after exceeding threshold, got %d", len(seen))
	}
	if !seen[0].Active() {
		t.Fatalf("expected triggered alert to be active")
	}
	if seen[0].Severity != SeverityWarning {
		t.Fatalf("expected warning severity at 1.2x threshold, got %s", seen[0].Severity)
	}

	p.recordMetric("turn_duration_seconds", 2.5, time.Now())
	if len(seen) != 1 {
		t.Fatalf("expected no new alert while already active, got %d total", len(seen))
	}
	if got := p.ActiveAlerts(); len(got) != 1 || got[0].Severity != SeverityCritical {
		t.Fatalf("expected active alert to escalate to critical, got %+v", got)
	}

	p.recordMetric("turn_duration_seconds", 0.1, time.Now())
	if len(seen) != 2 {
		t.Fatalf("expected a clearing alert, got %d total", len(seen))
	}
	if seen[1].Active() {
		t.Fatalf("expected cleared alert to be inactive")
	}
	if got := p.ActiveAlerts(); len(got) != 0 {
		t.Fatalf("expected no active alerts after clearing, got %+v", got)
	}
}

func TestOperationStatsComputesMeanMedian(t *testing.T) {
	t.Parallel()

	timers := newOpTimers(100)
	base := time.Now()
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for i, d := range durations {
		id := "op-" + string(rune('a'+i))
		timers.Start(id, base)
		timers.End(id, "serialize", base.Add(d))
	}

	stats := timers.Stats("serialize")
	if stats.Count != 3 {
		t.Fatalf("expected 3 samples, got %d", stats.Count)
	}
	if stats.Mean != 20*time.Millisecond {
		t.Fatalf("expected mean 20ms, got %v", stats.Mean)
	}
	if stats.Median != 20*time.Millisecond {
		t.Fatalf("expected median 20ms, got %v", stats.Median)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()

	r := newRing(2)
	now := time.Now()
	r.add(1, now)
	r.add(2, now.Add(time.Second))
	r.add(3, now.Add(2*time.Second))

	values := r.values()
	if len(values) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(values))
	}
	if values[0].Value != 2 || values[1].Value != 3 {
		t.Fatalf("expected oldest sample evicted, got %+v", values)
	}
}
