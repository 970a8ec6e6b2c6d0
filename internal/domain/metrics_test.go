package domain

import (
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.MessagesPut.Add(10)
	m.MessagesDelivered.Add(8)
	m.StepsExecuted.Add(4)
	m.StepTimeNs.Add(8_000_000)
	m.ScriptErrors.Add(1)
	m.ActiveWorkers.Store(3)

	s := m.Snapshot()
	if s.MessagesPut != 10 || s.MessagesDelivered != 8 {
		t.Fatalf("unexpected throughput counters: %+v", s)
	}
	if s.ScriptErrors != 1 {
		t.Fatalf("expected 1 script error, got %d", s.ScriptErrors)
	}
	if s.ActiveWorkers != 3 {
		t.Fatalf("expected 3 active workers, got %d", s.ActiveWorkers)
	}
	if s.AvgStepTimeMs != 2 {
		t.Fatalf("expected 2ms average step, got %f", s.AvgStepTimeMs)
	}
}

func TestMetricsRates_ZeroSafe(t *testing.T) {
	m := NewMetrics()
	if m.GetAverageStepTime() != 0 {
		t.Fatal("average step time should be zero with no steps")
	}

	m.StartTime = time.Now().Add(-time.Second)
	m.MessagesDelivered.Add(100)
	if r := m.GetDeliveryRate(); r <= 0 {
		t.Fatalf("expected positive delivery rate, got %f", r)
	}
}
