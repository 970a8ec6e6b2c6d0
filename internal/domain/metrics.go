package domain

import (
	"sync/atomic"
	"time"
)

// Metrics holds atomic runtime counters
type Metrics struct {
	// Throughput metrics
	MessagesPut       atomic.Uint64
	MessagesDelivered atomic.Uint64
	StepsExecuted     atomic.Uint64

	// Lifecycle metrics
	InstancesSpawned atomic.Uint64
	InstancesDied    atomic.Uint64
	ActiveWorkers    atomic.Int32

	// Performance metrics
	StepTimeNs atomic.Uint64

	// Error metrics
	ScriptErrors  atomic.Uint64
	HandlerErrors atomic.Uint64

	// Start time for rate calculations
	StartTime time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now(),
	}
}

// GetDeliveryRate returns delivered messages per second
func (m *Metrics) GetDeliveryRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.MessagesDelivered.Load()) / elapsed
}

// GetAverageStepTime returns average step duration in nanoseconds
func (m *Metrics) GetAverageStepTime() float64 {
	steps := m.StepsExecuted.Load()
	if steps == 0 {
		return 0
	}
	return float64(m.StepTimeNs.Load()) / float64(steps)
}

// MetricsSnapshot represents a point-in-time metrics snapshot
type MetricsSnapshot struct {
	Timestamp         time.Time
	MessagesPut       uint64
	MessagesDelivered uint64
	StepsExecuted     uint64
	InstancesSpawned  uint64
	InstancesDied     uint64
	ScriptErrors      uint64
	HandlerErrors     uint64
	DeliveryRate      float64
	AvgStepTimeMs     float64
	ActiveWorkers     int32
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Timestamp:         time.Now(),
		MessagesPut:       m.MessagesPut.Load(),
		MessagesDelivered: m.MessagesDelivered.Load(),
		StepsExecuted:     m.StepsExecuted.Load(),
		InstancesSpawned:  m.InstancesSpawned.Load(),
		InstancesDied:     m.InstancesDied.Load(),
		ScriptErrors:      m.ScriptErrors.Load(),
		HandlerErrors:     m.HandlerErrors.Load(),
		DeliveryRate:      m.GetDeliveryRate(),
		AvgStepTimeMs:     m.GetAverageStepTime() / 1_000_000,
		ActiveWorkers:     m.ActiveWorkers.Load(),
	}
}
