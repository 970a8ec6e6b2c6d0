// Package ports defines the service interfaces (ports) used by the runtime to decouple implementations.
package ports

import (
	"context"
	"time"
)

// Logger defines the interface for logging
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field represents a logging field
type Field struct {
	Key   string
	Value interface{}
}

// MQTTClient defines the interface for MQTT operations used by the bridge
type MQTTClient interface {
	Connect(ctx context.Context) error
	Disconnect(timeout time.Duration)
	IsConnected() bool
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topics ...string) error
}

// MessageHandler is the callback for MQTT messages
type MessageHandler func(topic string, payload []byte)

// GaugeMetric represents a gauge metric
type GaugeMetric interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
}

// CounterMetric represents a counter metric
type CounterMetric interface {
	Inc()
	Add(delta float64)
}

// HistogramMetric represents a histogram metric
type HistogramMetric interface {
	Observe(value float64)
}
