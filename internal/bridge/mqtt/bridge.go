package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coproc-io/coproc/internal/config"
	"github.com/coproc-io/coproc/internal/ports"
	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/circuitbreaker"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// Bridge pumps MQTT payloads into a runtime channel (ingress) and
// drains another channel back to a topic (egress). It moves bytes at
// the process boundary only; the runtime itself never leaves the
// process.
type Bridge struct {
	client  ports.MQTTClient
	cfg     *config.MQTTConfig
	logger  ports.Logger
	breaker *circuitbreaker.Breaker

	ingress *sched.Channel
	egress  *sched.Channel

	wg sync.WaitGroup
}

// NewBridge wires client to the given channels. Either channel may be
// nil to disable that direction.
func NewBridge(client ports.MQTTClient, cfg *config.MQTTConfig, logger ports.Logger, ingress, egress *sched.Channel) *Bridge {
	return &Bridge{
		client:  client,
		cfg:     cfg,
		logger:  logger.WithFields(ports.Field{Key: "component", Value: "mqtt-bridge"}),
		breaker: circuitbreaker.New(5, 2, 30*time.Second),
		ingress: ingress,
		egress:  egress,
	}
}

// Ingress returns the channel receiving subscribed payloads.
func (b *Bridge) Ingress() *sched.Channel { return b.ingress }

// Egress returns the channel drained to the publish topic.
func (b *Bridge) Egress() *sched.Channel { return b.egress }

// Breaker exposes the publish circuit breaker for observability.
func (b *Bridge) Breaker() *circuitbreaker.Breaker { return b.breaker }

// Start connects, subscribes the ingress topic and starts the egress
// drain loop.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.client.Connect(ctx); err != nil {
		return fmt.Errorf("bridge connect: %w", err)
	}

	if b.ingress != nil && b.cfg.SubscribeTopic != "" {
		if err := b.client.Subscribe(ctx, b.cfg.SubscribeTopic, b.cfg.QoS, b.handleIngress); err != nil {
			return fmt.Errorf("bridge subscribe: %w", err)
		}
		b.logger.Info("bridge ingress active", ports.Field{Key: "topic", Value: b.cfg.SubscribeTopic})
	}

	if b.egress != nil && b.cfg.PublishTopic != "" {
		b.wg.Add(1)
		go b.egressLoop(ctx)
		b.logger.Info("bridge egress active", ports.Field{Key: "topic", Value: b.cfg.PublishTopic})
	}

	return nil
}

// Stop unsubscribes and disconnects. Egress drain stops when its
// channel closes at runtime shutdown.
func (b *Bridge) Stop(ctx context.Context) {
	if b.cfg.SubscribeTopic != "" {
		if err := b.client.Unsubscribe(ctx, b.cfg.SubscribeTopic); err != nil {
			b.logger.Warn("bridge unsubscribe failed", ports.Field{Key: "error", Value: err})
		}
	}
	b.wg.Wait()
	b.client.Disconnect(time.Second)
}

// handleIngress forwards one subscribed payload into the ingress
// channel as a string value.
func (b *Bridge) handleIngress(topic string, payload []byte) {
	if err := b.ingress.Put(marshal.EncodeString(string(payload))); err != nil {
		b.logger.Warn("ingress put failed",
			ports.Field{Key: "topic", Value: topic},
			ports.Field{Key: "error", Value: err},
		)
	}
}

// egressLoop drains the egress channel and publishes each payload, with
// the circuit breaker guarding the broker.
func (b *Bridge) egressLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		msg, err := b.egress.GetBlocking()
		if err != nil {
			// Channel closed: runtime shutdown.
			return
		}

		payload, ok := marshal.DecodeString(msg.Data)
		if !ok {
			// Non-string values travel in their envelope form.
			payload = string(msg.Data)
		}

		pubErr := b.breaker.Execute(func() error {
			return b.client.Publish(ctx, b.cfg.PublishTopic, b.cfg.QoS, false, []byte(payload))
		})
		if pubErr != nil {
			b.logger.Error("egress publish failed",
				ports.Field{Key: "topic", Value: b.cfg.PublishTopic},
				ports.Field{Key: "error", Value: pubErr},
				ports.Field{Key: "breaker", Value: b.breaker.GetState()},
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
