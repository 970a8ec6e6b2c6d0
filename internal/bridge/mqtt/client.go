// Package mqtt implements the transport bridge between MQTT topics and
// runtime channels, with a paho client using a lock-free handler
// registry and optional TLS.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/coproc-io/coproc/internal/config"
	"github.com/coproc-io/coproc/internal/ports"
)

// client implements ports.MQTTClient using paho.
type client struct {
	client mqttlib.Client
	cfg    *config.MQTTConfig
	logger ports.Logger

	isConnected atomic.Bool

	// Handlers registry (lock-free via atomic pointer to immutable map)
	handlers atomic.Pointer[map[string]ports.MessageHandler]
}

// NewClient creates a new MQTT client.
func NewClient(cfg *config.MQTTConfig, logger ports.Logger) (ports.MQTTClient, error) {
	c := &client{
		cfg:    cfg,
		logger: logger.WithFields(ports.Field{Key: "component", Value: "mqtt-client"}),
	}

	initial := make(map[string]ports.MessageHandler)
	c.handlers.Store(&initial)

	opts := mqttlib.NewClientOptions()
	for _, broker := range cfg.Brokers {
		opts.AddBroker(broker)
	}
	// A unique suffix prevents client-id collisions between processes
	// sharing one configuration.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive.Std())
	opts.SetConnectTimeout(cfg.ConnectTimeout.Std())
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval.Std())
	opts.SetAutoReconnect(true)
	opts.SetProtocolVersion(4) // MQTT 3.1.1

	if cfg.TLS.Enabled {
		tlsConf, err := createTLSConfig(&cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConf)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqttlib.NewClient(opts)
	return c, nil
}

func createTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	tlsConf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkip, // #nosec G402 -- operator opt-in
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates in %s", cfg.CACert)
		}
		tlsConf.RootCAs = pool
	}
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}
	return tlsConf, nil
}

func (c *client) onConnect(cli mqttlib.Client) {
	c.isConnected.Store(true)
	c.logger.Info("MQTT connected")

	current := c.handlers.Load()
	if current == nil {
		return
	}
	for topic := range *current {
		c.logger.Info("Re-subscribing to MQTT topic", ports.Field{Key: "topic", Value: topic})
		token := cli.Subscribe(topic, c.cfg.QoS, c.onMessage)
		if ok := token.WaitTimeout(c.cfg.WriteTimeout.Std()); !ok || token.Error() != nil {
			c.logger.Error("Failed to re-subscribe topic",
				ports.Field{Key: "topic", Value: topic},
				ports.Field{Key: "error", Value: token.Error()},
			)
		}
	}
}

func (c *client) onConnectionLost(_ mqttlib.Client, err error) {
	c.isConnected.Store(false)
	c.logger.Warn("MQTT connection lost", ports.Field{Key: "error", Value: err})
}

func (c *client) onMessage(_ mqttlib.Client, msg mqttlib.Message) {
	current := c.handlers.Load()
	if current == nil {
		return
	}
	if handler, ok := (*current)[msg.Topic()]; ok {
		handler(msg.Topic(), msg.Payload())
	}
}

// Connect establishes the connection to the brokers.
func (c *client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	deadline := time.Now().Add(c.cfg.ConnectTimeout.Std())
	for !token.WaitTimeout(100 * time.Millisecond) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mqtt connect timed out")
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Disconnect closes the connection gracefully.
func (c *client) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds())) // #nosec G115 -- bounded by caller
	c.isConnected.Store(false)
}

// IsConnected reports the connection state.
func (c *client) IsConnected() bool {
	return c.isConnected.Load() && c.client.IsConnected()
}

// Publish sends payload to topic.
func (c *client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if ok := token.WaitTimeout(c.cfg.WriteTimeout.Std()); !ok {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return ctx.Err()
}

// Subscribe registers handler for topic. The registry swap is
// copy-on-write so onMessage never takes a lock.
func (c *client) Subscribe(_ context.Context, topic string, qos byte, handler ports.MessageHandler) error {
	for {
		current := c.handlers.Load()
		next := make(map[string]ports.MessageHandler, len(*current)+1)
		for k, v := range *current {
			next[k] = v
		}
		next[topic] = handler
		if c.handlers.CompareAndSwap(current, &next) {
			break
		}
	}

	token := c.client.Subscribe(topic, qos, c.onMessage)
	if ok := token.WaitTimeout(c.cfg.WriteTimeout.Std()); !ok {
		return fmt.Errorf("mqtt subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes topics from the registry and the broker.
func (c *client) Unsubscribe(_ context.Context, topics ...string) error {
	for {
		current := c.handlers.Load()
		next := make(map[string]ports.MessageHandler, len(*current))
		for k, v := range *current {
			next[k] = v
		}
		for _, t := range topics {
			delete(next, t)
		}
		if c.handlers.CompareAndSwap(current, &next) {
			break
		}
	}

	token := c.client.Unsubscribe(topics...)
	if ok := token.WaitTimeout(c.cfg.WriteTimeout.Std()); !ok {
		return fmt.Errorf("mqtt unsubscribe timed out")
	}
	return token.Error()
}
