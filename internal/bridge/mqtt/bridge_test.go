package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coproc-io/coproc/internal/config"
	"github.com/coproc-io/coproc/internal/logger"
	"github.com/coproc-io/coproc/internal/ports"
	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// fakeClient implements ports.MQTTClient in memory.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]ports.MessageHandler
	published []string
	pubErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]ports.MessageHandler)}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(_ context.Context, _ string, _ byte, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, string(payload))
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ byte, handler ports.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return nil
}

func (f *fakeClient) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
}

func (f *fakeClient) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func bridgeConfig() *config.MQTTConfig {
	return &config.MQTTConfig{
		Enabled:        true,
		Brokers:        []string{"tcp://localhost:1883"},
		SubscribeTopic: "in",
		PublishTopic:   "out",
		QoS:            1,
	}
}

func TestBridge_IngressDeliversToChannel(t *testing.T) {
	rt := sched.NewRuntime(sched.Options{})
	ingress, err := rt.NewChannel()
	require.NoError(t, err)

	fc := newFakeClient()
	b := NewBridge(fc, bridgeConfig(), logger.Nop(), ingress, nil)
	require.NoError(t, b.Start(context.Background()))

	fc.deliver("in", []byte(`{"n": 42}`))

	require.Equal(t, 1, ingress.Len())
	msg, err := ingress.GetBlocking()
	require.NoError(t, err)
	s, ok := marshal.DecodeString(msg.Data)
	require.True(t, ok)
	assert.Equal(t, `{"n": 42}`, s)

	b.Stop(context.Background())
	assert.False(t, fc.IsConnected())
}

func TestBridge_EgressPublishesFromChannel(t *testing.T) {
	rt := sched.NewRuntime(sched.Options{})
	egress, err := rt.NewChannel()
	require.NoError(t, err)

	fc := newFakeClient()
	b := NewBridge(fc, bridgeConfig(), logger.Nop(), nil, egress)
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, egress.Put(marshal.EncodeString("hello")))

	deadline := time.Now().Add(time.Second)
	for fc.publishedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, fc.publishedCount())
	assert.Equal(t, "hello", fc.published[0])

	require.NoError(t, rt.Shutdown(context.Background()))
	b.Stop(context.Background())
}

func TestBridge_EgressBreakerTrips(t *testing.T) {
	rt := sched.NewRuntime(sched.Options{})
	egress, err := rt.NewChannel()
	require.NoError(t, err)

	fc := newFakeClient()
	fc.pubErr = errors.New("broker down")
	b := NewBridge(fc, bridgeConfig(), logger.Nop(), nil, egress)
	require.NoError(t, b.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, egress.Put(marshal.EncodeString("x")))
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Breaker().GetState() != "open" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "open", b.Breaker().GetState())

	require.NoError(t, rt.Shutdown(context.Background()))
	b.Stop(context.Background())
}
