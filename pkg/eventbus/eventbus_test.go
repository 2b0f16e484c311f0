package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/tokenwallet-go/internal/config"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

func minedEvent(hash string) types.Event {
	return types.Event{
		Kind:        types.EventTransactionMined,
		NetworkID:   1337,
		Transaction: &types.TransactionDetail{Hash: hash, NetworkID: 1337, State: types.TxStateConfirmedSuccess, Succeeded: true},
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ============================================================================
// Serializer
// ============================================================================

func TestSerializer_Envelope(t *testing.T) {
	s := NewSerializer("node-1")

	data, err := s.Serialize(minedEvent("0xabc"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"transaction.mined"`)
	assert.Contains(t, string(data), `"node_id":"node-1"`)

	event, node, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "node-1", node)
	assert.Equal(t, types.EventTransactionMined, event.Kind)
	require.NotNil(t, event.Transaction)
	assert.Equal(t, "0xabc", event.Transaction.Hash)
}

func TestSerializer_RejectsEmptyKind(t *testing.T) {
	_, err := NewSerializer("n").Serialize(types.Event{})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestSerializer_RejectsGarbage(t *testing.T) {
	_, _, err := NewSerializer("n").Deserialize([]byte("{"))
	assert.ErrorIs(t, err, ErrDeserializationFailed)
}

// ============================================================================
// LocalBus
// ============================================================================

func TestLocalBus_DeliversByKind(t *testing.T) {
	bus := NewLocalBus(10, 10, nil)
	go bus.Run()
	defer bus.Stop()

	mined := bus.Subscribe(types.EventTransactionMined)
	all := bus.Subscribe()
	require.NotNil(t, mined)
	assert.Equal(t, 2, bus.SubscriberCount())

	require.NoError(t, bus.Publish(context.Background(), types.Event{Kind: types.EventNewBlockMined, BlockNumber: 5}))
	require.NoError(t, bus.Publish(context.Background(), minedEvent("0x01")))

	got := receive(t, mined.C)
	assert.Equal(t, types.EventTransactionMined, got.Kind)

	first := receive(t, all.C)
	second := receive(t, all.C)
	assert.Equal(t, types.EventNewBlockMined, first.Kind)
	assert.Equal(t, types.EventTransactionMined, second.Kind)
}

func TestLocalBus_DropsWhenSubscriberFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	bus := NewLocalBus(10, 1, metrics)
	go bus.Run()
	defer bus.Stop()

	sub := bus.Subscribe(types.EventTransactionMined)
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), minedEvent("0x01")))
	}

	require.Eventually(t, func() bool {
		published, _, _ := bus.Stats()
		return published == 3 && sub.Dropped() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.dropped.WithLabelValues(string(types.EventTransactionMined))))
}

func TestLocalBus_PublishFailsWhenFull(t *testing.T) {
	bus := NewLocalBus(1, 1, nil)
	// not running: the single slot fills up
	require.NoError(t, bus.Publish(context.Background(), minedEvent("0x01")))
	assert.ErrorIs(t, bus.Publish(context.Background(), minedEvent("0x02")), ErrPublishFailed)
	bus.Stop()
}

func TestLocalBus_StopClosesSubscriptions(t *testing.T) {
	bus := NewLocalBus(10, 10, nil)
	go bus.Run()

	sub := bus.Subscribe()
	bus.Stop()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Nil(t, bus.Subscribe())
	assert.ErrorIs(t, bus.Publish(context.Background(), minedEvent("0x01")), ErrPublishFailed)
}

func TestLocalBus_StopWithoutRun(t *testing.T) {
	bus := NewLocalBus(10, 10, nil)
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		bus.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Run")
	}
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	bus := NewLocalBus(10, 10, nil)
	go bus.Run()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func receive(t *testing.T, ch <-chan types.Event) types.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return types.Event{}
}

// ============================================================================
// Redis
// ============================================================================

type fakeRedis struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
	closed    bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[channel] = append(f.published[channel], message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestNewRedisPublisher_NoAddresses(t *testing.T) {
	_, err := NewRedisPublisher(config.EventBusRedisConfig{}, "node-1", nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRedisPublisher_PublishesOnKindChannel(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, config.EventBusRedisConfig{ChannelPrefix: "wallet"}, "node-1", nil)

	require.NoError(t, p.Ping(context.Background()))
	require.NoError(t, p.Publish(context.Background(), minedEvent("0xabc")))

	msgs := fake.published["wallet:transaction.mined"]
	require.Len(t, msgs, 1)
	event, node, err := NewSerializer("").Deserialize(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "node-1", node)
	assert.Equal(t, "0xabc", event.Transaction.Hash)
}

func TestRedisPublisher_ErrorAndClose(t *testing.T) {
	fake := &fakeRedis{err: errors.New("connection refused")}
	p := newRedisPublisher(fake, config.EventBusRedisConfig{}, "node-1", nil)
	assert.Equal(t, "tokenwallet:wallet.modified", p.Channel(types.EventWalletModified))

	assert.Error(t, p.Publish(context.Background(), minedEvent("0x01")))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), minedEvent("0x01")), ErrClosed)
}

// ============================================================================
// Kafka
// ============================================================================

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(config.EventBusKafkaConfig{Topic: "t"}, "n", nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewKafkaPublisher(config.EventBusKafkaConfig{Brokers: []string{"localhost:9092"}}, "n", nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	p, err := NewKafkaPublisher(config.EventBusKafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", RequiredAcks: 1}, "n", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_KeysAndHeaders(t *testing.T) {
	fake := &fakeWriter{}
	p := newKafkaPublisher(fake, "node-1", nil)

	require.NoError(t, p.Publish(context.Background(), minedEvent("0xabc")))
	require.NoError(t, p.Publish(context.Background(), types.Event{Kind: types.EventWalletModified, Wallet: "0xwallet"}))

	require.Len(t, fake.messages, 2)
	assert.Equal(t, "0xabc", string(fake.messages[0].Key))
	assert.Equal(t, "0xwallet", string(fake.messages[1].Key))

	headers := map[string]string{}
	for _, h := range fake.messages[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "transaction.mined", headers["event_kind"])
	assert.Equal(t, "node-1", headers["node_id"])
	assert.NotEmpty(t, headers["timestamp"])

	require.NoError(t, p.Close())
	assert.True(t, fake.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), minedEvent("0x01")), ErrClosed)
}

// ============================================================================
// Fanout and factory
// ============================================================================

func TestFanout_FailingBackendDoesNotBlockOthers(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	broken := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "n", nil)
	healthy := &fakeRedis{}
	redisPub := newRedisPublisher(healthy, config.EventBusRedisConfig{}, "n", nil)

	f := NewFanout(nil, metrics, broken, redisPub)
	err := f.Publish(context.Background(), minedEvent("0x01"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
	assert.Len(t, healthy.published["tokenwallet:transaction.mined"], 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.errors.WithLabelValues("kafka")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.published.WithLabelValues("redis", string(types.EventTransactionMined))))
	assert.Equal(t, 2, f.Len())
	require.NoError(t, f.Close())
}

func TestNew_LocalOnly(t *testing.T) {
	bus, err := New(config.EventBusConfig{PublishBufferSize: 4}, nil, nil)
	require.NoError(t, err)
	go bus.Local.Run()

	sub := bus.Local.Subscribe(types.EventTransactionSent)
	require.NoError(t, bus.Publish(context.Background(), types.Event{Kind: types.EventTransactionSent}))
	assert.Equal(t, types.EventTransactionSent, receive(t, sub.C).Kind)
	assert.Equal(t, 1, bus.Len())
	require.NoError(t, bus.Close())
}

func TestNew_InvalidKafka(t *testing.T) {
	_, err := New(config.EventBusConfig{
		PublishBufferSize: 4,
		Redis:             config.EventBusRedisConfig{Enabled: true, Addresses: []string{"localhost:6379"}},
		Kafka:             config.EventBusKafkaConfig{Enabled: true},
	}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Publish(context.Background(), minedEvent("0x01")))
}
