package eventbus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/config"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// messageWriter is the subset of *kafka.Writer used for publishing
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams events to a Kafka topic, keyed by transaction hash
// or wallet address so that events of one entity stay ordered.
type KafkaPublisher struct {
	writer     messageWriter
	serializer *Serializer
	nodeID     string
	closed     atomic.Bool
	logger     *zap.Logger
}

// NewKafkaPublisher creates a synchronous writer from cfg.
func NewKafkaPublisher(cfg config.EventBusKafkaConfig, nodeID string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no Kafka brokers configured", ErrInvalidConfiguration)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: no Kafka topic configured", ErrInvalidConfiguration)
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: time.Duration(cfg.LingerMs) * time.Millisecond,
		Balancer:     &kafka.Hash{},
	}
	if cfg.ClientID != "" {
		writerConfig.Dialer = &kafka.Dialer{ClientID: cfg.ClientID, Timeout: 10 * time.Second}
	}
	writer := kafka.NewWriter(writerConfig)

	switch cfg.RequiredAcks {
	case 0:
		writer.RequiredAcks = kafka.RequireNone
	case 1:
		writer.RequiredAcks = kafka.RequireOne
	default:
		writer.RequiredAcks = kafka.RequireAll
	}

	return newKafkaPublisher(writer, nodeID, logger), nil
}

func newKafkaPublisher(writer messageWriter, nodeID string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:     writer,
		serializer: NewSerializer(nodeID),
		nodeID:     nodeID,
		logger:     logger.With(zap.String("backend", "kafka")),
	}
}

// Name implements Publisher.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish implements Notifier.
func (p *KafkaPublisher) Publish(ctx context.Context, event types.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := p.serializer.Serialize(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(event.Kind)},
			{Key: "node_id", Value: []byte(p.nodeID)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339Nano))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.logger.Error("error closing Kafka writer", zap.Error(err))
		return err
	}
	return nil
}
