package eventbus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/config"
	"github.com/0xmhha/tokenwallet-go/internal/constants"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// redisClient is the subset of redis.UniversalClient used for publishing
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisPublisher publishes events on Redis Pub/Sub channels named
// <prefix>:<kind>.
type RedisPublisher struct {
	client        redisClient
	serializer    *Serializer
	channelPrefix string
	writeTimeout  time.Duration
	closed        atomic.Bool
	logger        *zap.Logger
}

// NewRedisPublisher creates a standalone or cluster client from cfg.
func NewRedisPublisher(cfg config.EventBusRedisConfig, nodeID string, logger *zap.Logger) (*RedisPublisher, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: no Redis addresses configured", ErrInvalidConfiguration)
	}

	var client redis.UniversalClient
	if cfg.ClusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}
	return newRedisPublisher(client, cfg, nodeID, logger), nil
}

func newRedisPublisher(client redisClient, cfg config.EventBusRedisConfig, nodeID string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = constants.DefaultRedisChannelPrefix
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = constants.DefaultPublishTimeout
	}
	return &RedisPublisher{
		client:        client,
		serializer:    NewSerializer(nodeID),
		channelPrefix: prefix,
		writeTimeout:  timeout,
		logger:        logger.With(zap.String("backend", "redis")),
	}
}

// Name implements Publisher.
func (p *RedisPublisher) Name() string { return "redis" }

// Channel returns the channel events of kind are published on.
func (p *RedisPublisher) Channel(kind types.EventKind) string {
	return fmt.Sprintf("%s:%s", p.channelPrefix, kind)
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish implements Notifier.
func (p *RedisPublisher) Publish(ctx context.Context, event types.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	data, err := p.serializer.Serialize(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	channel := p.Channel(event.Kind)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	p.logger.Debug("event published",
		zap.String("channel", channel),
		zap.Int64("receivers", receivers))
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.client.Close()
}
