package eventbus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/config"
	"github.com/0xmhha/tokenwallet-go/internal/constants"
)

// Bus is the assembled notification layer: the local bus plus every
// configured external broker behind one Fanout.
type Bus struct {
	*Fanout
	Local *LocalBus
}

// New builds the bus from configuration. The caller runs Local.Run and
// calls Close on shutdown.
func New(cfg config.EventBusConfig, metrics *Metrics, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	local := NewLocalBus(cfg.PublishBufferSize, constants.DefaultSubscribeBufferSize, metrics)
	publishers := []Publisher{local}

	if cfg.Redis.Enabled {
		redisPub, err := NewRedisPublisher(cfg.Redis, cfg.NodeID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		publishers = append(publishers, redisPub)
		logger.Info("redis publisher enabled",
			zap.Strings("addresses", cfg.Redis.Addresses),
			zap.String("channel_prefix", cfg.Redis.ChannelPrefix))
	}

	if cfg.Kafka.Enabled {
		kafkaPub, err := NewKafkaPublisher(cfg.Kafka, cfg.NodeID, logger)
		if err != nil {
			closeAll(publishers[1:])
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publishers = append(publishers, kafkaPub)
		logger.Info("kafka publisher enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	return &Bus{
		Fanout: NewFanout(logger, metrics, publishers...),
		Local:  local,
	}, nil
}

func closeAll(publishers []Publisher) {
	for _, p := range publishers {
		_ = p.Close()
	}
}
