package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/0xmhha/tokenwallet-go/internal/constants"
	"github.com/0xmhha/tokenwallet-go/pkg/client"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "WALLET_"

// Config holds all configuration for the wallet engine
type Config struct {
	RPC          RPCConfig          `yaml:"rpc" env:", prefix=RPC_"`
	Database     DatabaseConfig     `yaml:"database" env:", prefix=DB_"`
	Log          LogConfig          `yaml:"log" env:", prefix=LOG_"`
	Chain        ChainConfig        `yaml:"chain" env:", prefix=CHAIN_"`
	Contract     ContractConfig     `yaml:"contract" env:", prefix=CONTRACT_"`
	Transactions TransactionsConfig `yaml:"transactions" env:", prefix=TX_"`
	Admin        AdminConfig        `yaml:"admin" env:", prefix=ADMIN_"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:", prefix=ORCHESTRATOR_"`
	EventBus     EventBusConfig     `yaml:"eventbus" env:", prefix=EVENTBUS_"`
	API          APIConfig          `yaml:"api" env:", prefix=API_"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:", prefix=TELEMETRY_"`
}

// RPCConfig holds node connection configuration
type RPCConfig struct {
	Endpoint        string        `yaml:"endpoint" env:"ENDPOINT"`
	DialTimeout     time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	CheckInterval   time.Duration `yaml:"check_interval" env:"CHECK_INTERVAL"`
	MaxBackoff      time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	RetryDelay      time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	PollingInterval time.Duration `yaml:"polling_interval" env:"POLLING_INTERVAL"`
	ReplayRate      float64       `yaml:"replay_rate" env:"REPLAY_RATE"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path     string `yaml:"path" env:"PATH"`
	ReadOnly bool   `yaml:"readonly" env:"READONLY"`
	Cache    int    `yaml:"cache" env:"CACHE"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ChainConfig identifies the network the engine works on
type ChainConfig struct {
	// NetworkID scopes stored transactions and the watermark
	NetworkID uint64 `yaml:"network_id" env:"NETWORK_ID"`
	// ChainID is used for EIP-155 signing. Zero reuses NetworkID.
	ChainID int64 `yaml:"chain_id" env:"CHAIN_ID"`
}

// ContractConfig holds the principal token contract
type ContractConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

// TransactionsConfig holds the send and timeout policy
type TransactionsConfig struct {
	MaxAttemptsToSend              int           `yaml:"max_attempts_to_send" env:"MAX_ATTEMPTS_TO_SEND"`
	MaxParallelPendingTransactions int           `yaml:"max_parallel_pending_transactions" env:"MAX_PARALLEL_PENDING"`
	PendingTransactionMaxDays      int           `yaml:"pending_transaction_max_days" env:"PENDING_MAX_DAYS"`
	ResendInterval                 time.Duration `yaml:"resend_interval" env:"RESEND_INTERVAL"`
}

// AdminConfig holds the admin wallet settings
type AdminConfig struct {
	// KeystorePassword encrypts the admin key at rest
	KeystorePassword string `yaml:"keystore_password,omitempty" env:"KEYSTORE_PASSWORD"`
	// PrivateKey imports an admin key on first start when none is stored
	PrivateKey string `yaml:"private_key,omitempty" env:"PRIVATE_KEY"`
	MinLevel   int    `yaml:"min_level" env:"MIN_LEVEL"`
	GasLimit   uint64 `yaml:"gas_limit" env:"GAS_LIMIT"`
	// GasPrice is in wei
	GasPrice uint64 `yaml:"gas_price" env:"GAS_PRICE"`
}

// OrchestratorConfig holds job scheduling
type OrchestratorConfig struct {
	// StartBlock is the first watermark when none is stored. Zero means the head.
	StartBlock           uint64        `yaml:"start_block" env:"START_BLOCK"`
	ScanInterval         time.Duration `yaml:"scan_interval" env:"SCAN_INTERVAL"`
	PendingCheckInterval time.Duration `yaml:"pending_check_interval" env:"PENDING_CHECK_INTERVAL"`
	SendInterval         time.Duration `yaml:"send_interval" env:"SEND_INTERVAL"`
	WatchBlocks          bool          `yaml:"watch_blocks" env:"WATCH_BLOCKS"`
}

// EventBusConfig holds notification backends
type EventBusConfig struct {
	// NodeID identifies this process in published messages
	NodeID            string              `yaml:"node_id" env:"NODE_ID"`
	PublishBufferSize int                 `yaml:"publish_buffer_size" env:"PUBLISH_BUFFER_SIZE"`
	Redis             EventBusRedisConfig `yaml:"redis" env:", prefix=REDIS_"`
	Kafka             EventBusKafkaConfig `yaml:"kafka" env:", prefix=KAFKA_"`
}

// EventBusRedisConfig holds Redis Pub/Sub configuration
type EventBusRedisConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Addresses is the list of Redis server addresses (cluster mode uses all)
	Addresses    []string      `yaml:"addresses" env:"ADDRESSES"`
	Password     string        `yaml:"password,omitempty" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ChannelPrefix is the prefix for Redis Pub/Sub channels
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	ClusterMode   bool   `yaml:"cluster_mode" env:"CLUSTER_MODE"`
}

// EventBusKafkaConfig holds Kafka configuration
type EventBusKafkaConfig struct {
	Enabled  bool     `yaml:"enabled" env:"ENABLED"`
	Brokers  []string `yaml:"brokers" env:"BROKERS"`
	Topic    string   `yaml:"topic" env:"TOPIC"`
	ClientID string   `yaml:"client_id" env:"CLIENT_ID"`
	// BatchSize is the maximum size of a message batch
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// LingerMs is the time to wait for the batch to fill
	LingerMs int `yaml:"linger_ms" env:"LINGER_MS"`
	// RequiredAcks is the number of acknowledgments required: 0, 1, -1 (all)
	RequiredAcks int `yaml:"required_acks" env:"REQUIRED_ACKS"`
}

// APIConfig holds the health and metrics server configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Host    string `yaml:"host" env:"HOST"`
	Port    int    `yaml:"port" env:"PORT"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Endpoint is the OTLP/HTTP collector, host:port
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.DialTimeout == 0 {
		c.RPC.DialTimeout = constants.DefaultDialTimeout
	}
	if c.RPC.CheckInterval == 0 {
		c.RPC.CheckInterval = constants.DefaultCheckInterval
	}
	if c.RPC.MaxBackoff == 0 {
		c.RPC.MaxBackoff = constants.DefaultMaxBackoff
	}
	if c.RPC.RetryDelay == 0 {
		c.RPC.RetryDelay = constants.DefaultRetryDelay
	}
	if c.RPC.PollingInterval == 0 {
		c.RPC.PollingInterval = constants.DefaultPollingInterval
	}
	if c.RPC.ReplayRate == 0 {
		c.RPC.ReplayRate = constants.DefaultReplayRate
	}

	// Database defaults
	if c.Database.Cache == 0 {
		c.Database.Cache = constants.DefaultCacheSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Transaction defaults
	if c.Transactions.MaxAttemptsToSend == 0 {
		c.Transactions.MaxAttemptsToSend = constants.DefaultMaxAttemptsToSend
	}
	if c.Transactions.MaxParallelPendingTransactions == 0 {
		c.Transactions.MaxParallelPendingTransactions = constants.DefaultMaxParallelPendingTransactions
	}
	if c.Transactions.PendingTransactionMaxDays == 0 {
		c.Transactions.PendingTransactionMaxDays = constants.DefaultPendingTransactionMaxDays
	}
	if c.Transactions.ResendInterval == 0 {
		c.Transactions.ResendInterval = constants.DefaultResendInterval
	}

	// Admin defaults
	if c.Admin.MinLevel == 0 {
		c.Admin.MinLevel = constants.DefaultAdminMinLevel
	}
	if c.Admin.GasLimit == 0 {
		c.Admin.GasLimit = constants.DefaultAdminGasLimit
	}
	if c.Admin.GasPrice == 0 {
		c.Admin.GasPrice = constants.DefaultAdminGasPrice
	}

	// Orchestrator defaults
	if c.Orchestrator.ScanInterval == 0 {
		c.Orchestrator.ScanInterval = constants.DefaultScanInterval
	}
	if c.Orchestrator.PendingCheckInterval == 0 {
		c.Orchestrator.PendingCheckInterval = constants.DefaultPendingCheckInterval
	}
	if c.Orchestrator.SendInterval == 0 {
		c.Orchestrator.SendInterval = constants.DefaultSendInterval
	}

	// EventBus defaults
	if c.EventBus.PublishBufferSize == 0 {
		c.EventBus.PublishBufferSize = constants.DefaultPublishBufferSize
	}
	if c.EventBus.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.EventBus.NodeID = host
		}
	}
	if c.EventBus.Redis.ChannelPrefix == "" {
		c.EventBus.Redis.ChannelPrefix = constants.DefaultRedisChannelPrefix
	}
	if c.EventBus.Redis.PoolSize == 0 {
		c.EventBus.Redis.PoolSize = constants.DefaultRedisPoolSize
	}
	if c.EventBus.Kafka.Topic == "" {
		c.EventBus.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.EventBus.Kafka.BatchSize == 0 {
		c.EventBus.Kafka.BatchSize = constants.DefaultKafkaBatchSize
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = constants.DefaultServiceName
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = constants.DefaultSampleRatio
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overrides values with WALLET_ prefixed environment variables
func (c *Config) LoadFromEnv(ctx context.Context) error {
	return c.loadFromLookuper(ctx, envconfig.OsLookuper())
}

func (c *Config) loadFromLookuper(ctx context.Context, lookuper envconfig.Lookuper) error {
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           c,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	})
	if err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if err := client.ValidateEndpoint(c.RPC.Endpoint); err != nil {
		return fmt.Errorf("invalid rpc configuration: %w", err)
	}
	if c.RPC.PollingInterval < constants.MinPollingInterval {
		return fmt.Errorf("rpc polling interval must be at least %s", constants.MinPollingInterval)
	}
	if c.RPC.ReplayRate <= 0 {
		return fmt.Errorf("rpc replay rate must be positive")
	}

	// Validate database configuration
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate chain and contract configuration
	if c.Chain.NetworkID == 0 {
		return fmt.Errorf("chain network id is required")
	}
	if c.Contract.Address == "" {
		return fmt.Errorf("contract address is required")
	}

	// Validate transaction policy
	if c.Transactions.MaxAttemptsToSend <= 0 {
		return fmt.Errorf("max attempts to send must be positive")
	}
	if c.Transactions.MaxParallelPendingTransactions <= 0 {
		return fmt.Errorf("max parallel pending transactions must be positive")
	}
	if c.Transactions.PendingTransactionMaxDays < 0 {
		return fmt.Errorf("pending transaction max days cannot be negative")
	}

	// Validate admin configuration
	if c.Admin.MinLevel < 0 {
		return fmt.Errorf("admin min level cannot be negative")
	}

	// Validate EventBus configuration
	if c.EventBus.PublishBufferSize <= 0 {
		return fmt.Errorf("eventbus publish buffer size must be positive")
	}
	if c.EventBus.Redis.Enabled {
		if len(c.EventBus.Redis.Addresses) == 0 {
			return fmt.Errorf("redis eventbus enabled but no addresses configured")
		}
		if c.EventBus.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis pool size must be positive")
		}
	}
	if c.EventBus.Kafka.Enabled {
		if len(c.EventBus.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka eventbus enabled but no brokers configured")
		}
		if c.EventBus.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	// Validate API configuration
	if c.API.Enabled && (c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort) {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}

	// Validate telemetry configuration
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]")
	}

	return nil
}

// SigningChainID returns the chain ID used for transaction signatures
func (c *Config) SigningChainID() int64 {
	if c.Chain.ChainID != 0 {
		return c.Chain.ChainID
	}
	return int64(c.Chain.NetworkID)
}

// Load is a convenience method that loads configuration in the following order:
// 1. Set defaults
// 2. Load from file (if provided)
// 3. Load from environment variables (override file)
// 4. Validate
func Load(ctx context.Context, configFile string) (*Config, error) {
	cfg := NewConfig()

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(ctx); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
