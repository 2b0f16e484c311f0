package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "localhost"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 8080

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second
)

// Connector Constants
const (
	// DefaultDialTimeout bounds one connection attempt
	DefaultDialTimeout = 10 * time.Second

	// DefaultCheckInterval is how often connectivity is verified
	DefaultCheckInterval = 10 * time.Second

	// DefaultMaxBackoff caps the delay between failed connection attempts
	DefaultMaxBackoff = 2 * time.Minute

	// DefaultRetryDelay is the pause before retrying a transient node failure
	DefaultRetryDelay = 2 * time.Second

	// DefaultPollingInterval drives the block feed over http endpoints
	DefaultPollingInterval = 60 * time.Second

	// MinPollingInterval is the lowest accepted polling interval
	MinPollingInterval = 15 * time.Second

	// DefaultReplayRate is the number of headers fetched per second while replaying
	DefaultReplayRate = 20.0
)

// Storage Constants
const (
	// DefaultCacheSize is the default cache size in MB for PebbleDB
	DefaultCacheSize = 64 // MB

	// DefaultMaxOpenFiles is the default maximum number of open files for PebbleDB
	DefaultMaxOpenFiles = 500

	// DefaultWriteBuffer is the default write buffer size in MB for PebbleDB
	DefaultWriteBuffer = 16 // MB
)

// Transaction Lifecycle Constants
const (
	// DefaultMaxAttemptsToSend is how many broadcasts a transaction gets
	DefaultMaxAttemptsToSend = 3

	// DefaultMaxParallelPendingTransactions is the number of broadcasts a
	// sender may have waiting to be mined
	DefaultMaxParallelPendingTransactions = 1

	// DefaultPendingTransactionMaxDays is how long a transaction may stay
	// unseen on chain before it is failed
	DefaultPendingTransactionMaxDays = 3

	// DefaultResendInterval is the minimum delay between two broadcasts of the
	// same transaction
	DefaultResendInterval = 30 * time.Minute
)

// Orchestrator Constants
const (
	// DefaultScanInterval is the period of the catch-up scan
	DefaultScanInterval = 1 * time.Minute

	// DefaultPendingCheckInterval is the period of the pending transaction check
	DefaultPendingCheckInterval = 2 * time.Minute

	// DefaultSendInterval is the period of the send pass
	DefaultSendInterval = 30 * time.Second
)

// Admin Constants
const (
	// DefaultAdminMinLevel is the admin level required for privileged operations
	DefaultAdminMinLevel = 2

	// DefaultAdminGasLimit is the gas limit of admin transactions
	DefaultAdminGasLimit = 300000

	// DefaultAdminGasPrice is the gas price of admin transactions in wei (8 gwei)
	DefaultAdminGasPrice = 8_000_000_000
)

// EventBus Constants
const (
	// DefaultPublishBufferSize is the default buffer size for event publishing
	DefaultPublishBufferSize = 1000

	// DefaultSubscribeBufferSize is the default buffer size for a subscription
	DefaultSubscribeBufferSize = 100

	// DefaultRedisChannelPrefix is the default prefix of Redis channels
	DefaultRedisChannelPrefix = "tokenwallet"

	// DefaultRedisPoolSize is the default Redis connection pool size
	DefaultRedisPoolSize = 10

	// DefaultKafkaTopic is the default Kafka topic for notifications
	DefaultKafkaTopic = "tokenwallet-events"

	// DefaultKafkaBatchSize is the default Kafka writer batch size
	DefaultKafkaBatchSize = 100

	// DefaultPublishTimeout bounds one remote publish
	DefaultPublishTimeout = 5 * time.Second
)

// Telemetry Constants
const (
	// DefaultServiceName is the service name reported in traces
	DefaultServiceName = "tokenwallet"

	// DefaultSampleRatio is the default trace sampling ratio
	DefaultSampleRatio = 1.0
)
