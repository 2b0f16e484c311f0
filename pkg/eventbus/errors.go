package eventbus

import "errors"

// Common errors for event bus operations
var (
	// ErrPublishFailed indicates the local bus could not accept an event
	ErrPublishFailed = errors.New("failed to publish event: channel full or bus stopped")

	// ErrClosed indicates a publisher was used after Close
	ErrClosed = errors.New("publisher is closed")

	// ErrSerializationFailed indicates event serialization failure
	ErrSerializationFailed = errors.New("failed to serialize event")

	// ErrDeserializationFailed indicates event deserialization failure
	ErrDeserializationFailed = errors.New("failed to deserialize event")

	// ErrInvalidConfiguration indicates invalid event bus configuration
	ErrInvalidConfiguration = errors.New("invalid event bus configuration")
)
