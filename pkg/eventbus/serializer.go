package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Serializer encodes events for external brokers.
type Serializer struct {
	nodeID string
	now    func() time.Time
}

// NewSerializer creates a serializer stamping messages with nodeID.
func NewSerializer(nodeID string) *Serializer {
	return &Serializer{nodeID: nodeID, now: time.Now}
}

// envelope wraps an event with routing information
type envelope struct {
	Kind      types.EventKind `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	NodeID    string          `json:"node_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Serialize encodes an event into its envelope.
func (s *Serializer) Serialize(event types.Event) ([]byte, error) {
	if event.Kind == "" {
		return nil, fmt.Errorf("%w: event kind is empty", ErrSerializationFailed)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	out, err := json.Marshal(envelope{
		Kind:      event.Kind,
		Timestamp: event.Timestamp,
		NodeID:    s.nodeID,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return out, nil
}

// Deserialize decodes an envelope, returning the event and the sending node.
func (s *Serializer) Deserialize(data []byte) (types.Event, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return types.Event{}, "", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	var event types.Event
	if err := json.Unmarshal(env.Data, &event); err != nil {
		return types.Event{}, "", fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	if event.Kind != env.Kind {
		return types.Event{}, "", fmt.Errorf("%w: kind mismatch %q != %q", ErrDeserializationFailed, event.Kind, env.Kind)
	}
	return event, env.NodeID, nil
}
