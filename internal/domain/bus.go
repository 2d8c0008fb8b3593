package domain

import (
	"context"
)

// EventBus carries task messages and case submissions between pipeline
// units. Channel-backed in a single process; NATS-backed when stages are
// relocated to separate processes. Same protocol either way.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a reply (request-reply pattern).
	// This is the transport behind bus-routed task dispatch.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one bus envelope.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for bus initialization.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `json:"type" yaml:"type"`

	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"natsToken" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds
}

// Bus topics.
const (
	// TopicCaseSubmitted carries raw case submissions for async processing.
	TopicCaseSubmitted = "auditwatch.case.submitted"

	// TopicTaskPrefix prefixes per-capability task subjects, e.g.
	// auditwatch.task.detect-patterns.
	TopicTaskPrefix = "auditwatch.task."
)

// TaskTopic returns the bus subject for a capability.
func TaskTopic(c Capability) string {
	return TopicTaskPrefix + string(c)
}
