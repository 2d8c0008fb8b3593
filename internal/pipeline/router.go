package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/auditwatch/auditwatch/internal/bus"
	"github.com/auditwatch/auditwatch/internal/domain"
)

// Router delivers a task message to the stage implementing its capability
// and returns the stage's output. The local router resolves in-process;
// the bus router crosses a transport so stages can live elsewhere. Same
// protocol either way.
type Router interface {
	Dispatch(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error)
}

// LocalRouter dispatches against an in-process registry.
type LocalRouter struct {
	registry *Registry
}

// NewLocalRouter creates a router over a registry.
func NewLocalRouter(reg *Registry) *LocalRouter {
	return &LocalRouter{registry: reg}
}

// Dispatch resolves the capability and invokes its handler.
func (r *LocalRouter) Dispatch(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	h, err := r.registry.Resolve(msg.Capability)
	if err != nil {
		return nil, err
	}
	return h(ctx, msg)
}

// taskReply is the bus-level response envelope for a task message.
type taskReply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BusRouter dispatches task messages over the event bus using
// request-reply on per-capability subjects.
type BusRouter struct {
	bus domain.EventBus
}

// NewBusRouter creates a router over an event bus.
func NewBusRouter(b domain.EventBus) *BusRouter {
	return &BusRouter{bus: b}
}

// Dispatch publishes the message to the capability's subject and waits for
// the responder's reply.
func (r *BusRouter) Dispatch(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}

	replyData, err := r.bus.Request(ctx, domain.TaskTopic(msg.Capability), data)
	if err != nil {
		return nil, fmt.Errorf("task dispatch for %s failed: %w", msg.Capability, err)
	}

	var reply taskReply
	if err := json.Unmarshal(replyData, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("capability %s: %s", msg.Capability, reply.Error)
	}
	return reply.Result, nil
}

// BindRegistry subscribes a registry's capabilities on the bus so a
// BusRouter elsewhere can reach them. Returns the active subscriptions.
func BindRegistry(ctx context.Context, b domain.EventBus, reg *Registry) ([]domain.Subscription, error) {
	caps := reg.Capabilities()
	subs := make([]domain.Subscription, 0, len(caps))

	for _, c := range caps {
		capability := c
		sub, err := b.Subscribe(ctx, domain.TaskTopic(capability), func(ctx context.Context, msg *domain.Message) error {
			replyTo := msg.Metadata[bus.MetaReplyTo]
			if replyTo == "" {
				return fmt.Errorf("task message on %s has no reply topic", msg.Topic)
			}

			var task domain.TaskMessage
			reply := taskReply{}
			if err := json.Unmarshal(msg.Payload, &task); err != nil {
				reply.Error = fmt.Sprintf("malformed task message: %v", err)
			} else {
				h, err := reg.Resolve(task.Capability)
				if err != nil {
					reply.Error = err.Error()
				} else if result, err := h(ctx, &task); err != nil {
					reply.Error = err.Error()
				} else {
					reply.Result = result
				}
			}

			data, err := json.Marshal(reply)
			if err != nil {
				return fmt.Errorf("failed to marshal task reply: %w", err)
			}
			return b.Publish(ctx, replyTo, data)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("failed to bind capability %s: %w", capability, err)
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// newTaskMessage builds a task envelope for a stage call.
func newTaskMessage(correlationID string, sender string, capability domain.Capability, payload json.RawMessage) *domain.TaskMessage {
	return &domain.TaskMessage{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		Sender:        sender,
		Receiver:      string(capability),
		Capability:    capability,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
