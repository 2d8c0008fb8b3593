// Package pipeline runs cases through the detection, classification,
// retrieval, generation and logging stages. The dispatcher drives the run
// state machine and writes the audit trail; the registry and routers carry
// task-message dispatch.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// Handler executes one capability's work for a task message.
type Handler func(ctx context.Context, msg *domain.TaskMessage) (json.RawMessage, error)

// Registry maps capability names to handlers. Exactly one handler per
// capability; violations are configuration defects surfaced at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.Capability]Handler
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[domain.Capability]Handler),
	}
}

// Register binds a handler to a capability name.
func (r *Registry) Register(c domain.Capability, h Handler) error {
	if c == "" {
		return fmt.Errorf("capability name is required")
	}
	if h == nil {
		return fmt.Errorf("handler is required for capability %s", c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[c]; exists {
		return fmt.Errorf("%w: %s", domain.ErrAmbiguousCapability, c)
	}
	r.handlers[c] = h
	return nil
}

// Resolve returns the handler for a capability.
func (r *Registry) Resolve(c domain.Capability) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnregisteredCapability, c)
	}
	return h, nil
}

// Capabilities lists the registered capability names, sorted.
func (r *Registry) Capabilities() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Capability, 0, len(r.handlers))
	for c := range r.handlers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
