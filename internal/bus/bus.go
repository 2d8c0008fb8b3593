// Package bus provides the event bus implementations behind task-message
// dispatch and async case submission.
package bus

import (
	"fmt"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// MetaReplyTo carries the reply topic for request-reply exchanges. The
// channel bus sets it on request envelopes; the NATS bus maps it onto the
// wire-level reply inbox so responders behave identically on both.
const MetaReplyTo = "reply_to"

// New creates an event bus from configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
