package handler

import (
	"context"

	"github.com/cuemby/comet/pkg/types"
)

// Publisher accepts events for delivery to subscribers
type Publisher interface {
	Publish(ctx context.Context, ev *types.Event) error
}

// EventRelay forwards accepted events to the publisher
type EventRelay struct {
	publisher Publisher
}

// NewEventRelay returns the relay handler for p
func NewEventRelay(p Publisher) *EventRelay {
	return &EventRelay{publisher: p}
}

func (r *EventRelay) Name() string { return "relay" }

func (r *EventRelay) Handle(ctx context.Context, ev *types.Event) error {
	return r.publisher.Publish(ctx, ev)
}
