package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mediator events.
const (
	EventNameItemQueued     = "mediator.item.queued"
	EventNameMailboxCreated = "mediator.mailbox.created"
	EventNameRouteAdded     = "mediator.route.added"
)

// ItemQueuedEvent is published after a forwarded envelope is durably queued.
type ItemQueuedEvent struct {
	MailboxID string    `json:"inbox_id"`
	ItemID    string    `json:"item_id"`
	Sequence  uint64    `json:"sequence"`
	QueuedAt  time.Time `json:"queued_at"`
}

// MailboxCreatedEvent is published when a mailbox is created.
type MailboxCreatedEvent struct {
	MailboxID string    `json:"inbox_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RouteAddedEvent is published when a relay key is bound.
// Previous is set when the key was rebound from another mailbox.
type RouteAddedEvent struct {
	RelayKey  string    `json:"relay_key"`
	MailboxID string    `json:"inbox_id"`
	Previous  string    `json:"previous,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
//
//	svc.Events().ItemQueued.Subscribe(ctx, handler)
type ServiceEvents struct {
	// ItemQueued is published for every queued item.
	ItemQueued event.Event[ItemQueuedEvent]

	// MailboxCreated is published when a mailbox is created.
	MailboxCreated event.Event[MailboxCreatedEvent]

	// RouteAdded is published when a relay key is bound.
	RouteAdded event.Event[RouteAddedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		ItemQueued:     event.New[ItemQueuedEvent](namePrefix + "." + EventNameItemQueued),
		MailboxCreated: event.New[MailboxCreatedEvent](namePrefix + "." + EventNameMailboxCreated),
		RouteAdded:     event.New[RouteAddedEvent](namePrefix + "." + EventNameRouteAdded),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.ItemQueued); err != nil {
		return fmt.Errorf("register ItemQueued: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailboxCreated); err != nil {
		return fmt.Errorf("register MailboxCreated: %w", err)
	}
	if err := event.Register(ctx, bus, events.RouteAdded); err != nil {
		return fmt.Errorf("register RouteAdded: %w", err)
	}
	return nil
}

// publish sends ev fire-and-forget. Failures go to the publish failure callback.
// The caller's cancellation does not stop publishing of an already committed change.
func publish[T any](ctx context.Context, s *service, name string, ev event.Event[T], payload T) {
	if s.events == nil {
		return
	}
	if err := ev.Publish(context.WithoutCancel(ctx), payload); err != nil {
		s.opts.safeEventPublishFailure(name, err)
	}
}
