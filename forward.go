package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mediator/store"
	"go.opentelemetry.io/otel/attribute"
)

// Forward routes env to its mailbox and queues it.
//
// The append runs detached from ctx: once started it completes even if the
// caller goes away. Only the notification step is skipped then. Notification
// failures are reported in ForwardResult.Dispatch and never fail the call.
func (s *service) Forward(ctx context.Context, env Envelope) (result *ForwardResult, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := env.validate(); err != nil {
		return nil, err
	}

	if err := s.forwardSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire forward slot: %w", err)
	}
	defer s.forwardSem.Release(1)
	// Close may have started while we waited for a slot.
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, done := s.otel.instrument(ctx, opForward, attribute.Int("payload_size", len(env.Payload)))
	defer func() { done(err) }()

	mailboxID, err := s.findRoute(ctx, env.To)
	if err != nil {
		s.logger.Warn("dropping envelope for unknown relay key", "relay_key", env.To, "error", err)
		return nil, err
	}

	item, err := s.appendItem(context.WithoutCancel(ctx), mailboxID, env.Payload)
	if err != nil {
		s.logger.Error("failed to queue envelope", "mailbox_id", mailboxID, "error", err)
		return nil, err
	}

	publish(ctx, s, "ItemQueued", s.events.ItemQueued, ItemQueuedEvent{
		MailboxID: mailboxID,
		ItemID:    item.ID,
		Sequence:  item.Sequence,
		QueuedAt:  time.Now().UTC(),
	})

	result = &ForwardResult{MailboxID: mailboxID, Item: item}
	if ctx.Err() != nil {
		result.Dispatch.Skipped = true
		s.logger.Debug("caller gone, skipping notification", "mailbox_id", mailboxID, "item_id", item.ID)
		return result, nil
	}

	result.Dispatch = s.dispatch(ctx, mailboxID, item)
	if result.Dispatch.Err != nil {
		s.logger.Error("notification failed",
			"mailbox_id", mailboxID,
			"item_id", item.ID,
			"channel", result.Dispatch.Channel,
			"error", result.Dispatch.Err,
		)
	}
	return result, nil
}

// dispatch selects the active device and hands the notification to the
// channel named by its Push metadata.
func (s *service) dispatch(ctx context.Context, mailboxID string, item store.Item) (res DispatchResult) {
	device, err := s.selectDevice(ctx, mailboxID)
	if err != nil {
		res.Err = err
		return res
	}
	if device == nil {
		return res
	}
	res.Device = device

	name := device.Metadata[PushMetadataKey]
	if name == "" {
		name = PollingChannel
	}
	res.Channel = name

	ch, ok := s.channels.lookup(name)
	if !ok {
		res.Err = &ChannelError{Channel: name, Op: "notify", Err: ErrUnsupportedChannel}
		return res
	}

	ctx, done := s.otel.instrument(ctx, opNotify, attribute.String("channel", name))
	err = ch.Notify(ctx, Notification{
		MailboxID: mailboxID,
		ItemID:    item.ID,
		Sequence:  item.Sequence,
		DeviceID:  device.ID,
		Vendor:    device.Vendor,
		Metadata:  device.Metadata,
	})
	done(err)
	if err != nil {
		res.Err = &ChannelError{Channel: name, Op: "notify", Err: err}
	}
	return res
}
