package mediator

import (
	"context"
	"errors"
	"log/slog"
)

// PollingChannel is the channel used when a device names none.
// It performs no outbound action; the client polls GetInboxItems.
const PollingChannel = "Polling"

// PushMetadataKey is the device metadata entry naming its notification channel.
const PushMetadataKey = "Push"

// Channel delivers a nudge to a device that new items are waiting.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Name returns the channel identifier matched against device metadata["Push"].
	Name() string
	// Notify sends the notification. Errors are logged by the caller, never fatal.
	Notify(ctx context.Context, n Notification) error
}

// ChannelLifecycle is implemented by channels that hold resources.
// Init is called when the service connects, Close when it closes.
type ChannelLifecycle interface {
	Init(ctx context.Context) error
	Close(ctx context.Context) error
}

// Notification describes a queued item for a selected device.
type Notification struct {
	MailboxID string
	ItemID    string
	Sequence  uint64
	DeviceID  string
	Vendor    string
	Metadata  map[string]string
}

// polling is the built-in no-op channel.
type polling struct{}

func (polling) Name() string                                { return PollingChannel }
func (polling) Notify(context.Context, Notification) error { return nil }

// channelRegistry maps channel names to handlers.
// It is built once in NewService and read-only afterwards.
type channelRegistry struct {
	byName map[string]Channel
	all    []Channel // registration order, for lifecycle
	logger *slog.Logger
}

// newChannelRegistry creates a registry holding the Polling channel.
func newChannelRegistry(logger *slog.Logger) *channelRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &channelRegistry{
		byName: map[string]Channel{PollingChannel: polling{}},
		logger: logger,
	}
}

// register adds a channel. A later channel with the same name replaces an earlier one.
func (r *channelRegistry) register(c Channel) {
	r.byName[c.Name()] = c
	r.all = append(r.all, c)
}

// lookup returns the channel registered under name.
func (r *channelRegistry) lookup(name string) (Channel, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// initAll initializes channels with a lifecycle.
// On failure, already-initialized channels are closed in reverse order.
func (r *channelRegistry) initAll(ctx context.Context) error {
	for i, c := range r.all {
		lc, ok := c.(ChannelLifecycle)
		if !ok {
			continue
		}
		if err := lc.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev, ok := r.all[j].(ChannelLifecycle)
				if !ok {
					continue
				}
				if closeErr := prev.Close(ctx); closeErr != nil {
					r.logger.Error("failed to close channel during init rollback",
						"channel", r.all[j].Name(), "error", closeErr)
				}
			}
			return &ChannelError{Channel: c.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes channels with a lifecycle in reverse order.
func (r *channelRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		lc, ok := r.all[i].(ChannelLifecycle)
		if !ok {
			continue
		}
		if err := lc.Close(ctx); err != nil {
			errs = append(errs, &ChannelError{Channel: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}
