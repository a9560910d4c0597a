package mediator

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/rbaliyan/mediator/store"
)

// CreatedAtMetadataKey is the client-supplied device metadata hint used to
// pick the active device.
const CreatedAtMetadataKey = "CreatedAt"

// DeviceInfo describes a device registering against a mailbox.
type DeviceInfo struct {
	ID       string
	Vendor   string
	Metadata map[string]string
}

// DeviceRegistry tracks devices and picks the one to notify.
type DeviceRegistry interface {
	// AddDevice registers a device. Returns ErrConflict if the id is taken.
	AddDevice(ctx context.Context, mailboxID string, info DeviceInfo) error
	// SelectActiveDevice returns the device to notify, or nil if the mailbox has none.
	SelectActiveDevice(ctx context.Context, mailboxID string) (*store.Device, error)
}

// AddDevice registers a device for mailboxID.
func (s *service) AddDevice(ctx context.Context, mailboxID string, info DeviceInfo) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailboxID == "" || info.ID == "" {
		return ErrInvalidID
	}

	err := s.store.AddDevice(ctx, store.Device{
		ID:           info.ID,
		MailboxID:    mailboxID,
		Vendor:       info.Vendor,
		Metadata:     maps.Clone(info.Metadata),
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		if store.IsDuplicateEntry(err) {
			return ErrConflict
		}
		return fmt.Errorf("add device: %w", err)
	}
	s.logger.Debug("device registered", "mailbox_id", mailboxID, "device_id", info.ID, "vendor", info.Vendor)
	return nil
}

// SelectActiveDevice lists the mailbox's devices and picks one.
func (s *service) SelectActiveDevice(ctx context.Context, mailboxID string) (*store.Device, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.selectDevice(ctx, mailboxID)
}

func (s *service) selectDevice(ctx context.Context, mailboxID string) (*store.Device, error) {
	if mailboxID == "" {
		return nil, ErrInvalidID
	}

	devices, err := s.store.ListDevices(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	d, ok := selectActiveDevice(devices)
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// selectActiveDevice picks the device with the greatest CreatedAt hint.
// If any device lacks a numeric hint the hints are ignored and the most
// recently registered device wins. Ties keep the device registered first,
// then the lower id.
func selectActiveDevice(devices []store.Device) (store.Device, bool) {
	switch len(devices) {
	case 0:
		return store.Device{}, false
	case 1:
		return devices[0], true
	}

	// Order by registration so ties resolve the same way on every backend.
	devices = slices.Clone(devices)
	slices.SortStableFunc(devices, compareRegistration)

	hints := make([]int64, len(devices))
	for i, d := range devices {
		v, err := strconv.ParseInt(d.Metadata[CreatedAtMetadataKey], 10, 64)
		if err != nil {
			return latestRegistered(devices), true
		}
		hints[i] = v
	}

	best := 0
	for i := 1; i < len(devices); i++ {
		if hints[i] > hints[best] {
			best = i
		}
	}
	return devices[best], true
}

func compareRegistration(a, b store.Device) int {
	if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func latestRegistered(devices []store.Device) store.Device {
	best := devices[0]
	for _, d := range devices[1:] {
		if d.RegisteredAt.After(best.RegisteredAt) {
			best = d
		}
	}
	return best
}
