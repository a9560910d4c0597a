package mediator

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mediator/store"
)

// Sentinel errors for the mediator package.
// Use errors.Is() to check for these errors.
//
// Errors that have a store-level counterpart wrap it, so
// errors.Is(err, mediator.ErrNotFound) matches store.ErrNotFound as well.
var (
	// ErrNotFound is returned when a route, mailbox or backup cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("mediator: %w", store.ErrNotFound)

	// ErrRouteNotFound is returned when a relay key has no mailbox binding.
	ErrRouteNotFound error = notFoundError("route")

	// ErrMailboxNotFound is returned when a mailbox record does not exist.
	ErrMailboxNotFound error = notFoundError("mailbox")

	// ErrBackupNotFound is returned when no backup version matches.
	ErrBackupNotFound error = notFoundError("backup")

	// ErrUnauthorized is returned when the shared secret is missing or not accepted.
	ErrUnauthorized = errors.New("mediator: unauthorized")

	// ErrInvalidState is returned when a management request arrives on a
	// channel that is not connected, is multi-party, or has no bound mailbox.
	ErrInvalidState = errors.New("mediator: invalid channel state")

	// ErrConflict is returned when a device id is already registered.
	// Wraps store.ErrDuplicateEntry for consistent error checking.
	ErrConflict = fmt.Errorf("mediator: %w", store.ErrDuplicateEntry)

	// ErrStorageUnavailable is returned when a mailbox partition cannot be opened.
	ErrStorageUnavailable = errors.New("mediator: storage unavailable")

	// ErrUnsupportedChannel is returned when a device names a notification
	// channel with no registered handler.
	ErrUnsupportedChannel = errors.New("mediator: unsupported notification channel")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mediator: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("mediator: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("mediator: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an empty id is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("mediator: %w", store.ErrInvalidID)

	// ErrInvalidRequest is returned for malformed or unknown management requests.
	ErrInvalidRequest = errors.New("mediator: invalid request")

	// ErrInvalidEnvelope is returned for malformed forward envelopes.
	ErrInvalidEnvelope = errors.New("mediator: invalid envelope")

	// ErrBackupStoreNotConfigured is returned for backup requests when no
	// backup store was configured.
	ErrBackupStoreNotConfigured = errors.New("mediator: backup store not configured")
)

// notFoundError is a kind of ErrNotFound naming what was missing.
type notFoundError string

func (e notFoundError) Error() string { return "mediator: " + string(e) + " not found" }

func (e notFoundError) Unwrap() error { return ErrNotFound }

// StorageError reports a mailbox partition that could not be opened.
type StorageError struct {
	MailboxID string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("mediator: storage unavailable: %s mailbox %s: %v", e.Op, e.MailboxID, e.Err)
}

// Unwrap matches both ErrStorageUnavailable and the underlying cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// IsStorageError checks if the error is a storage error and returns details.
func IsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ChannelError reports a notification channel failure.
type ChannelError struct {
	Channel string
	Op      string // "init", "notify" or "close"
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("mediator: channel %s %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsChannelError checks if the error is a channel error and returns details.
func IsChannelError(err error) (*ChannelError, bool) {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryableError reports whether err is worth retrying.
// Request and state errors are permanent; storage and connection errors are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	permanent := []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrInvalidState,
		ErrConflict,
		ErrInvalidID,
		ErrInvalidRequest,
		ErrInvalidEnvelope,
		ErrUnsupportedChannel,
		ErrBackupStoreNotConfigured,
		ErrStoreRequired,
		store.ErrInvalidCredentials,
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}
