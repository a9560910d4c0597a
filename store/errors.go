package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a route, mailbox, partition or blob cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an empty or malformed ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrDuplicateEntry is returned when a duplicate entry is detected.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrInvalidCredentials is returned when a partition is opened with the wrong key.
	ErrInvalidCredentials = errors.New("store: invalid credentials")

	// ErrTransactionFailed is returned when a database transaction fails.
	// No changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}
