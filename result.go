package mediator

import (
	"fmt"

	"github.com/rbaliyan/mediator/store"
)

// OperationResult is the outcome of one id within a bulk operation.
type OperationResult struct {
	ID      string
	Success bool
	Error   error // nil on success
}

// BulkResult is the diagnostic of a best-effort bulk operation such as
// DeleteInboxItems. Results are in input order. All methods are nil-safe.
type BulkResult struct {
	Results []OperationResult
}

// SuccessCount returns the number of successful operations.
func (r *BulkResult) SuccessCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, res := range r.Results {
		if res.Success {
			count++
		}
	}
	return count
}

// FailureCount returns the number of failed operations.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results) - r.SuccessCount()
}

// HasFailures returns true if any operation failed.
func (r *BulkResult) HasFailures() bool {
	return r.FailureCount() > 0
}

// TotalCount returns the number of ids processed.
func (r *BulkResult) TotalCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results)
}

// FailedIDs returns the ids that failed, in input order.
func (r *BulkResult) FailedIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Err returns a *BulkOperationError if any operation failed.
func (r *BulkResult) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// record appends the outcome for id.
func (r *BulkResult) record(id string, err error) {
	r.Results = append(r.Results, OperationResult{ID: id, Success: err == nil, Error: err})
}

// BulkOperationError is returned by BulkResult.Err when some ids failed.
type BulkOperationError struct {
	Result *BulkResult
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("mediator: bulk operation failed for %d of %d items",
		e.Result.FailureCount(), e.Result.TotalCount())
}

// Unwrap returns the individual errors from failed operations.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}

// DispatchResult is the diagnostic of the notification step of a forward.
// Notification is best effort: a non-nil Err never fails the forward.
type DispatchResult struct {
	// Device is the selected device, nil when the mailbox has none.
	Device *store.Device
	// Channel is the channel name used, "" when nothing was dispatched.
	Channel string
	// Skipped is true when the caller went away before dispatch.
	Skipped bool
	// Err is ErrUnsupportedChannel, a *ChannelError, or a device lookup failure.
	Err error
}

// Delivered reports whether a channel accepted the notification.
func (d DispatchResult) Delivered() bool {
	return !d.Skipped && d.Channel != "" && d.Err == nil
}

// ForwardResult describes a queued envelope.
type ForwardResult struct {
	MailboxID string
	Item      store.Item
	Dispatch  DispatchResult
}
