package mediator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/mediator/store"
)

// RequestKind names a management request variant.
// Values match the message type suffix on the wire.
type RequestKind string

const (
	KindCreateMailbox    RequestKind = "create-inbox"
	KindAddRoute         RequestKind = "add-route"
	KindAddDeviceInfo    RequestKind = "add-device-info"
	KindGetInboxItems    RequestKind = "get-inbox-items"
	KindDeleteInboxItems RequestKind = "delete-inbox-items"
	KindStoreBackup      RequestKind = "store-backup"
	KindRetrieveBackup   RequestKind = "retrieve-backup"
	KindListBackups      RequestKind = "list-backups"
)

// Request is an inbox management request. The set of variants is closed.
type Request interface {
	Kind() RequestKind
	request()
}

// Response is the payload of a successful request.
// Requests without a payload return a nil Response.
type Response interface {
	response()
}

// CreateMailboxRequest creates a mailbox and binds it to the session.
// Metadata must carry an accepted shared secret under "Mobile-Secret".
type CreateMailboxRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AddRouteRequest binds a relay key to the session's mailbox.
type AddRouteRequest struct {
	RelayKey string `json:"routeDestination"`
}

// AddDeviceInfoRequest registers a device for the session's mailbox.
type AddDeviceInfoRequest struct {
	DeviceID string            `json:"deviceId"`
	Vendor   string            `json:"deviceVendor,omitempty"`
	Metadata map[string]string `json:"deviceMetadata,omitempty"`
}

// GetInboxItemsRequest lists the session's mailbox.
type GetInboxItemsRequest struct{}

// DeleteInboxItemsRequest deletes items from the session's mailbox.
type DeleteInboxItemsRequest struct {
	ItemIDs []string `json:"inboxItemIds"`
}

// StoreBackupRequest appends a backup version.
type StoreBackupRequest struct {
	BackupID    string             `json:"backupId"`
	Attachments []store.Attachment `json:"payload"`
}

// RetrieveBackupRequest fetches a backup version. Timestamp 0 means latest.
type RetrieveBackupRequest struct {
	BackupID  string `json:"backupId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// ListBackupsRequest lists the versions of a backup.
type ListBackupsRequest struct {
	BackupID string `json:"backupId"`
}

func (CreateMailboxRequest) Kind() RequestKind    { return KindCreateMailbox }
func (AddRouteRequest) Kind() RequestKind         { return KindAddRoute }
func (AddDeviceInfoRequest) Kind() RequestKind    { return KindAddDeviceInfo }
func (GetInboxItemsRequest) Kind() RequestKind    { return KindGetInboxItems }
func (DeleteInboxItemsRequest) Kind() RequestKind { return KindDeleteInboxItems }
func (StoreBackupRequest) Kind() RequestKind      { return KindStoreBackup }
func (RetrieveBackupRequest) Kind() RequestKind   { return KindRetrieveBackup }
func (ListBackupsRequest) Kind() RequestKind      { return KindListBackups }

func (CreateMailboxRequest) request()    {}
func (AddRouteRequest) request()         {}
func (AddDeviceInfoRequest) request()    {}
func (GetInboxItemsRequest) request()    {}
func (DeleteInboxItemsRequest) request() {}
func (StoreBackupRequest) request()      {}
func (RetrieveBackupRequest) request()   {}
func (ListBackupsRequest) request()      {}

// CreateMailboxResponse returns the new mailbox's id and key.
type CreateMailboxResponse struct {
	MailboxID  string `json:"inboxId"`
	MailboxKey string `json:"inboxKey"`
}

// InboxItem is one queued item as returned to the client.
type InboxItem struct {
	ID       string `json:"id"`
	Data     string `json:"data"`
	Sequence uint64 `json:"sequence"`
}

// GetInboxItemsResponse lists items in ascending sequence order.
type GetInboxItemsResponse struct {
	Items []InboxItem `json:"items"`
}

// StoreBackupResponse reports the stored version.
type StoreBackupResponse struct {
	BackupID  string `json:"backupId"`
	Timestamp int64  `json:"timestamp"`
}

// RetrieveBackupResponse returns the attachments of a version.
type RetrieveBackupResponse struct {
	BackupID    string             `json:"backupId"`
	Attachments []store.Attachment `json:"payload"`
}

// ListBackupsResponse lists version identifiers.
type ListBackupsResponse struct {
	BackupID string   `json:"backupId"`
	Versions []string `json:"versions"`
}

func (CreateMailboxResponse) response()  {}
func (GetInboxItemsResponse) response()  {}
func (StoreBackupResponse) response()    {}
func (RetrieveBackupResponse) response() {}
func (ListBackupsResponse) response()    {}

// handlerFunc executes one request variant.
type handlerFunc func(s *service, ctx context.Context, sess *Session, req Request) (Response, error)

// typed adapts a variant-specific handler to handlerFunc.
func typed[R Request](fn func(s *service, ctx context.Context, sess *Session, req R) (Response, error)) handlerFunc {
	return func(s *service, ctx context.Context, sess *Session, req Request) (Response, error) {
		r, ok := req.(R)
		if !ok {
			return nil, fmt.Errorf("%w: %T for %s", ErrInvalidRequest, req, req.Kind())
		}
		return fn(s, ctx, sess, r)
	}
}

var handlers = map[RequestKind]handlerFunc{
	KindCreateMailbox:    typed((*service).handleCreateMailbox),
	KindAddRoute:         typed((*service).handleAddRoute),
	KindAddDeviceInfo:    typed((*service).handleAddDeviceInfo),
	KindGetInboxItems:    typed((*service).handleGetInboxItems),
	KindDeleteInboxItems: typed((*service).handleDeleteInboxItems),
	KindStoreBackup:      typed((*service).handleStoreBackup),
	KindRetrieveBackup:   typed((*service).handleRetrieveBackup),
	KindListBackups:      typed((*service).handleListBackups),
}

// Handle executes a management request. The session must be connected and
// single-party; otherwise ErrInvalidState is returned before anything changes.
func (s *service) Handle(ctx context.Context, sess *Session, req Request) (Response, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrInvalidRequest
	}
	if !sess.usable() {
		return nil, ErrInvalidState
	}

	h, ok := handlers[req.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind())
	}
	return h(s, ctx, sess, req)
}

// boundMailbox returns the session's mailbox or ErrInvalidState.
func boundMailbox(sess *Session) (string, error) {
	id := sess.MailboxID()
	if id == "" {
		return "", fmt.Errorf("%w: no mailbox bound to channel %s", ErrInvalidState, sess.ChannelID)
	}
	return id, nil
}

func (s *service) handleCreateMailbox(ctx context.Context, sess *Session, req CreateMailboxRequest) (Response, error) {
	if !s.opts.secrets.Verify(ctx, req.Metadata[SecretMetadataKey]) {
		s.logger.Warn("rejected create mailbox request", "channel_id", sess.ChannelID)
		return nil, ErrUnauthorized
	}

	mb, err := s.createMailbox(ctx, sess.ChannelID)
	if err != nil {
		return nil, err
	}
	if previous := sess.Bind(mb.ID); previous != "" {
		s.logger.Warn("channel rebound to a new mailbox, previous mailbox orphaned",
			"channel_id", sess.ChannelID,
			"mailbox_id", mb.ID,
			"orphaned_mailbox_id", previous,
		)
	}
	return CreateMailboxResponse{MailboxID: mb.ID, MailboxKey: mb.Credentials.Key}, nil
}

func (s *service) handleAddRoute(ctx context.Context, sess *Session, req AddRouteRequest) (Response, error) {
	mailboxID, err := boundMailbox(sess)
	if err != nil {
		return nil, err
	}
	if req.RelayKey == "" {
		return nil, fmt.Errorf("%w: missing route destination", ErrInvalidRequest)
	}
	return nil, s.AddRoute(ctx, req.RelayKey, mailboxID)
}

// handleAddDeviceInfo never fails the request once the mailbox is known.
func (s *service) handleAddDeviceInfo(ctx context.Context, sess *Session, req AddDeviceInfoRequest) (Response, error) {
	mailboxID, err := boundMailbox(sess)
	if err != nil {
		return nil, err
	}

	err = s.AddDevice(ctx, mailboxID, DeviceInfo{ID: req.DeviceID, Vendor: req.Vendor, Metadata: req.Metadata})
	switch {
	case err == nil:
		s.logger.Info("device registered",
			"mailbox_id", mailboxID,
			"device_id", req.DeviceID,
			"push", req.Metadata[PushMetadataKey],
		)
	case errors.Is(err, ErrConflict):
		s.logger.Debug("device already registered", "mailbox_id", mailboxID, "device_id", req.DeviceID)
	default:
		s.logger.Error("failed to register device", "mailbox_id", mailboxID, "device_id", req.DeviceID, "error", err)
	}
	return nil, nil
}

func (s *service) handleGetInboxItems(ctx context.Context, sess *Session, _ GetInboxItemsRequest) (Response, error) {
	mailboxID, err := boundMailbox(sess)
	if err != nil {
		return nil, err
	}

	items, err := s.ListItems(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	resp := GetInboxItemsResponse{Items: make([]InboxItem, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, InboxItem{ID: it.ID, Data: string(it.Payload), Sequence: it.Sequence})
	}
	return resp, nil
}

// handleDeleteInboxItems deletes what it can. Per-id failures are logged,
// never reported.
func (s *service) handleDeleteInboxItems(ctx context.Context, sess *Session, req DeleteInboxItemsRequest) (Response, error) {
	mailboxID, err := boundMailbox(sess)
	if err != nil {
		return nil, err
	}

	result := s.deleteItems(ctx, mailboxID, req.ItemIDs)
	if err := result.Err(); err != nil {
		s.logger.Warn("some inbox items were not deleted",
			"mailbox_id", mailboxID,
			"failed_ids", result.FailedIDs(),
			"error", err,
		)
	}
	return nil, nil
}

// deleteItems deletes each id and records the outcome.
func (s *service) deleteItems(ctx context.Context, mailboxID string, ids []string) *BulkResult {
	result := &BulkResult{Results: make([]OperationResult, 0, len(ids))}
	for _, id := range ids {
		result.record(id, s.DeleteItem(ctx, mailboxID, id))
	}
	return result
}

func (s *service) backupStore() (store.BackupStore, error) {
	if s.backups == nil {
		return nil, ErrBackupStoreNotConfigured
	}
	return s.backups, nil
}

func (s *service) handleStoreBackup(ctx context.Context, _ *Session, req StoreBackupRequest) (Response, error) {
	b, err := s.backupStore()
	if err != nil {
		return nil, err
	}
	if req.BackupID == "" {
		return nil, fmt.Errorf("%w: missing backup id", ErrInvalidRequest)
	}

	ts, err := b.StoreBackup(ctx, req.BackupID, req.Attachments)
	if err != nil {
		return nil, fmt.Errorf("store backup: %w", err)
	}
	s.logger.Info("backup stored", "backup_id", req.BackupID, "timestamp", ts, "attachments", len(req.Attachments))
	return StoreBackupResponse{BackupID: req.BackupID, Timestamp: ts}, nil
}

func (s *service) handleRetrieveBackup(ctx context.Context, _ *Session, req RetrieveBackupRequest) (Response, error) {
	b, err := s.backupStore()
	if err != nil {
		return nil, err
	}
	if req.BackupID == "" {
		return nil, fmt.Errorf("%w: missing backup id", ErrInvalidRequest)
	}

	var attachments []store.Attachment
	if req.Timestamp == 0 {
		attachments, err = b.RetrieveBackup(ctx, req.BackupID)
	} else {
		attachments, err = b.RetrieveBackupAt(ctx, req.BackupID, req.Timestamp)
	}
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("retrieve backup: %w", err)
	}
	return RetrieveBackupResponse{BackupID: req.BackupID, Attachments: attachments}, nil
}

func (s *service) handleListBackups(ctx context.Context, _ *Session, req ListBackupsRequest) (Response, error) {
	b, err := s.backupStore()
	if err != nil {
		return nil, err
	}
	if req.BackupID == "" {
		return nil, fmt.Errorf("%w: missing backup id", ErrInvalidRequest)
	}

	resp := ListBackupsResponse{BackupID: req.BackupID, Versions: []string{}}
	for v, err := range b.ListBackups(ctx, req.BackupID) {
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		resp.Versions = append(resp.Versions, v)
	}
	return resp, nil
}
