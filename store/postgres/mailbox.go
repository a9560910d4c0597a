package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mediator/store"
)

// mailboxRow is the mailboxes table row.
type mailboxRow struct {
	ID          string    `db:"id"`
	PartitionID string    `db:"partition_id"`
	StorageType string    `db:"storage_type"`
	InboxKey    string    `db:"inbox_key"`
	CreatedAt   time.Time `db:"created_at"`
}

// itemRow is the items table row.
type itemRow struct {
	ID        string    `db:"id"`
	Sequence  int64     `db:"sequence"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (r itemRow) toItem() store.Item {
	return store.Item{ID: r.ID, Payload: r.Payload, Sequence: uint64(r.Sequence), CreatedAt: r.CreatedAt}
}

// CreatePartition inserts a partition row with a zero sequence counter.
func (s *Store) CreatePartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if cfg.ID == "" {
		return store.ErrInvalidID
	}

	hash, err := store.HashCredentials(creds, s.opts.hashCost)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (id, storage_type, key_hash, created_at) VALUES ($1, $2, $3, $4)`, s.partitions)
	if _, err := s.db.ExecContext(ctx, query, cfg.ID, cfg.StorageType, hash, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("create partition: %w", err)
	}
	return nil
}

// OpenPartition checks creds against the stored hash.
func (s *Store) OpenPartition(ctx context.Context, cfg store.PartitionConfig, creds store.Credentials) (store.Partition, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var hash []byte
	query := fmt.Sprintf(`SELECT key_hash FROM %s WHERE id = $1`, s.partitions)
	if err := s.db.GetContext(ctx, &hash, query, cfg.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("open partition: %w", err)
	}
	if err := store.VerifyCredentials(hash, creds); err != nil {
		return nil, err
	}
	return &partition{s: s, id: cfg.ID}, nil
}

// AddMailbox inserts a mailbox record.
func (s *Store) AddMailbox(ctx context.Context, mb store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mb.ID == "" {
		return store.ErrInvalidID
	}
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, partition_id, storage_type, inbox_key, created_at)
		VALUES (:id, :partition_id, :storage_type, :inbox_key, :created_at)
	`, s.mailboxes)
	row := mailboxRow{
		ID:          mb.ID,
		PartitionID: mb.Partition.ID,
		StorageType: mb.Partition.StorageType,
		InboxKey:    mb.Credentials.Key,
		CreatedAt:   mb.CreatedAt,
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("add mailbox: %w", err)
	}
	return nil
}

// GetMailbox returns a mailbox record.
func (s *Store) GetMailbox(ctx context.Context, id string) (store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return store.Mailbox{}, err
	}
	if id == "" {
		return store.Mailbox{}, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row mailboxRow
	query := fmt.Sprintf(`SELECT id, partition_id, storage_type, inbox_key, created_at FROM %s WHERE id = $1`, s.mailboxes)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Mailbox{}, store.ErrNotFound
		}
		return store.Mailbox{}, fmt.Errorf("get mailbox: %w", err)
	}
	return store.Mailbox{
		ID:          row.ID,
		Partition:   store.PartitionConfig{ID: row.PartitionID, StorageType: row.StorageType},
		Credentials: store.Credentials{Key: row.InboxKey},
		CreatedAt:   row.CreatedAt,
	}, nil
}

// partition is the store.Partition returned by OpenPartition.
type partition struct {
	s  *Store
	id string
}

// Append bumps the partition counter and inserts the item in one transaction.
// The counter row stays locked until commit, so sequences follow commit order.
func (p *partition) Append(ctx context.Context, payload []byte) (store.Item, error) {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return store.Item{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Item{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	bump := fmt.Sprintf(`UPDATE %s SET next_sequence = next_sequence + 1 WHERE id = $1 RETURNING next_sequence`, s.partitions)
	if err := tx.QueryRowxContext(ctx, bump, p.id).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, fmt.Errorf("allocate sequence: %w", err)
	}

	row := itemRow{ID: uuid.New().String(), Sequence: seq, Payload: payload, CreatedAt: time.Now().UTC()}
	insert := fmt.Sprintf(`INSERT INTO %s (id, partition_id, sequence, payload, created_at) VALUES ($1, $2, $3, $4, $5)`, s.items)
	if _, err := tx.ExecContext(ctx, insert, row.ID, p.id, row.Sequence, row.Payload, row.CreatedAt); err != nil {
		return store.Item{}, fmt.Errorf("insert item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return store.Item{}, fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return row.toItem(), nil
}

// List returns every item of the partition.
func (p *partition) List(ctx context.Context) ([]store.Item, error) {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []itemRow
	query := fmt.Sprintf(`SELECT id, sequence, payload, created_at FROM %s WHERE partition_id = $1`, s.items)
	if err := s.db.SelectContext(ctx, &rows, query, p.id); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	items := make([]store.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, nil
}

// Delete removes an item; missing items are ignored.
func (p *partition) Delete(ctx context.Context, itemID string) error {
	s := p.s
	if err := s.checkConnected(); err != nil {
		return err
	}
	if itemID == "" {
		return store.ErrInvalidID
	}
	if _, err := uuid.Parse(itemID); err != nil {
		return nil // no item can carry a non-UUID id
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND partition_id = $2`, s.items)
	if _, err := s.db.ExecContext(ctx, query, itemID, p.id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}
