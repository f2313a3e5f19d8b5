package list

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opStoreNew       = "list.store.new"
	opStoreCreate    = "list.store.create"
	opStoreUpdate    = "list.store.update"
	opStoreDelete    = "list.store.delete"
	opStoreSubscribe = "list.store.subscribe"
	opStoreSnapshot  = "list.store.snapshot"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingWriterSource = errors.New("writer source is required")
	noOpLogger             = zap.NewNop()
)

// IDProvider issues identifiers for newly created records.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the item store adapter.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Writers    WriterSource
	Logger     *zap.Logger
}

// Store translates item mutations into document store writes and fans the
// complete current item set out to subscribers after every change.
//
// Writes are applied unconditionally in receipt order: a later Update fully
// overwrites the status fields written by an earlier one, with no merge and no
// optimistic-lock failure. That is the whole of the conflict policy.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	writers    WriterSource
	logger     *zap.Logger

	mu          sync.Mutex
	subscribers map[int64]*storeSubscriber
	nextID      int64

	// publishMu serializes snapshot queries with their deliveries. Without it
	// two publishers could query in one order and send in the other, leaving
	// subscribers holding a snapshot that predates the final committed write.
	publishMu sync.Mutex
}

type storeSubscriber struct {
	id     int64
	stream chan Snapshot
	done   chan struct{}
}

// NewStore constructs the item store adapter.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Writers == nil {
		return nil, newServiceError(opStoreNew, "missing_writer_source", errMissingWriterSource)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:          cfg.Database,
		idProvider:  cfg.IDProvider,
		writers:     cfg.Writers,
		logger:      logger,
		subscribers: make(map[int64]*storeSubscriber),
	}, nil
}

// Create inserts a new pending item stamped with the writer and logical clock,
// returning the store-assigned identifier once the write is durable.
func (s *Store) Create(ctx context.Context, name ItemName, writer WriterID, now UnixMillis) (ItemID, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opStoreCreate, "id_generation_failed", err)
		return "", newServiceError(opStoreCreate, "id_generation_failed", err)
	}

	item := Item{
		ItemID:               rawID,
		Name:                 name.String(),
		Bought:               false,
		CreatedAtMillis:      now.Int64(),
		LastModifiedBy:       writer.String(),
		LastModifiedAtMillis: now.Int64(),
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		s.logError(opStoreCreate, "insert_failed", err, zap.String("item_id", rawID))
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.publishSnapshot(ctx)
	return ItemID(rawID), nil
}

// Update overwrites an item's status fields with the patch. It never creates a
// record; the name and creation stamp are never touched.
func (s *Store) Update(ctx context.Context, id ItemID, patch StatusPatch) error {
	result := s.db.WithContext(ctx).Model(&Item{}).
		Where("item_id = ?", id.String()).
		Updates(map[string]interface{}{
			"bought":              patch.Bought,
			"last_modified_by":    patch.LastModifiedBy.String(),
			"last_modified_at_ms": patch.LastModifiedAt.Int64(),
		})
	if result.Error != nil {
		s.logError(opStoreUpdate, "update_failed", result.Error, zap.String("item_id", id.String()))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}

	s.publishSnapshot(ctx)
	return nil
}

// Delete removes an item permanently. Deleting an already-deleted id reports
// ErrNotFound rather than succeeding twice.
func (s *Store) Delete(ctx context.Context, id ItemID) error {
	result := s.db.WithContext(ctx).Where("item_id = ?", id.String()).Delete(&Item{})
	if result.Error != nil {
		s.logError(opStoreDelete, "delete_failed", result.Error, zap.String("item_id", id.String()))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}

	s.publishSnapshot(ctx)
	return nil
}

// CurrentSnapshot returns the complete current item set, ordered by last
// modification descending as the store's live query does.
func (s *Store) CurrentSnapshot(ctx context.Context) (Snapshot, error) {
	var items []Item
	if err := s.db.WithContext(ctx).
		Order("last_modified_at_ms DESC").
		Find(&items).Error; err != nil {
		s.logError(opStoreSnapshot, "query_failed", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Snapshot(items), nil
}

// Subscribe registers a callback invoked with the complete current item set on
// every change by any writer, starting with the current set. The subscription
// is gated on writer identity: until the writer source produces an id,
// ErrIdentityUnavailable is returned and no callback fires.
//
// Only the most recent snapshot is retained for a slow subscriber; stale
// intermediate snapshots are dropped rather than buffered.
func (s *Store) Subscribe(ctx context.Context, fn func(Snapshot)) (func(), error) {
	if s.writers.CurrentWriterID() == "" {
		return nil, fmt.Errorf("%w: subscription requires an established writer id", ErrIdentityUnavailable)
	}

	// The initial delivery is ordered with regular emissions so a concurrent
	// publish cannot land a newer snapshot before the initial, older one.
	s.publishMu.Lock()
	initial, err := s.CurrentSnapshot(ctx)
	if err != nil {
		s.publishMu.Unlock()
		return nil, newServiceError(opStoreSubscribe, "initial_snapshot_failed", err)
	}

	subscriber := &storeSubscriber{
		stream: make(chan Snapshot, 1),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.nextID++
	subscriber.id = s.nextID
	s.subscribers[subscriber.id] = subscriber
	s.mu.Unlock()

	subscriber.stream <- initial
	s.publishMu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[subscriber.id]; ok {
			delete(s.subscribers, subscriber.id)
			close(subscriber.done)
		}
		s.mu.Unlock()
	}

	go func() {
		for {
			select {
			case snapshot := <-subscriber.stream:
				fn(snapshot)
			case <-subscriber.done:
				return
			case <-ctx.Done():
				cancel()
				return
			}
		}
	}()

	return cancel, nil
}

func (s *Store) publishSnapshot(ctx context.Context) {
	// Query and delivery happen under one lock so successive emissions are
	// monotonically newer: the last snapshot a subscriber holds always
	// reflects the last committed write.
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if len(s.subscribers) == 0 {
		s.mu.Unlock()
		return
	}
	copies := make([]*storeSubscriber, 0, len(s.subscribers))
	for _, subscriber := range s.subscribers {
		copies = append(copies, subscriber)
	}
	s.mu.Unlock()

	snapshot, err := s.CurrentSnapshot(ctx)
	if err != nil {
		s.logger.Warn("snapshot emission skipped", zap.Error(err))
		return
	}

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- snapshot:
		default:
			// Drop the stale snapshot the subscriber has not consumed yet.
			select {
			case <-subscriber.stream:
			default:
			}
			select {
			case subscriber.stream <- snapshot:
			default:
			}
		}
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("item store error", attrs...)
}
