package list

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var errMissingStore = errors.New("item store is required")

// ServiceError carries a stable operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "list.service.new"
	opAddItem      = "list.add_item"
	opToggleItem   = "list.toggle_item"
	opDeleteItem   = "list.delete_item"
	opStartService = "list.service.start"

	eventItemAdded   = "item_added"
	eventItemToggled = "item_toggled"
	eventItemDeleted = "item_deleted"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Recorder receives fire-and-forget analytics events. Implementations must
// never let a recording failure reach the caller.
type Recorder interface {
	Record(eventName string, attributes map[string]string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, map[string]string) {}

// ServiceConfig describes the dependencies of the mutation coordinator.
type ServiceConfig struct {
	Store    *Store
	Writers  WriterSource
	Clock    func() time.Time
	Events   Recorder
	Logger   *zap.Logger
	PageSize int
}

// Service validates and applies add/toggle/delete intents against the store
// and maintains the in-memory projection fed by the store's live subscription.
//
// The projection is replaced wholesale on every snapshot emission, never
// mutated in place, so readers always observe a complete, consistent set.
type Service struct {
	store     *Store
	writers   WriterSource
	clock     func() time.Time
	events    Recorder
	logger    *zap.Logger
	paginator *Paginator

	mu       sync.RWMutex
	snapshot Snapshot
	byID     map[string]Item
}

// NewService constructs the mutation coordinator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Writers == nil {
		return nil, newServiceError(opServiceNew, "missing_writer_source", errMissingWriterSource)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	events := cfg.Events
	if events == nil {
		events = nopRecorder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:     cfg.Store,
		writers:   cfg.Writers,
		clock:     clock,
		events:    events,
		logger:    logger,
		paginator: NewPaginator(cfg.PageSize),
		byID:      make(map[string]Item),
	}, nil
}

// Start attaches the coordinator to the store's live subscription so the
// projection tracks every change by any writer. It fails with
// ErrIdentityUnavailable until a writer identity has been established.
func (s *Service) Start(ctx context.Context) (func(), error) {
	cancel, err := s.store.Subscribe(ctx, s.applySnapshot)
	if err != nil {
		if errors.Is(err, ErrIdentityUnavailable) {
			return nil, err
		}
		return nil, newServiceError(opStartService, "subscribe_failed", err)
	}
	return cancel, nil
}

func (s *Service) applySnapshot(snapshot Snapshot) {
	indexed := make(map[string]Item, len(snapshot))
	for _, item := range snapshot {
		indexed[item.ItemID] = item
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.byID = indexed
	s.mu.Unlock()
}

// Projection returns the latest confirmed snapshot. The returned slice is the
// projection itself and must not be mutated by callers.
func (s *Service) Projection() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// View derives the visible page of a partition from the latest projection
// using the partition's current cursor, returning the slice and total count.
func (s *Service) View(partition Partition) ([]Item, int) {
	pending, bought := PartitionItems(s.Projection())
	ordered := pending
	if partition == PartitionBought {
		ordered = bought
	}
	return Page(ordered, s.paginator.Cursor(partition))
}

// SetPage moves a partition's page cursor. The cursor survives unrelated item
// mutations and is never clamped when the partition shrinks.
func (s *Service) SetPage(partition Partition, pageIndex int) {
	s.paginator.SetPage(partition, pageIndex)
}

// AddItem creates a new pending item attributed to the writer. It returns only
// after the store has acknowledged the write; the projection updates via the
// next subscription emission, not via this call.
func (s *Service) AddItem(ctx context.Context, rawName, rawWriter string) (ItemID, error) {
	name, err := NewItemName(rawName)
	if err != nil {
		return "", err
	}
	writer, err := NewWriterID(rawWriter)
	if err != nil {
		return "", fmt.Errorf("%w: mutation requires a writer id", ErrIdentityUnavailable)
	}

	now, err := NewUnixMillis(s.clock().UnixMilli())
	if err != nil {
		return "", newServiceError(opAddItem, "clock_failed", err)
	}

	id, err := s.store.Create(ctx, name, writer, now)
	if err != nil {
		s.logError(opAddItem, "create_failed", err, zap.String("writer_id", writer.String()))
		return "", err
	}

	s.events.Record(eventItemAdded, map[string]string{
		"item_id":   id.String(),
		"writer_id": writer.String(),
	})
	return id, nil
}

// ToggleItem flips an item's bought flag, reading the current value from the
// latest known projection rather than a fresh store read. The resulting update
// overwrites whatever a concurrent writer stored in the meantime; that
// stale-read window is inherent to the last-writer-wins policy.
func (s *Service) ToggleItem(ctx context.Context, rawID, rawWriter string) error {
	id, err := NewItemID(rawID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, rawID)
	}
	writer, err := NewWriterID(rawWriter)
	if err != nil {
		return fmt.Errorf("%w: mutation requires a writer id", ErrIdentityUnavailable)
	}

	current, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}

	now, err := NewUnixMillis(s.clock().UnixMilli())
	if err != nil {
		return newServiceError(opToggleItem, "clock_failed", err)
	}

	patch := StatusPatch{
		Bought:         !current.Bought,
		LastModifiedBy: writer,
		LastModifiedAt: now,
	}
	if err := s.store.Update(ctx, id, patch); err != nil {
		s.logError(opToggleItem, "update_failed", err,
			zap.String("item_id", id.String()),
			zap.String("writer_id", writer.String()))
		return err
	}

	s.events.Record(eventItemToggled, map[string]string{
		"item_id":   id.String(),
		"writer_id": writer.String(),
		"bought":    strconv.FormatBool(patch.Bought),
	})
	return nil
}

// DeleteItem removes an item permanently. Deleting an id absent from the
// projection fails with ErrNotFound without touching the store.
func (s *Service) DeleteItem(ctx context.Context, rawID string) error {
	if s.writers.CurrentWriterID() == "" {
		return fmt.Errorf("%w: mutation requires a writer id", ErrIdentityUnavailable)
	}
	id, err := NewItemID(rawID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, rawID)
	}
	if _, ok := s.lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}

	if err := s.store.Delete(ctx, id); err != nil {
		s.logError(opDeleteItem, "delete_failed", err, zap.String("item_id", id.String()))
		return err
	}

	s.events.Record(eventItemDeleted, map[string]string{
		"item_id": id.String(),
	})
	return nil
}

func (s *Service) lookup(id ItemID) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.byID[id.String()]
	return item, ok
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("list service error", attrs...)
}
