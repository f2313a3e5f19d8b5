package list

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidInput indicates that a mutation payload failed validation before any store call.
	ErrInvalidInput = errors.New("list: invalid input")
	// ErrNotFound indicates that the mutation target is absent from the projection or store.
	ErrNotFound = errors.New("list: item not found")
	// ErrStoreUnavailable indicates a transient failure talking to the document store.
	ErrStoreUnavailable = errors.New("list: store unavailable")
	// ErrIdentityUnavailable indicates that no writer identity has been established yet.
	ErrIdentityUnavailable = errors.New("list: writer identity unavailable")

	// ErrInvalidItemID indicates that an item identifier is empty or exceeds storage bounds.
	ErrInvalidItemID = errors.New("list: invalid item id")
	// ErrInvalidWriterID indicates that a writer identifier is empty or exceeds storage bounds.
	ErrInvalidWriterID = errors.New("list: invalid writer id")
	// ErrInvalidTimestamp indicates that a unix millisecond value is not positive.
	ErrInvalidTimestamp = errors.New("list: invalid unix timestamp")
)

// ItemID represents a validated item identifier.
type ItemID string

// NewItemID validates raw input and returns an ItemID.
func NewItemID(rawInput string) (ItemID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidItemID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidItemID, maxIdentifierLength)
	}
	return ItemID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ItemID) String() string {
	return string(id)
}

// ItemName represents a validated, trimmed item name.
type ItemName string

// NewItemName validates raw input and returns an ItemName.
func NewItemName(rawInput string) (ItemName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidInput)
	}
	return ItemName(trimmed), nil
}

// String returns the underlying name.
func (n ItemName) String() string {
	return string(n)
}

// WriterID represents a validated writer identifier.
type WriterID string

// NewWriterID validates raw input and returns a WriterID.
func NewWriterID(rawInput string) (WriterID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWriterID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWriterID, maxIdentifierLength)
	}
	return WriterID(trimmed), nil
}

// String returns the underlying string identifier.
func (id WriterID) String() string {
	return string(id)
}

// UnixMillis represents a validated logical timestamp in milliseconds since epoch.
type UnixMillis int64

// NewUnixMillis validates the value and returns a UnixMillis.
func NewUnixMillis(value int64) (UnixMillis, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixMillis(value), nil
}

// Int64 exposes the raw millisecond value.
func (ts UnixMillis) Int64() int64 {
	return int64(ts)
}

// Item models a persisted shopping list entry with conflict resolution metadata.
// Name and CreatedAtMillis are write-once; the remaining mutable fields are
// overwritten wholesale by the most recent writer.
type Item struct {
	ItemID               string `gorm:"column:item_id;primaryKey;size:190;not null"`
	Name                 string `gorm:"column:name;type:text;not null"`
	Bought               bool   `gorm:"column:bought;not null;default:false;index:idx_items_bought_modified,priority:1"`
	CreatedAtMillis      int64  `gorm:"column:created_at_ms;not null"`
	LastModifiedBy       string `gorm:"column:last_modified_by;size:190;not null;default:''"`
	LastModifiedAtMillis int64  `gorm:"column:last_modified_at_ms;not null;index:idx_items_bought_modified,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "items"
}

// StatusPatch carries the only fields a status mutation ever overwrites.
// Name and creation time are never patched.
type StatusPatch struct {
	Bought         bool
	LastModifiedBy WriterID
	LastModifiedAt UnixMillis
}

// Snapshot is the complete current item set as emitted by the store, ordered
// by last modification descending. Consumers re-sort for the partition split.
type Snapshot []Item

// WriterSource supplies the current writer identity. Empty string means no
// identity has been established yet.
type WriterSource interface {
	CurrentWriterID() string
}
