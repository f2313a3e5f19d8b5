package list

import (
	"fmt"
	"sync"
)

// DefaultPageSize is the page size used when a paginator is constructed
// without an explicit size.
const DefaultPageSize = 10

// Partition names one of the two derived item sub-views.
type Partition string

const (
	// PartitionPending holds items that have not been bought yet.
	PartitionPending Partition = "pending"
	// PartitionBought holds items already marked as bought.
	PartitionBought Partition = "bought"
)

// ParsePartition validates a raw partition name.
func ParsePartition(rawInput string) (Partition, error) {
	switch Partition(rawInput) {
	case PartitionPending:
		return PartitionPending, nil
	case PartitionBought:
		return PartitionBought, nil
	default:
		return "", fmt.Errorf("%w: unknown partition %q", ErrInvalidInput, rawInput)
	}
}

// PageCursor is the ephemeral view state of one partition: a zero-based page
// index and a page size.
type PageCursor struct {
	Index int
	Size  int
}

// Page returns the visible slice of an ordered partition for the given cursor,
// together with the partition's total count. Out-of-range cursors yield an
// empty slice, never a panic.
func Page(ordered []Item, cursor PageCursor) ([]Item, int) {
	total := len(ordered)
	if cursor.Size <= 0 || cursor.Index < 0 {
		return []Item{}, total
	}
	start := cursor.Index * cursor.Size
	if start >= total {
		return []Item{}, total
	}
	end := start + cursor.Size
	if end > total {
		end = total
	}
	return ordered[start:end], total
}

// Paginator tracks independent page cursors for the pending and bought
// partitions. Cursors move only on explicit SetPage calls; they are never
// clamped or reset when the underlying partition shrinks, so a cursor may
// point past the end until the user pages back.
type Paginator struct {
	mu      sync.Mutex
	cursors map[Partition]PageCursor
}

// NewPaginator constructs a paginator with both cursors at page zero.
func NewPaginator(pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		cursors: map[Partition]PageCursor{
			PartitionPending: {Index: 0, Size: pageSize},
			PartitionBought:  {Index: 0, Size: pageSize},
		},
	}
}

// Cursor returns the current cursor for a partition.
func (p *Paginator) Cursor(partition Partition) PageCursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursors[partition]
}

// SetPage moves a partition's cursor to the given page index. The index is not
// validated against the partition's current total count; clamping is a caller
// concern. Negative indexes are ignored.
func (p *Paginator) SetPage(partition Partition, pageIndex int) {
	if pageIndex < 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cursor, ok := p.cursors[partition]
	if !ok {
		return
	}
	cursor.Index = pageIndex
	p.cursors[partition] = cursor
}
