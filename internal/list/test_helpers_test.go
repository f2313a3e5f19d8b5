package list

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustItemID(t *testing.T, value string) ItemID {
	t.Helper()
	id, err := NewItemID(value)
	if err != nil {
		t.Fatalf("unexpected item id error: %v", err)
	}
	return id
}

func mustItemName(t *testing.T, value string) ItemName {
	t.Helper()
	name, err := NewItemName(value)
	if err != nil {
		t.Fatalf("unexpected item name error: %v", err)
	}
	return name
}

func mustWriterID(t *testing.T, value string) WriterID {
	t.Helper()
	id, err := NewWriterID(value)
	if err != nil {
		t.Fatalf("unexpected writer id error: %v", err)
	}
	return id
}

func mustMillis(t *testing.T, value int64) UnixMillis {
	t.Helper()
	ts, err := NewUnixMillis(value)
	if err != nil {
		t.Fatalf("unexpected timestamp error: %v", err)
	}
	return ts
}

type staticIDGenerator struct {
	mu    sync.Mutex
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type staticWriter struct {
	mu sync.Mutex
	id string
}

func (w *staticWriter) CurrentWriterID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *staticWriter) set(id string) {
	w.mu.Lock()
	w.id = id
	w.mu.Unlock()
}

// stepClock hands out strictly increasing millisecond stamps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock(start int64) *stepClock {
	return &stepClock{now: time.UnixMilli(start)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:list_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Item{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, ids []string, writer WriterSource) (*Store, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
		Writers:    writer,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

type capturedEvent struct {
	name  string
	attrs map[string]string
}

type capturingRecorder struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (r *capturingRecorder) Record(eventName string, attributes map[string]string) {
	r.mu.Lock()
	r.events = append(r.events, capturedEvent{name: eventName, attrs: attributes})
	r.mu.Unlock()
}

func (r *capturingRecorder) captured() []capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedEvent(nil), r.events...)
}

func waitForProjection(t *testing.T, service *Service, count int) Snapshot {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := service.Projection()
		if len(snapshot) == count {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("projection never reached %d items, has %d", count, len(service.Projection()))
	return nil
}

func waitForCondition(t *testing.T, describe string, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", describe)
}
