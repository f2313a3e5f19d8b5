package server

import (
	"context"
	"sync"
	"time"

	"github.com/pantrylabs/listd/internal/list"
)

const (
	// RealtimeEventListChanged marks a broadcast triggered by an item mutation.
	RealtimeEventListChanged = "list-change"
	realtimeEventHeartbeat   = "heartbeat"
)

// RealtimeMessage carries the complete current item set to connected clients.
type RealtimeMessage struct {
	EventType string
	Snapshot  list.Snapshot
	Timestamp time.Time
}

// RealtimeDispatcher fans whole-list snapshots out to every connected
// subscriber. The list is shared across all writers, so there is no per-user
// keying; every subscriber sees every change.
type RealtimeDispatcher struct {
	mu          sync.Mutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
	done   chan struct{}
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
	}
}

// Subscribe registers a snapshot stream that lives until the context is done
// or the cleanup function runs. Only the most recent snapshot is retained for
// a slow consumer; intermediate snapshots are dropped, never buffered.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, 1),
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		if _, ok := d.subscribers[subscriber.id]; ok {
			delete(d.subscribers, subscriber.id)
			close(subscriber.done)
		}
		d.mu.Unlock()
	}
	// The watcher exits on cleanup too, so a subscriber on a long-lived
	// context does not pin a goroutine after it unsubscribes.
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-subscriber.done:
		}
	}()
	return subscriber.stream, cleanup
}

// Broadcast delivers a snapshot message to all subscribers without blocking.
func (d *RealtimeDispatcher) Broadcast(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.Lock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.Unlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
			select {
			case <-subscriber.stream:
			default:
			}
			select {
			case subscriber.stream <- message:
			default:
			}
		}
	}
}
