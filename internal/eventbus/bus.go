// Package eventbus is the notification boundary of the coordinator. Store,
// queue engine, and spawner publish named events here; the real-time bridge
// subscribes and forwards them. Events are fire-and-forget notifications,
// not a transactional log.
package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names. The part before the colon is the entity, the part after is
// what happened to it.
const (
	ProjectCreated = "project:created"
	ProjectUpdated = "project:updated"
	ProjectDeleted = "project:deleted"

	TaskCreated        = "task:created"
	TaskUpdated        = "task:updated"
	TaskDeleted        = "task:deleted"
	TaskSessionAdded   = "task:session_added"
	TaskSessionRemoved = "task:session_removed"

	SessionCreated     = "session:created"
	SessionUpdated     = "session:updated"
	SessionDeleted     = "session:deleted"
	SessionSpawn       = "session:spawn"
	SessionTaskAdded   = "session:task_added"
	SessionTaskRemoved = "session:task_removed"

	QueueCreated       = "queue:created"
	QueueUpdated       = "queue:updated"
	QueueItemStarted   = "queue:item_started"
	QueueItemCompleted = "queue:item_completed"
	QueueItemFailed    = "queue:item_failed"
	QueueItemSkipped   = "queue:item_skipped"
)

// Event is a named notification with a JSON-serializable payload.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publisher is the write side of the bus. Components take this interface so
// tests can capture events without a running bus.
type Publisher interface {
	Publish(name string, payload any)
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber with the given channel buffer size.
// Events are dropped per-subscriber when the buffer is full.
func (b *Bus) Subscribe(bufSize int) (string, <-chan Event) {
	id := ulid.Make().String()
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(name string, payload any) {
	event := Event{
		ID:        ulid.Make().String(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}
