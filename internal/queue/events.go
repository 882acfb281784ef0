package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType names a job transition
type EventType string

const (
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	// EventRetrying is published with EventFailed when the broker will deliver the job again
	EventRetrying EventType = "retrying"
)

// Event is published on every job transition
type Event struct {
	Type     EventType       `json:"type"`
	JobID    string          `json:"jobId"`
	JobType  JobType         `json:"jobType"`
	Attempt  int             `json:"attempt"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Duration time.Duration   `json:"durationNs,omitempty"`
	Time     time.Time       `json:"time"`
}

// EventBus fans events out to subscribers. Slow subscribers lose events rather
// than blocking workers.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("job_id", ev.JobID).Str("event", string(ev.Type)).Msg("Event dropped, subscriber too slow")
		}
	}
}
