// Package panel streams recorder state changes to attached UIs. Whatever
// renders the records list subscribes once and repaints on each event
// instead of polling the records endpoint.
package panel

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

const subscriberBufSize = 256

// Event types published by the recorder.
const (
	EventRecordAdded    = "record_added"
	EventRecordUpdated  = "record_updated"
	EventRecordRemoved  = "record_removed"
	EventRecordsCleared = "records_cleared"
	EventCaptureArmed   = "capture_armed"
	EventCaptureReset   = "capture_reset"
)

// Event is a single panel refresh event.
type Event struct {
	Type    string
	Payload string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishRecord publishes a record lifecycle event. The payload carries only
// the record id; the panel re-reads the record store for content.
func (b *Broker) PublishRecord(eventType string, rec *record.DetectionRecord) {
	data, err := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: rec.ID})
	if err != nil {
		slog.Error("Failed to marshal panel event", "type", eventType, "error", err)
		return
	}
	b.Publish(Event{Type: eventType, Payload: string(data)})
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
