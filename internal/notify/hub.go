// Package notify is the transient user-facing notification channel of the
// monitor (the toast equivalent): fire-and-forget success/error messages
// fanned out to connected clients.
package notify

import (
	"sync"
	"time"
)

// Level of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Message is one transient notification.
type Message struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

const subscriberBuffer = 16

// Hub fans messages out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses its oldest queued message.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
	now  func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Message), now: time.Now}
}

// Subscribe registers a receiver. The returned cancel function must be called
// on teardown so the channel is closed and forgotten.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
}

// Success publishes a success message.
func (h *Hub) Success(text string) { h.publish(Message{Level: LevelSuccess, Text: text}) }

// Error publishes an error message.
func (h *Hub) Error(text string) { h.publish(Message{Level: LevelError, Text: text}) }

func (h *Hub) publish(msg Message) {
	msg.At = h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			// Full buffer: drop the oldest, then deliver.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}
