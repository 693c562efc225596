package api

import (
	"sync"

	"github.com/gdorsi/BangleApps/internal/metrics"
)

// Event kinds pushed to stream subscribers
const (
	EventInstalled = "installed"
	EventStatus    = "status"
	EventToast     = "toast"
	EventProgress  = "progress"
)

// subscriberBuffer holds one operation's burst of changes for a slow client
const subscriberBuffer = 64

// Event is one state change pushed to SSE and WebSocket clients
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventHub fans state changes out to stream subscribers
type EventHub struct {
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
	recorder    *metrics.Recorder
}

// NewEventHub creates a new event hub
func NewEventHub(recorder *metrics.Recorder) *EventHub {
	return &EventHub{
		subscribers: make(map[chan Event]struct{}),
		recorder:    recorder,
	}
}

// Subscribe creates a new subscription channel
func (h *EventHub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	h.subscribers[ch] = struct{}{}
	h.recorder.AddEventSubscribers(1)
	return ch
}

// Unsubscribe removes a subscription channel
func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
	h.recorder.AddEventSubscribers(-1)
}

// Broadcast sends ev to all subscribers
func (h *EventHub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
