package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventTicketCreated  = "ticket_created"
	EventTicketUpdated  = "ticket_updated"
	EventContactCreated = "contact_created"
	EventContactUpdated = "contact_updated"
	EventNoteAdded      = "note_added"
)

// TicketEventPayload is the minimal ticket snapshot for event consumers.
type TicketEventPayload struct {
	TicketID string `json:"ticket_id"`
	Subject  string `json:"subject,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// ContactEventPayload is the minimal contact snapshot for event consumers.
type ContactEventPayload struct {
	ContactID string `json:"contact_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// NoteEventPayload links a note to the ticket it was added to.
type NoteEventPayload struct {
	NoteID   string `json:"note_id"`
	TicketID string `json:"ticket_id"`
	Body     string `json:"body,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for domain events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
