package events

import (
	"context"
	"encoding/json"
	"fmt"

	"triagesync/internal/metrics"
	"triagesync/internal/models"

	"github.com/rs/zerolog"
)

// TaskQueue is the enqueue surface of the sync queue.
type TaskQueue interface {
	EnqueueTask(ctx context.Context, task *models.SyncTask) (string, error)
}

// Enqueuer bridges domain events to the sync queue: every subscribed mutation
// fans out into one task per configured integration target.
type Enqueuer struct {
	queue        TaskQueue
	integrations []string
	logger       *zerolog.Logger
}

func NewEnqueuer(queue TaskQueue, integrations []string, logger *zerolog.Logger) *Enqueuer {
	return &Enqueuer{queue: queue, integrations: integrations, logger: logger}
}

// Register subscribes the enqueuer to every mutation event on the bus.
func (e *Enqueuer) Register(bus *EventBus) {
	bus.Subscribe(EventTicketCreated, e.handle("ticket", models.OpCreate, ticketID))
	bus.Subscribe(EventTicketUpdated, e.handle("ticket", models.OpUpdate, ticketID))
	bus.Subscribe(EventContactCreated, e.handle("contact", models.OpCreate, contactID))
	bus.Subscribe(EventContactUpdated, e.handle("contact", models.OpUpdate, contactID))
	bus.Subscribe(EventNoteAdded, e.handle("note", models.OpCreate, noteID))
}

func (e *Enqueuer) handle(entityType string, op models.Operation, idFn func([]byte) (string, error)) EventHandler {
	return func(event *Event) error {
		entityID, err := idFn(event.Payload)
		if err != nil {
			e.logger.Error().Err(err).Str("event", event.Type).Msg("failed to decode event payload")
			return err
		}

		ctx := context.Background()
		for _, integration := range e.integrations {
			task := &models.SyncTask{
				IntegrationType: integration,
				Operation:       op,
				EntityType:      entityType,
				EntityID:        entityID,
				Payload:         string(event.Payload),
			}
			id, err := e.queue.EnqueueTask(ctx, task)
			if err != nil {
				e.logger.Error().Err(err).
					Str("event", event.Type).
					Str("integration", integration).
					Msg("failed to enqueue sync task")
				return err
			}
			metrics.IncEnqueued(integration)
			e.logger.Debug().
				Str("event", event.Type).
				Str("task_id", id).
				Str("integration", integration).
				Msg("sync task enqueued")
		}
		return nil
	}
}

func ticketID(payload []byte) (string, error) {
	var p TicketEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("invalid ticket payload: %w", err)
	}
	if p.TicketID == "" {
		return "", fmt.Errorf("ticket payload missing ticket_id")
	}
	return p.TicketID, nil
}

func contactID(payload []byte) (string, error) {
	var p ContactEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("invalid contact payload: %w", err)
	}
	if p.ContactID == "" {
		return "", fmt.Errorf("contact payload missing contact_id")
	}
	return p.ContactID, nil
}

func noteID(payload []byte) (string, error) {
	var p NoteEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("invalid note payload: %w", err)
	}
	if p.NoteID == "" {
		return "", fmt.Errorf("note payload missing note_id")
	}
	return p.NoteID, nil
}
