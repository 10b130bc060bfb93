package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"triagesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON("test_event", map[string]string{"foo": "bar"}))

	require.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, "test_event", received.Type)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.Publish(&Event{Type: "nobody_listens"})
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []models.SyncTask
	err   error
}

func (f *fakeQueue) EnqueueTask(_ context.Context, task *models.SyncTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, *task)
	return "id", nil
}

func TestEnqueuerFansOutToAllIntegrations(t *testing.T) {
	bus := NewEventBus()
	queue := &fakeQueue{}
	logger := zerolog.New(zerolog.NewConsoleWriter())

	NewEnqueuer(queue, []string{"crm", "helpdesk"}, &logger).Register(bus)

	require.NoError(t, bus.PublishJSON(EventTicketCreated, TicketEventPayload{
		TicketID: "TR-1",
		Subject:  "vpn down",
	}))

	require.Len(t, queue.tasks, 2)
	for _, task := range queue.tasks {
		assert.Equal(t, models.OpCreate, task.Operation)
		assert.Equal(t, "ticket", task.EntityType)
		assert.Equal(t, "TR-1", task.EntityID)
		assert.Contains(t, task.Payload, "vpn down")
	}
	assert.Equal(t, "crm", queue.tasks[0].IntegrationType)
	assert.Equal(t, "helpdesk", queue.tasks[1].IntegrationType)
}

func TestEnqueuerEventRouting(t *testing.T) {
	bus := NewEventBus()
	queue := &fakeQueue{}
	logger := zerolog.New(zerolog.NewConsoleWriter())

	NewEnqueuer(queue, []string{"crm"}, &logger).Register(bus)

	require.NoError(t, bus.PublishJSON(EventContactUpdated, ContactEventPayload{ContactID: "C-1"}))
	require.NoError(t, bus.PublishJSON(EventNoteAdded, NoteEventPayload{NoteID: "N-1", TicketID: "TR-1"}))

	require.Len(t, queue.tasks, 2)
	assert.Equal(t, models.OpUpdate, queue.tasks[0].Operation)
	assert.Equal(t, "contact", queue.tasks[0].EntityType)
	assert.Equal(t, models.OpCreate, queue.tasks[1].Operation)
	assert.Equal(t, "note", queue.tasks[1].EntityType)
}

func TestEnqueuerRejectsPayloadWithoutID(t *testing.T) {
	bus := NewEventBus()
	queue := &fakeQueue{}
	logger := zerolog.New(zerolog.NewConsoleWriter())

	NewEnqueuer(queue, []string{"crm"}, &logger).Register(bus)

	require.NoError(t, bus.PublishJSON(EventTicketCreated, TicketEventPayload{Subject: "no id"}))
	assert.Empty(t, queue.tasks)
}
