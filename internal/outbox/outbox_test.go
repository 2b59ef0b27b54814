package outbox

import (
	"booking-service/internal/models"
	"booking-service/pkg/response"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*models.OutboxTask
	bookings map[string]*models.Booking
	users    map[string]*models.User
	events   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    make(map[string]*models.OutboxTask),
		bookings: make(map[string]*models.Booking),
		users:    make(map[string]*models.User),
		events:   make(map[string]string),
	}
}

func (m *memStore) ListDueTasks(_ context.Context, limit int) ([]models.OutboxTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.OutboxTask
	for _, t := range m.tasks {
		if t.Status == models.TaskPending && !t.NextAttempt.After(time.Now()) {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkTaskDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = models.TaskDone
	return nil
}

func (m *memStore) RescheduleTask(_ context.Context, id string, attempts int, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Attempts = attempts
	m.tasks[id].NextAttempt = next
	return nil
}

func (m *memStore) MarkTaskFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = models.TaskFailed
	return nil
}

func (m *memStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	if b, ok := m.bookings[id]; ok {
		return b, nil
	}
	return nil, response.ErrNotFound
}

func (m *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, response.ErrNotFound
}

func (m *memStore) GetCalendarAccount(_ context.Context, _ string) (*models.CalendarAccount, error) {
	return nil, response.ErrNotFound
}

func (m *memStore) SetBookingCalendarEvent(_ context.Context, bookingID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[bookingID] = eventID
	return nil
}

type stubSender struct {
	guestSent int
	ownerSent int
	err       error
}

func (s *stubSender) SendGuestConfirmation(_ context.Context, _ *models.Booking, _ *models.User) error {
	if s.err != nil {
		return s.err
	}
	s.guestSent++
	return nil
}

func (s *stubSender) SendOwnerNotification(_ context.Context, _ *models.Booking, _ *models.User) error {
	if s.err != nil {
		return s.err
	}
	s.ownerSent++
	return nil
}

func seed(store *memStore, kind models.TaskKind) {
	store.users["u1"] = &models.User{ID: "u1", Email: "owner@example.com", Name: "Owner"}
	store.bookings["b1"] = &models.Booking{
		ID: "b1", UserID: "u1", GuestName: "Alice", GuestEmail: "alice@example.com",
		StartAt: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
		Status:  models.BookingConfirmed,
	}
	store.tasks["t1"] = &models.OutboxTask{
		ID: "t1", BookingID: "b1", Kind: kind,
		Status: models.TaskPending, NextAttempt: time.Now().Add(-time.Second),
	}
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessDue_SendsEmails(t *testing.T) {
	store := newMemStore()
	seed(store, models.TaskGuestEmail)
	sender := &stubSender{}

	d := NewDispatcher(store, nil, sender, discardLog())
	d.ProcessDue(context.Background())

	assert.Equal(t, 1, sender.guestSent)
	assert.Equal(t, models.TaskDone, store.tasks["t1"].Status)
}

func TestProcessDue_NilSenderCompletesEmailTasks(t *testing.T) {
	store := newMemStore()
	seed(store, models.TaskOwnerEmail)

	d := NewDispatcher(store, nil, nil, discardLog())
	d.ProcessDue(context.Background())

	assert.Equal(t, models.TaskDone, store.tasks["t1"].Status)
}

func TestProcessDue_CalendarTaskWithoutAccountIsDone(t *testing.T) {
	store := newMemStore()
	seed(store, models.TaskCalendarEvent)

	d := NewDispatcher(store, nil, nil, discardLog())
	d.ProcessDue(context.Background())

	assert.Equal(t, models.TaskDone, store.tasks["t1"].Status)
	assert.Empty(t, store.events)
}

func TestProcessDue_FailureReschedulesWithBackoff(t *testing.T) {
	store := newMemStore()
	seed(store, models.TaskGuestEmail)
	sender := &stubSender{err: errors.New("sendgrid status 500")}

	d := NewDispatcher(store, nil, sender, discardLog()).WithBaseDelay(time.Minute)
	d.ProcessDue(context.Background())

	task := store.tasks["t1"]
	require.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, task.NextAttempt.After(time.Now().Add(30*time.Second)))
}

func TestProcessDue_ExhaustedRetriesFail(t *testing.T) {
	store := newMemStore()
	seed(store, models.TaskGuestEmail)
	store.tasks["t1"].Attempts = 4
	sender := &stubSender{err: errors.New("sendgrid status 500")}

	d := NewDispatcher(store, nil, sender, discardLog()).WithMaxAttempts(5)
	d.ProcessDue(context.Background())

	assert.Equal(t, models.TaskFailed, store.tasks["t1"].Status)
}
