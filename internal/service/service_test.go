package service

import (
	"booking-service/api"
	"booking-service/internal/models"
	"booking-service/internal/schedule"
	"booking-service/pkg/response"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	db    *sql.DB
	user  *models.User
	rules []models.AvailabilityRule

	// confirmed bookings keyed by "userID:startUnix", the same shape the
	// partial unique index covers.
	taken map[string]*models.Booking

	enqueued []models.TaskKind

	listBookingsErr error
}

func newFakeStore(db *sql.DB) *fakeStore {
	return &fakeStore{
		db: db,
		user: &models.User{
			ID: "u1", Email: "owner@example.com", Name: "Owner",
			WidgetToken: "widget-1", Timezone: "UTC",
		},
		taken: make(map[string]*models.Booking),
	}
}

func (f *fakeStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return f.db.BeginTx(ctx, nil)
}

func (f *fakeStore) GetUserByWidgetToken(_ context.Context, token string) (*models.User, error) {
	if f.user != nil && f.user.WidgetToken == token {
		return f.user, nil
	}
	return nil, response.ErrNotFound
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	if f.user != nil && f.user.ID == id {
		return f.user, nil
	}
	return nil, response.ErrNotFound
}

func (f *fakeStore) ListAllAvailabilityRules(_ context.Context, _ string) ([]models.AvailabilityRule, error) {
	return f.rules, nil
}

func (f *fakeStore) ReplaceAvailabilityRules(_ context.Context, _ string, rules []models.AvailabilityRule) error {
	f.rules = rules
	return nil
}

func (f *fakeStore) CreateBookingTx(_ context.Context, _ *sql.Tx, b *models.Booking) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := fmt.Sprintf("%s:%d", b.UserID, b.StartAt.Unix())
	if _, ok := f.taken[key]; ok {
		return "", response.ErrSlotTaken
	}

	id := fmt.Sprintf("b-%d", len(f.taken)+1)
	stored := *b
	stored.ID = id
	f.taken[key] = &stored

	return id, nil
}

func (f *fakeStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.taken {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, response.ErrNotFound
}

func (f *fakeStore) ListBookings(_ context.Context, _ string, _, _ *time.Time) ([]models.Booking, error) {
	if f.listBookingsErr != nil {
		return nil, f.listBookingsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.taken {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeStore) EnqueueTaskTx(_ context.Context, _ *sql.Tx, _ string, kind models.TaskKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, kind)
	return nil
}

type stubLister struct {
	slots []string
	err   error
}

func (s stubLister) AvailableSlots(_ context.Context, _ string, _ time.Time, _ *time.Location) ([]string, error) {
	return s.slots, s.err
}

type stubValidator struct {
	dec schedule.Decision
	err error
}

func (s stubValidator) Validate(_ context.Context, _ string, _ time.Time, _ *time.Location) (schedule.Decision, error) {
	return s.dec, s.err
}

// grantAllLocker simulates lock acquisition always succeeding, e.g. two
// requests landing on separate instances. The persistence layer must then be
// the one to resolve the race.
type grantAllLocker struct{}

func (grantAllLocker) Lock(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (grantAllLocker) Unlock(context.Context, string) error                      { return nil }

type serializingLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newSerializingLocker() *serializingLocker {
	return &serializingLocker{held: make(map[string]bool)}
}

func (l *serializingLocker) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *serializingLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookingReq(start string) *api.BookingRequest {
	return &api.BookingRequest{
		WidgetID:   "widget-1",
		GuestName:  "Alice",
		GuestEmail: "alice@example.com",
		StartTime:  start,
	}
}

func TestGetSlots(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newFakeStore(db)

	t.Run("happy path", func(t *testing.T) {
		svc := NewService(store, stubLister{slots: []string{"09:00", "09:30"}}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

		slots, err := svc.GetSlots(context.Background(), "widget-1", "2025-06-02")
		require.NoError(t, err)
		assert.Equal(t, []string{"09:00", "09:30"}, slots)
	})

	t.Run("unknown widget token", func(t *testing.T) {
		svc := NewService(store, stubLister{}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

		_, err := svc.GetSlots(context.Background(), "nope", "2025-06-02")
		require.ErrorIs(t, err, response.ErrNotFound)
	})

	t.Run("invalid date", func(t *testing.T) {
		svc := NewService(store, stubLister{}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

		_, err := svc.GetSlots(context.Background(), "widget-1", "junk")
		require.ErrorIs(t, err, response.ErrBadRequest)
	})

	t.Run("resolution failure degrades to empty list", func(t *testing.T) {
		svc := NewService(store, stubLister{err: errors.New("db down")}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

		slots, err := svc.GetSlots(context.Background(), "widget-1", "2025-06-02")
		require.NoError(t, err)
		assert.Equal(t, []string{}, slots)
	})

	t.Run("nil slots normalize to empty list", func(t *testing.T) {
		svc := NewService(store, stubLister{slots: nil}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

		slots, err := svc.GetSlots(context.Background(), "widget-1", "2025-06-02")
		require.NoError(t, err)
		assert.NotNil(t, slots)
		assert.Empty(t, slots)
	})
}

func TestCreateBooking_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	store := newFakeStore(db)
	svc := NewService(store, stubLister{}, stubValidator{dec: schedule.Decision{OK: true}}, newSerializingLocker(), 30*time.Minute, discardLog())

	booking, err := svc.CreateBooking(context.Background(), bookingReq("2025-06-02T10:00:00Z"))
	require.NoError(t, err)

	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, "2025-06-02T10:00:00Z", booking.StartTime)
	assert.Equal(t, "2025-06-02T10:30:00Z", booking.EndTime)
	assert.Equal(t, string(models.BookingConfirmed), booking.Status)

	// All three side effects are enqueued with the booking, not executed.
	assert.Equal(t, []models.TaskKind{models.TaskCalendarEvent, models.TaskGuestEmail, models.TaskOwnerEmail}, store.enqueued)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_RejectionReasons(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name   string
		reason schedule.Reason
		want   error
	}{
		{"not available", schedule.ReasonNotAvailable, response.ErrNotAvailable},
		{"outside hours", schedule.ReasonOutsideHours, response.ErrOutsideHours},
		{"booking conflict", schedule.ReasonBookingConflict, response.ErrBookingConflict},
		{"calendar conflict", schedule.ReasonCalendarConflict, response.ErrCalendarConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(db)
			svc := NewService(store, stubLister{}, stubValidator{dec: schedule.Decision{Reason: tt.reason}}, newSerializingLocker(), 30*time.Minute, discardLog())

			_, err := svc.CreateBooking(context.Background(), bookingReq("2025-06-02T10:00:00Z"))
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, store.enqueued, "rejected bookings must not enqueue side effects")
		})
	}
}

func TestCreateBooking_InvalidStart(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(newFakeStore(db), stubLister{}, stubValidator{dec: schedule.Decision{OK: true}}, newSerializingLocker(), 30*time.Minute, discardLog())

	_, err = svc.CreateBooking(context.Background(), bookingReq("not-a-time"))
	require.ErrorIs(t, err, response.ErrBadRequest)
}

func TestCreateBooking_UnknownWidget(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(newFakeStore(db), stubLister{}, stubValidator{dec: schedule.Decision{OK: true}}, newSerializingLocker(), 30*time.Minute, discardLog())

	req := bookingReq("2025-06-02T10:00:00Z")
	req.WidgetID = "nope"

	_, err = svc.CreateBooking(context.Background(), req)
	require.ErrorIs(t, err, response.ErrNotFound)
}

// Both attempts pass validation on stale reads; the insert uniqueness is
// what decides the winner. The loser must see a conflict, not a generic
// failure.
func TestCreateBooking_RaceLoserGetsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	store := newFakeStore(db)
	svc := NewService(store, stubLister{}, stubValidator{dec: schedule.Decision{OK: true}}, grantAllLocker{}, 30*time.Minute, discardLog())

	first, err := svc.CreateBooking(context.Background(), bookingReq("2025-06-02T10:00:00Z"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = svc.CreateBooking(context.Background(), bookingReq("2025-06-02T10:00:00Z"))
	require.ErrorIs(t, err, response.ErrSlotTaken)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_HeldLockRejects(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	locker := newSerializingLocker()
	ok, err := locker.Lock(context.Background(), "u1:1748858400", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	svc := NewService(newFakeStore(db), stubLister{}, stubValidator{dec: schedule.Decision{OK: true}}, locker, 30*time.Minute, discardLog())

	_, err = svc.CreateBooking(context.Background(), bookingReq("2025-06-02T10:00:00Z"))
	require.ErrorIs(t, err, response.ErrLocked)
}

func TestSaveAvailability(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newFakeStore(db)
	svc := NewService(store, stubLister{}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

	t.Run("valid rules replace schedule", func(t *testing.T) {
		err := svc.SaveAvailability(context.Background(), "u1", []api.AvailabilityRuleDTO{
			{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"},
			{DayOfWeek: 3, StartTime: "10:00", EndTime: "12:00"},
		})
		require.NoError(t, err)
		assert.Len(t, store.rules, 2)
	})

	t.Run("invalid day of week", func(t *testing.T) {
		err := svc.SaveAvailability(context.Background(), "u1", []api.AvailabilityRuleDTO{
			{DayOfWeek: 7, StartTime: "09:00", EndTime: "17:00"},
		})
		require.ErrorIs(t, err, response.ErrBadRequest)
	})

	t.Run("malformed time", func(t *testing.T) {
		err := svc.SaveAvailability(context.Background(), "u1", []api.AvailabilityRuleDTO{
			{DayOfWeek: 1, StartTime: "9am", EndTime: "17:00"},
		})
		require.ErrorIs(t, err, response.ErrBadRequest)
	})

	t.Run("cross-midnight window rejected", func(t *testing.T) {
		err := svc.SaveAvailability(context.Background(), "u1", []api.AvailabilityRuleDTO{
			{DayOfWeek: 5, StartTime: "22:00", EndTime: "02:00"},
		})
		require.ErrorIs(t, err, response.ErrBadRequest)
	})

	t.Run("empty window rejected", func(t *testing.T) {
		err := svc.SaveAvailability(context.Background(), "u1", []api.AvailabilityRuleDTO{
			{DayOfWeek: 2, StartTime: "09:00", EndTime: "09:00"},
		})
		require.ErrorIs(t, err, response.ErrBadRequest)
	})
}

func TestGetProfile(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(newFakeStore(db), stubLister{}, stubValidator{}, grantAllLocker{}, 30*time.Minute, discardLog())

	profile, err := svc.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "widget-1", profile.WidgetID)
	assert.Equal(t, "UTC", profile.Timezone)

	_, err = svc.GetProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, response.ErrNotFound)
}
