package service

import (
	"booking-service/api"
	"booking-service/internal/lock"
	"booking-service/internal/models"
	"booking-service/internal/schedule"
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Users
	GetUserByWidgetToken(ctx context.Context, token string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	// Availability rules
	ListAllAvailabilityRules(ctx context.Context, userID string) ([]models.AvailabilityRule, error)
	ReplaceAvailabilityRules(ctx context.Context, userID string, rules []models.AvailabilityRule) error

	// Bookings
	CreateBookingTx(ctx context.Context, tx *sql.Tx, b *models.Booking) (string, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, userID string, from, to *time.Time) ([]models.Booking, error)

	// Outbox
	EnqueueTaskTx(ctx context.Context, tx *sql.Tx, bookingID string, kind models.TaskKind) error
}

// Validator is the slot-validation half of the schedule resolver.
type Validator interface {
	Validate(ctx context.Context, userID string, start time.Time, loc *time.Location) (schedule.Decision, error)
}

// SlotLister is the slot-generation half of the schedule resolver.
type SlotLister interface {
	AvailableSlots(ctx context.Context, userID string, date time.Time, loc *time.Location) ([]string, error)
}

type Service struct {
	store     Store
	slots     SlotLister
	validator Validator
	locker    lock.Locker
	slotLen   time.Duration
	log       *slog.Logger
}

func NewService(store Store, slots SlotLister, validator Validator, locker lock.Locker, slotLen time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		slots:     slots,
		validator: validator,
		locker:    locker,
		slotLen:   slotLen,
		log:       log,
	}
}

// GetSlots resolves the widget token and returns the bookable start times
// for one date. Resolution failures other than an unknown token degrade to
// an empty list; the cause is logged, never surfaced.
func (s *Service) GetSlots(ctx context.Context, widgetToken, date string) ([]string, error) {
	const op = "service.GetSlots"

	user, err := s.store.GetUserByWidgetToken(ctx, widgetToken)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid date: %w", op, response.ErrBadRequest)
	}

	loc := s.userLocation(user)

	slots, err := s.slots.AvailableSlots(ctx, user.ID, day, loc)
	if err != nil {
		s.log.Error("Slot resolution failed, degrading to empty list",
			slog.String("op", op), slog.String("user_id", user.ID), sl.Err(err))
		return []string{}, nil
	}
	if slots == nil {
		slots = []string{}
	}

	return slots, nil
}

// CreateBooking runs the public booking path: resolve token, lock the slot,
// re-validate, insert, enqueue side effects. The insert's unique index is
// the authority on races; validation and the lock only narrow the window.
func (s *Service) CreateBooking(ctx context.Context, req *api.BookingRequest) (*api.BookingResponse, error) {
	const op = "service.CreateBooking"

	user, err := s.store.GetUserByWidgetToken(ctx, req.WidgetID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid start_time: %w", op, response.ErrBadRequest)
	}
	start = start.Truncate(time.Minute)
	end := start.Add(s.slotLen)

	loc := s.userLocation(user)

	lockKey := lock.SlotKey(user.ID, start)
	locked, err := s.locker.Lock(ctx, lockKey, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey)
	}()

	dec, err := s.validator.Validate(ctx, user.ID, start, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !dec.OK {
		return nil, fmt.Errorf("%s: %w", op, reasonErr(dec.Reason))
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	booking := &models.Booking{
		UserID:     user.ID,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		GuestNotes: req.GuestNotes,
		StartAt:    start,
		EndAt:      end,
		Status:     models.BookingConfirmed,
	}

	bookingID, err := s.store.CreateBookingTx(ctx, tx, booking)
	if err != nil {
		// A lost exclusivity race is a conflict for this attempt, same as a
		// booking found during validation.
		if errors.Is(err, response.ErrSlotTaken) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrSlotTaken)
		}
		return nil, fmt.Errorf("%s: create booking: %w", op, err)
	}

	for _, kind := range []models.TaskKind{models.TaskCalendarEvent, models.TaskGuestEmail, models.TaskOwnerEmail} {
		if err := s.store.EnqueueTaskTx(ctx, tx, bookingID, kind); err != nil {
			return nil, fmt.Errorf("%s: enqueue %s: %w", op, kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	booking.ID = bookingID

	return bookingDTO(booking), nil
}

// ListAvailability returns the operator's full weekly schedule.
func (s *Service) ListAvailability(ctx context.Context, userID string) ([]api.AvailabilityRuleDTO, error) {
	const op = "service.ListAvailability"

	rules, err := s.store.ListAllAvailabilityRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]api.AvailabilityRuleDTO, 0, len(rules))
	for _, r := range rules {
		out = append(out, api.AvailabilityRuleDTO{
			DayOfWeek: r.DayOfWeek,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
		})
	}

	return out, nil
}

// SaveAvailability replaces the operator's weekly schedule wholesale.
// Windows must sit inside a single day: start and end are "15:04" strings
// with start < end, so a window can never cross midnight.
func (s *Service) SaveAvailability(ctx context.Context, userID string, rules []api.AvailabilityRuleDTO) error {
	const op = "service.SaveAvailability"

	normalized := make([]models.AvailabilityRule, 0, len(rules))
	for i, r := range rules {
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return fmt.Errorf("%s: rule %d: day_of_week out of range: %w", op, i, response.ErrBadRequest)
		}

		startTOD, err := time.Parse("15:04", r.StartTime)
		if err != nil {
			return fmt.Errorf("%s: rule %d: invalid start_time: %w", op, i, response.ErrBadRequest)
		}
		endTOD, err := time.Parse("15:04", r.EndTime)
		if err != nil {
			return fmt.Errorf("%s: rule %d: invalid end_time: %w", op, i, response.ErrBadRequest)
		}
		if !endTOD.After(startTOD) {
			return fmt.Errorf("%s: rule %d: end_time not after start_time: %w", op, i, response.ErrBadRequest)
		}

		normalized = append(normalized, models.AvailabilityRule{
			UserID:    userID,
			DayOfWeek: r.DayOfWeek,
			StartTime: startTOD.Format("15:04"),
			EndTime:   endTOD.Format("15:04"),
		})
	}

	if err := s.store.ReplaceAvailabilityRules(ctx, userID, normalized); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Service) ListBookings(ctx context.Context, userID string, from, to *time.Time) ([]api.BookingResponse, error) {
	const op = "service.ListBookings"

	bookings, err := s.store.ListBookings(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]api.BookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, *bookingDTO(&bookings[i]))
	}

	return out, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*api.ProfileResponse, error) {
	const op = "service.GetProfile"

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &api.ProfileResponse{
		WidgetID: user.WidgetToken,
		Timezone: user.Timezone,
		Email:    user.Email,
		Name:     user.Name,
	}, nil
}

func (s *Service) userLocation(user *models.User) *time.Location {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		s.log.Warn("Unknown user timezone, falling back to UTC",
			slog.String("user_id", user.ID), slog.String("timezone", user.Timezone))
		return time.UTC
	}
	return loc
}

func reasonErr(reason schedule.Reason) error {
	switch reason {
	case schedule.ReasonNotAvailable:
		return response.ErrNotAvailable
	case schedule.ReasonOutsideHours:
		return response.ErrOutsideHours
	case schedule.ReasonBookingConflict:
		return response.ErrBookingConflict
	case schedule.ReasonCalendarConflict:
		return response.ErrCalendarConflict
	default:
		return response.ErrConflict
	}
}

func bookingDTO(b *models.Booking) *api.BookingResponse {
	return &api.BookingResponse{
		ID:         b.ID,
		GuestName:  b.GuestName,
		GuestEmail: b.GuestEmail,
		GuestNotes: b.GuestNotes,
		StartTime:  b.StartAt.Format(time.RFC3339),
		EndTime:    b.EndAt.Format(time.RFC3339),
		Status:     string(b.Status),
	}
}
