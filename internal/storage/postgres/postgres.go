package postgres

import (
	"booking-service/internal/models"
	"booking-service/pkg/response"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Storage) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// #### users ####

func (s *Storage) GetUserByWidgetToken(ctx context.Context, token string) (*models.User, error) {
	const op = "storage.postgres.GetUserByWidgetToken"

	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, widget_token, timezone FROM users WHERE widget_token=$1`,
		token).Scan(&u.ID, &u.Email, &u.Name, &u.WidgetToken, &u.Timezone)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &u, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.postgres.GetUser"

	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, widget_token, timezone FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Email, &u.Name, &u.WidgetToken, &u.Timezone)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &u, nil
}

// #### availability rules ####

// ListAvailabilityRules satisfies schedule.RuleSource.
func (s *Storage) ListAvailabilityRules(ctx context.Context, userID string, dayOfWeek int) ([]models.AvailabilityRule, error) {
	const op = "storage.postgres.ListAvailabilityRules"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, day_of_week, start_time, end_time
		 FROM availability_rules WHERE user_id=$1 AND day_of_week=$2`,
		userID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var out []models.AvailabilityRule
	for rows.Next() {
		var r models.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.DayOfWeek, &r.StartTime, &r.EndTime); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Storage) ListAllAvailabilityRules(ctx context.Context, userID string) ([]models.AvailabilityRule, error) {
	const op = "storage.postgres.ListAllAvailabilityRules"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, day_of_week, start_time, end_time
		 FROM availability_rules WHERE user_id=$1
		 ORDER BY day_of_week, start_time`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var out []models.AvailabilityRule
	for rows.Next() {
		var r models.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.DayOfWeek, &r.StartTime, &r.EndTime); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// ReplaceAvailabilityRules swaps the operator's whole weekly schedule in one
// transaction, delete-all-then-insert. No versioning of old schedules.
func (s *Storage) ReplaceAvailabilityRules(ctx context.Context, userID string, rules []models.AvailabilityRule) error {
	const op = "storage.postgres.ReplaceAvailabilityRules"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("%s: delete: %w", op, err)
	}

	for _, r := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO availability_rules (id, user_id, day_of_week, start_time, end_time)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), userID, r.DayOfWeek, r.StartTime, r.EndTime); err != nil {
			return fmt.Errorf("%s: insert: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

// #### bookings ####

// ListConfirmedBookings satisfies schedule.BookingSource. The WHERE clause is
// the half-open overlap predicate, so it serves both the day-bounds query of
// slot generation and the single-slot query of validation.
func (s *Storage) ListConfirmedBookings(ctx context.Context, userID string, from, to time.Time) ([]models.Booking, error) {
	const op = "storage.postgres.ListConfirmedBookings"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, guest_name, guest_email, guest_notes, start_at, end_at, status, calendar_event_id, created_at
		 FROM bookings
		 WHERE user_id=$1 AND status='confirmed' AND start_at < $3 AND end_at > $2
		 ORDER BY start_at`,
		userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	return scanBookings(op, rows)
}

func (s *Storage) ListBookings(ctx context.Context, userID string, from, to *time.Time) ([]models.Booking, error) {
	const op = "storage.postgres.ListBookings"

	var (
		rows *sql.Rows
		err  error
	)

	if from != nil && to != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, guest_name, guest_email, guest_notes, start_at, end_at, status, calendar_event_id, created_at
			 FROM bookings WHERE user_id=$1 AND start_at >= $2 AND start_at < $3
			 ORDER BY start_at`,
			userID, *from, *to)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, guest_name, guest_email, guest_notes, start_at, end_at, status, calendar_event_id, created_at
			 FROM bookings WHERE user_id=$1
			 ORDER BY start_at`,
			userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	return scanBookings(op, rows)
}

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.postgres.GetBooking"

	var b models.Booking
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, guest_name, guest_email, guest_notes, start_at, end_at, status, calendar_event_id, created_at
		 FROM bookings WHERE id=$1`,
		id).Scan(&b.ID, &b.UserID, &b.GuestName, &b.GuestEmail, &b.GuestNotes,
		&b.StartAt, &b.EndAt, &b.Status, &b.CalendarEvent, &b.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &b, nil
}

// CreateBookingTx inserts a confirmed booking. The partial unique index on
// (user_id, start_at) WHERE status='confirmed' is the exclusivity backstop:
// when two validated attempts race, the loser's insert hits 23505 and comes
// back as ErrSlotTaken.
func (s *Storage) CreateBookingTx(ctx context.Context, tx *sql.Tx, b *models.Booking) (string, error) {
	const op = "storage.postgres.CreateBookingTx"

	id := uuid.NewString()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (id, user_id, guest_name, guest_email, guest_notes, start_at, end_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		id, b.UserID, b.GuestName, b.GuestEmail, b.GuestNotes, b.StartAt, b.EndAt, b.Status)
	if err != nil {
		if sqlErr, ok := err.(*pq.Error); ok && sqlErr.Code == "23505" {
			return "", fmt.Errorf("%s: %w", op, response.ErrSlotTaken)
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) SetBookingCalendarEvent(ctx context.Context, bookingID, eventID string) error {
	const op = "storage.postgres.SetBookingCalendarEvent"

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET calendar_event_id=$2 WHERE id=$1`, bookingID, eventID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func scanBookings(op string, rows *sql.Rows) ([]models.Booking, error) {
	var out []models.Booking
	for rows.Next() {
		var b models.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.GuestName, &b.GuestEmail, &b.GuestNotes,
			&b.StartAt, &b.EndAt, &b.Status, &b.CalendarEvent, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// #### calendar accounts ####

func (s *Storage) GetCalendarAccount(ctx context.Context, userID string) (*models.CalendarAccount, error) {
	const op = "storage.postgres.GetCalendarAccount"

	var a models.CalendarAccount
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, expiry FROM calendar_accounts WHERE user_id=$1`,
		userID).Scan(&a.UserID, &a.AccessToken, &a.RefreshToken, &a.Expiry)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &a, nil
}

// #### outbox ####

func (s *Storage) EnqueueTaskTx(ctx context.Context, tx *sql.Tx, bookingID string, kind models.TaskKind) error {
	const op = "storage.postgres.EnqueueTaskTx"

	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_tasks (id, booking_id, kind, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		uuid.NewString(), bookingID, kind)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) ListDueTasks(ctx context.Context, limit int) ([]models.OutboxTask, error) {
	const op = "storage.postgres.ListDueTasks"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, booking_id, kind, status, attempts, next_attempt_at, created_at
		 FROM outbox_tasks
		 WHERE status='pending' AND next_attempt_at <= now()
		 ORDER BY next_attempt_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var out []models.OutboxTask
	for rows.Next() {
		var t models.OutboxTask
		if err := rows.Scan(&t.ID, &t.BookingID, &t.Kind, &t.Status, &t.Attempts, &t.NextAttempt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Storage) MarkTaskDone(ctx context.Context, id string) error {
	const op = "storage.postgres.MarkTaskDone"

	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox_tasks SET status='done' WHERE id=$1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RescheduleTask(ctx context.Context, id string, attempts int, next time.Time) error {
	const op = "storage.postgres.RescheduleTask"

	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox_tasks SET attempts=$2, next_attempt_at=$3 WHERE id=$1`,
		id, attempts, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) MarkTaskFailed(ctx context.Context, id string) error {
	const op = "storage.postgres.MarkTaskFailed"

	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox_tasks SET status='failed' WHERE id=$1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
