package models

import "time"

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// User is the operator account. WidgetToken is the opaque public identifier
// unauthenticated booking clients use; it never exposes the internal ID.
type User struct {
	ID          string `db:"id"`
	Email       string `db:"email"`
	Name        string `db:"name"`
	WidgetToken string `db:"widget_token"`
	Timezone    string `db:"timezone"`
}

// AvailabilityRule is one weekly window: DayOfWeek 0..6 (0 = Sunday),
// StartTime/EndTime are wall-clock "15:04" strings, minute granularity.
// Multiple rules per (user, day) form a union of windows.
type AvailabilityRule struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	DayOfWeek int    `db:"day_of_week"`
	StartTime string `db:"start_time"`
	EndTime   string `db:"end_time"`
}

type Booking struct {
	ID            string        `db:"id"`
	UserID        string        `db:"user_id"`
	GuestName     string        `db:"guest_name"`
	GuestEmail    string        `db:"guest_email"`
	GuestNotes    *string       `db:"guest_notes"`
	StartAt       time.Time     `db:"start_at"`
	EndAt         time.Time     `db:"end_at"`
	Status        BookingStatus `db:"status"`
	CalendarEvent *string       `db:"calendar_event_id"`
	CreatedAt     time.Time     `db:"created_at"`
}

// BusyInterval is an occupied range sourced live from the remote calendar.
// Never persisted, never cached across requests.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// CalendarAccount holds the operator's OAuth2 grant for the remote calendar.
type CalendarAccount struct {
	UserID       string    `db:"user_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	Expiry       time.Time `db:"expiry"`
}

type TaskKind string

const (
	TaskCalendarEvent TaskKind = "calendar_event"
	TaskGuestEmail    TaskKind = "guest_email"
	TaskOwnerEmail    TaskKind = "owner_email"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// OutboxTask is a deferred post-booking side effect. Tasks are enqueued in
// the same transaction as the booking insert and dispatched independently,
// so a booking exists before the calendar and email reflect it.
type OutboxTask struct {
	ID          string     `db:"id"`
	BookingID   string     `db:"booking_id"`
	Kind        TaskKind   `db:"kind"`
	Status      TaskStatus `db:"status"`
	Attempts    int        `db:"attempts"`
	NextAttempt time.Time  `db:"next_attempt_at"`
	CreatedAt   time.Time  `db:"created_at"`
}
