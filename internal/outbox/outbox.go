package outbox

import (
	"booking-service/internal/calendar"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	ListDueTasks(ctx context.Context, limit int) ([]models.OutboxTask, error)
	MarkTaskDone(ctx context.Context, id string) error
	RescheduleTask(ctx context.Context, id string, attempts int, next time.Time) error
	MarkTaskFailed(ctx context.Context, id string) error

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetCalendarAccount(ctx context.Context, userID string) (*models.CalendarAccount, error)
	SetBookingCalendarEvent(ctx context.Context, bookingID, eventID string) error
}

// Dispatcher drains pending post-booking tasks: calendar event creation and
// the two notification emails. A booking is valid the moment it is inserted;
// task failures retry with backoff and never roll a booking back.
type Dispatcher struct {
	store        Store
	calendarCfg  *calendar.Config
	sender       notify.Sender
	log          *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
	baseDelay    time.Duration
	batchSize    int
}

func NewDispatcher(store Store, calendarCfg *calendar.Config, sender notify.Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:        store,
		calendarCfg:  calendarCfg,
		sender:       sender,
		log:          log,
		pollInterval: 5 * time.Second,
		maxAttempts:  5,
		baseDelay:    30 * time.Second,
		batchSize:    25,
	}
}

func (d *Dispatcher) WithPollInterval(v time.Duration) *Dispatcher {
	if v > 0 {
		d.pollInterval = v
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBaseDelay(v time.Duration) *Dispatcher {
	if v > 0 {
		d.baseDelay = v
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("Outbox dispatcher started", slog.String("poll_interval", d.pollInterval.String()))

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessDue(ctx)
		}
	}
}

// ProcessDue handles one batch of due tasks. Exported so tests can drive the
// dispatcher without the ticker.
func (d *Dispatcher) ProcessDue(ctx context.Context) {
	tasks, err := d.store.ListDueTasks(ctx, d.batchSize)
	if err != nil {
		d.log.Error("Failed to list due tasks", sl.Err(err))
		return
	}

	for _, task := range tasks {
		if err := d.handle(ctx, task); err != nil {
			d.retryOrFail(ctx, task, err)
			continue
		}

		if err := d.store.MarkTaskDone(ctx, task.ID); err != nil {
			d.log.Error("Failed to mark task done", slog.String("task_id", task.ID), sl.Err(err))
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, task models.OutboxTask) error {
	const op = "outbox.Dispatcher.handle"

	booking, err := d.store.GetBooking(ctx, task.BookingID)
	if err != nil {
		return fmt.Errorf("%s: get booking: %w", op, err)
	}

	owner, err := d.store.GetUser(ctx, booking.UserID)
	if err != nil {
		return fmt.Errorf("%s: get owner: %w", op, err)
	}

	switch task.Kind {
	case models.TaskCalendarEvent:
		return d.createCalendarEvent(ctx, booking)
	case models.TaskGuestEmail:
		if d.sender == nil {
			return nil
		}
		return d.sender.SendGuestConfirmation(ctx, booking, owner)
	case models.TaskOwnerEmail:
		if d.sender == nil {
			return nil
		}
		return d.sender.SendOwnerNotification(ctx, booking, owner)
	default:
		return fmt.Errorf("%s: unknown task kind %q", op, task.Kind)
	}
}

func (d *Dispatcher) createCalendarEvent(ctx context.Context, booking *models.Booking) error {
	const op = "outbox.Dispatcher.createCalendarEvent"

	account, err := d.store.GetCalendarAccount(ctx, booking.UserID)
	if err != nil {
		// No connected calendar: nothing to mirror, the task is complete.
		if errors.Is(err, response.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	client, err := d.calendarCfg.ClientFor(ctx, account)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	eventID, err := client.CreateEvent(ctx, booking)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := d.store.SetBookingCalendarEvent(ctx, booking.ID, eventID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (d *Dispatcher) retryOrFail(ctx context.Context, task models.OutboxTask, cause error) {
	attempts := task.Attempts + 1

	if attempts >= d.maxAttempts {
		d.log.Error("Task exhausted retries",
			slog.String("task_id", task.ID), slog.String("kind", string(task.Kind)),
			slog.Int("attempts", attempts), sl.Err(cause))

		if err := d.store.MarkTaskFailed(ctx, task.ID); err != nil {
			d.log.Error("Failed to mark task failed", slog.String("task_id", task.ID), sl.Err(err))
		}
		return
	}

	next := time.Now().Add(d.baseDelay * (1 << (attempts - 1)))

	d.log.Warn("Task failed, rescheduling",
		slog.String("task_id", task.ID), slog.String("kind", string(task.Kind)),
		slog.Int("attempts", attempts), slog.Time("next_attempt", next), sl.Err(cause))

	if err := d.store.RescheduleTask(ctx, task.ID, attempts, next); err != nil {
		d.log.Error("Failed to reschedule task", slog.String("task_id", task.ID), sl.Err(err))
	}
}
