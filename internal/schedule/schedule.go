package schedule

import (
	"booking-service/internal/models"
	"booking-service/pkg/sl"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Query interfaces over the three sources of truth. The resolver only reads;
// booking persistence lives with the caller.
type RuleSource interface {
	ListAvailabilityRules(ctx context.Context, userID string, dayOfWeek int) ([]models.AvailabilityRule, error)
}

type BookingSource interface {
	ListConfirmedBookings(ctx context.Context, userID string, from, to time.Time) ([]models.Booking, error)
}

type BusySource interface {
	ListBusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]models.BusyInterval, error)
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching endpoints do not overlap, which is what
// allows back-to-back bookings.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotAvailable     Reason = "not_available"
	ReasonOutsideHours     Reason = "outside_hours"
	ReasonBookingConflict  Reason = "booking_conflict"
	ReasonCalendarConflict Reason = "calendar_conflict"
)

type Decision struct {
	OK     bool
	Reason Reason
}

// Resolver computes bookable slots and validates booking attempts against
// availability rules, confirmed bookings and remote-calendar busy intervals.
//
// Validation is optimistic: two concurrent Validate calls for the same slot
// can both pass if their booking queries race ahead of either insert. The
// persistence layer's uniqueness constraint on (user, start) is the actual
// exclusivity backstop; a lost race must surface as a conflict there.
type Resolver struct {
	rules      RuleSource
	bookings   BookingSource
	busy       BusySource
	slotLen    time.Duration
	failClosed bool
	log        *slog.Logger
}

// NewResolver builds a resolver for fixed slotLen appointments. failClosed
// picks the validation policy on a failed busy-interval query: true rejects
// the attempt, false lets it pass the calendar check. Slot generation is
// always fail-open regardless.
func NewResolver(rules RuleSource, bookings BookingSource, busy BusySource, slotLen time.Duration, failClosed bool, log *slog.Logger) *Resolver {
	return &Resolver{
		rules:      rules,
		bookings:   bookings,
		busy:       busy,
		slotLen:    slotLen,
		failClosed: failClosed,
		log:        log,
	}
}

// AvailableSlots returns the ordered bookable start times for one calendar
// date as "15:04" wall-clock strings in loc. No rules for the weekday means
// an empty result, which is distinct from a fully booked day only to the
// operator, not to the result shape.
func (r *Resolver) AvailableSlots(ctx context.Context, userID string, date time.Time, loc *time.Location) ([]string, error) {
	const op = "schedule.Resolver.AvailableSlots"

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	rules, err := r.rules.ListAvailabilityRules(ctx, userID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("%s: list rules: %w", op, err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)

	bookings, err := r.bookings.ListConfirmedBookings(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("%s: list bookings: %w", op, err)
	}

	// Fail-open on the remote calendar: an unreachable calendar degrades to
	// internal-booking-only checking instead of blanking the whole day.
	busy, err := r.busy.ListBusyIntervals(ctx, userID, dayStart, dayEnd)
	if err != nil {
		r.log.Warn("busy-interval query failed, generating without calendar constraints",
			slog.String("op", op), slog.String("user_id", userID), sl.Err(err))
		busy = nil
	}

	seen := make(map[string]struct{})
	var slots []string

	for _, rule := range rules {
		winStart, winEnd, err := windowBounds(rule, day)
		if err != nil {
			return nil, fmt.Errorf("%s: rule %s: %w", op, rule.ID, err)
		}

		for s := winStart; !s.Add(r.slotLen).After(winEnd); s = s.Add(r.slotLen) {
			e := s.Add(r.slotLen)

			if overlapsBooking(s, e, bookings) || overlapsBusy(s, e, busy) {
				continue
			}

			key := s.Format("15:04")
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			slots = append(slots, key)
		}
	}

	sort.Strings(slots)

	return slots, nil
}

// Validate re-checks a single proposed slot at booking time. It never
// persists anything, so retries are safe. Checks run in a fixed order to
// keep reason codes stable: availability, window containment, bookings,
// busy intervals.
func (r *Resolver) Validate(ctx context.Context, userID string, start time.Time, loc *time.Location) (Decision, error) {
	const op = "schedule.Resolver.Validate"

	start = start.In(loc)
	end := start.Add(r.slotLen)

	rules, err := r.rules.ListAvailabilityRules(ctx, userID, int(start.Weekday()))
	if err != nil {
		return Decision{}, fmt.Errorf("%s: list rules: %w", op, err)
	}
	if len(rules) == 0 {
		return Decision{Reason: ReasonNotAvailable}, nil
	}

	// Windows never cross midnight (enforced when rules are saved), so a
	// slot spilling past midnight can't be inside any window. It would also
	// format as "00:00" and defeat the string comparison below.
	if !sameDate(start, end) {
		return Decision{Reason: ReasonOutsideHours}, nil
	}

	startStr := start.Format("15:04")
	endStr := end.Format("15:04")

	contained := false
	for _, rule := range rules {
		if startStr >= rule.StartTime && endStr <= rule.EndTime {
			contained = true
			break
		}
	}
	if !contained {
		return Decision{Reason: ReasonOutsideHours}, nil
	}

	bookings, err := r.bookings.ListConfirmedBookings(ctx, userID, start, end)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: list bookings: %w", op, err)
	}
	for _, b := range bookings {
		if Overlaps(start, end, b.StartAt, b.EndAt) {
			return Decision{Reason: ReasonBookingConflict}, nil
		}
	}

	busy, err := r.busy.ListBusyIntervals(ctx, userID, start, end)
	if err != nil {
		if r.failClosed {
			r.log.Warn("busy-interval query failed, rejecting attempt (fail-closed)",
				slog.String("op", op), slog.String("user_id", userID), sl.Err(err))
			return Decision{Reason: ReasonCalendarConflict}, nil
		}
		r.log.Warn("busy-interval query failed, skipping calendar check (fail-open)",
			slog.String("op", op), slog.String("user_id", userID), sl.Err(err))
		busy = nil
	}
	for _, iv := range busy {
		if Overlaps(start, end, iv.Start, iv.End) {
			return Decision{Reason: ReasonCalendarConflict}, nil
		}
	}

	return Decision{OK: true}, nil
}

func windowBounds(rule models.AvailabilityRule, day time.Time) (time.Time, time.Time, error) {
	startTOD, err := time.Parse("15:04", rule.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_time %q: %w", rule.StartTime, err)
	}
	endTOD, err := time.Parse("15:04", rule.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_time %q: %w", rule.EndTime, err)
	}
	if !endTOD.After(startTOD) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_time %q is not after start_time %q", rule.EndTime, rule.StartTime)
	}

	winStart := time.Date(day.Year(), day.Month(), day.Day(), startTOD.Hour(), startTOD.Minute(), 0, 0, day.Location())
	winEnd := time.Date(day.Year(), day.Month(), day.Day(), endTOD.Hour(), endTOD.Minute(), 0, 0, day.Location())

	return winStart, winEnd, nil
}

func overlapsBooking(s, e time.Time, bookings []models.Booking) bool {
	for _, b := range bookings {
		if Overlaps(s, e, b.StartAt, b.EndAt) {
			return true
		}
	}
	return false
}

func overlapsBusy(s, e time.Time, busy []models.BusyInterval) bool {
	for _, iv := range busy {
		if Overlaps(s, e, iv.Start, iv.End) {
			return true
		}
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
