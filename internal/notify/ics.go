package notify

import (
	"booking-service/internal/models"
	"fmt"
	"strings"
	"time"
)

// GenerateICS renders a minimal single-event VCALENDAR for the booking so
// guest mail clients can add it with one click.
func GenerateICS(b *models.Booking, owner *models.User) string {
	format := func(t time.Time) string {
		return t.UTC().Format("20060102T150405Z")
	}

	description := ""
	if b.GuestNotes != nil {
		description = *b.GuestNotes
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Scheduler//EN",
		"BEGIN:VEVENT",
		fmt.Sprintf("UID:%s@scheduler.app", b.ID),
		fmt.Sprintf("DTSTAMP:%s", format(time.Now())),
		fmt.Sprintf("DTSTART:%s", format(b.StartAt)),
		fmt.Sprintf("DTEND:%s", format(b.EndAt)),
		fmt.Sprintf("SUMMARY:Appointment with %s", owner.Name),
		fmt.Sprintf("DESCRIPTION:%s", description),
		fmt.Sprintf("ATTENDEE;CN=%s;RSVP=TRUE:mailto:%s", b.GuestName, b.GuestEmail),
		fmt.Sprintf("ORGANIZER;CN=%s:mailto:%s", owner.Name, owner.Email),
		"STATUS:CONFIRMED",
		"END:VEVENT",
		"END:VCALENDAR",
	}

	return strings.Join(lines, "\r\n")
}
