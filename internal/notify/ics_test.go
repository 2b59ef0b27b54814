package notify

import (
	"booking-service/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateICS(t *testing.T) {
	notes := "First visit"
	b := &models.Booking{
		ID:         "b-1",
		GuestName:  "Alice",
		GuestEmail: "alice@example.com",
		GuestNotes: &notes,
		StartAt:    time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
	}
	owner := &models.User{Name: "Bob", Email: "bob@example.com"}

	ics := GenerateICS(b, owner)

	assert.True(t, strings.HasPrefix(ics, "BEGIN:VCALENDAR"))
	assert.True(t, strings.HasSuffix(ics, "END:VCALENDAR"))
	assert.Contains(t, ics, "DTSTART:20250602T100000Z")
	assert.Contains(t, ics, "DTEND:20250602T103000Z")
	assert.Contains(t, ics, "UID:b-1@scheduler.app")
	assert.Contains(t, ics, "SUMMARY:Appointment with Bob")
	assert.Contains(t, ics, "DESCRIPTION:First visit")
	assert.Contains(t, ics, "ATTENDEE;CN=Alice;RSVP=TRUE:mailto:alice@example.com")
	assert.Contains(t, ics, "ORGANIZER;CN=Bob:mailto:bob@example.com")
	assert.Contains(t, ics, "STATUS:CONFIRMED")
}

func TestGenerateICS_NoNotes(t *testing.T) {
	b := &models.Booking{
		ID:         "b-2",
		GuestName:  "Alice",
		GuestEmail: "alice@example.com",
		StartAt:    time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
	}
	owner := &models.User{Name: "Bob", Email: "bob@example.com"}

	ics := GenerateICS(b, owner)

	assert.Contains(t, ics, "DESCRIPTION:\r\n")
}

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "x@example.com"}, nil)
	assert.Nil(t, sender)
}
