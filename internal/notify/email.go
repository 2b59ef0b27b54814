package notify

import (
	"booking-service/internal/models"
	"booking-service/pkg/sl"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers post-booking notifications. Implementations are swappable
// without touching the outbox dispatcher.
type Sender interface {
	SendGuestConfirmation(ctx context.Context, b *models.Booking, owner *models.User) error
	SendOwnerNotification(ctx context.Context, b *models.Booking, owner *models.User) error
}

type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	log       *slog.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured; callers treat
// a nil sender as notifications-disabled.
func NewSendGridSender(cfg SendGridConfig, log *slog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Scheduler"
	}

	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log,
	}
}

func (s *SendGridSender) SendGuestConfirmation(ctx context.Context, b *models.Booking, owner *models.User) error {
	const op = "notify.SendGridSender.SendGuestConfirmation"

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(b.GuestName, b.GuestEmail)

	plain, html := guestConfirmationBody(b, owner)
	message := mail.NewSingleEmail(from, "Appointment Confirmed", to, plain, html)

	ics := mail.NewAttachment()
	ics.SetContent(base64.StdEncoding.EncodeToString([]byte(GenerateICS(b, owner))))
	ics.SetType("text/calendar")
	ics.SetFilename("appointment.ics")
	ics.SetDisposition("attachment")
	message.AddAttachment(ics)

	return s.send(ctx, op, b.GuestEmail, message)
}

func (s *SendGridSender) SendOwnerNotification(ctx context.Context, b *models.Booking, owner *models.User) error {
	const op = "notify.SendGridSender.SendOwnerNotification"

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(owner.Name, owner.Email)

	plain, html := ownerNotificationBody(b)
	message := mail.NewSingleEmail(from, "New Appointment Booked", to, plain, html)

	return s.send(ctx, op, owner.Email, message)
}

func (s *SendGridSender) send(ctx context.Context, op, to string, message *mail.SGMailV3) error {
	res, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.log.Error("sendgrid send failed", slog.String("op", op), slog.String("to", to), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.StatusCode >= 400 {
		s.log.Error("sendgrid returned error status",
			slog.String("op", op), slog.String("to", to), slog.Int("status", res.StatusCode))
		return fmt.Errorf("%s: sendgrid status %d", op, res.StatusCode)
	}

	return nil
}

func guestConfirmationBody(b *models.Booking, owner *models.User) (string, string) {
	when := b.StartAt.Format("Monday, January 2, 2006 at 3:04 PM")

	plain := fmt.Sprintf(
		"Hello %s,\n\nYour appointment with %s is confirmed.\nDate & Time: %s\n\nA calendar invite is attached.\n",
		b.GuestName, owner.Name, when)

	html := fmt.Sprintf(
		`<h2>Your appointment is confirmed!</h2>
<p>Hello %s,</p>
<p>Your appointment has been scheduled with %s.</p>
<p><strong>Date &amp; Time:</strong> %s</p>%s
<p>A calendar invite is attached to this email.</p>`,
		b.GuestName, owner.Name, when, notesBlock(b))

	return plain, html
}

func ownerNotificationBody(b *models.Booking) (string, string) {
	when := b.StartAt.Format("Monday, January 2, 2006 at 3:04 PM")

	plain := fmt.Sprintf(
		"New appointment booked.\nGuest: %s (%s)\nDate & Time: %s\n",
		b.GuestName, b.GuestEmail, when)

	html := fmt.Sprintf(
		`<h2>New Appointment Booked</h2>
<p><strong>Guest:</strong> %s (%s)</p>
<p><strong>Date &amp; Time:</strong> %s</p>%s
<p>This event has been added to your calendar.</p>`,
		b.GuestName, b.GuestEmail, when, notesBlock(b))

	return plain, html
}

func notesBlock(b *models.Booking) string {
	if b.GuestNotes == nil || *b.GuestNotes == "" {
		return ""
	}
	return fmt.Sprintf("\n<p><strong>Notes:</strong> %s</p>", *b.GuestNotes)
}
