package calendar

import (
	"booking-service/internal/models"
	"booking-service/pkg/response"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Config is the app-level OAuth2 configuration. Per-user clients are built
// from it on every call; there is no shared client handle.
type Config struct {
	oauth        *oauth2.Config
	queryTimeout time.Duration
}

func NewConfig(clientID, clientSecret string, queryTimeout time.Duration) *Config {
	return &Config{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes: []string{
				calendarapi.CalendarReadonlyScope,
				calendarapi.CalendarEventsScope,
			},
			Endpoint: google.Endpoint,
		},
		queryTimeout: queryTimeout,
	}
}

type Client struct {
	svc          *calendarapi.Service
	queryTimeout time.Duration
}

// ClientFor builds a calendar client authorized as the given account.
func (c *Config) ClientFor(ctx context.Context, account *models.CalendarAccount) (*Client, error) {
	const op = "calendar.Config.ClientFor"

	tok := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.Expiry,
	}

	svc, err := calendarapi.NewService(ctx, option.WithHTTPClient(c.oauth.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Client{svc: svc, queryTimeout: c.queryTimeout}, nil
}

// BusyIntervals queries the primary calendar's free/busy state. The call is
// bounded by the configured query timeout.
func (c *Client) BusyIntervals(ctx context.Context, from, to time.Time) ([]models.BusyInterval, error) {
	const op = "calendar.Client.BusyIntervals"

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	res, err := c.svc.Freebusy.Query(&calendarapi.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendarapi.FreeBusyRequestItem{{Id: "primary"}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, response.ErrUpstream, err)
	}

	cal, ok := res.Calendars["primary"]
	if !ok {
		return nil, nil
	}

	var out []models.BusyInterval
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("%s: parse busy start %q: %w", op, period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("%s: parse busy end %q: %w", op, period.End, err)
		}
		out = append(out, models.BusyInterval{Start: start, End: end})
	}

	return out, nil
}

// CreateEvent inserts the booking into the operator's primary calendar and
// returns the created event ID.
func (c *Client) CreateEvent(ctx context.Context, b *models.Booking) (string, error) {
	const op = "calendar.Client.CreateEvent"

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	description := ""
	if b.GuestNotes != nil {
		description = *b.GuestNotes
	}

	event, err := c.svc.Events.Insert("primary", &calendarapi.Event{
		Summary:     fmt.Sprintf("Appointment with %s", b.GuestName),
		Description: description,
		Start:       &calendarapi.EventDateTime{DateTime: b.StartAt.Format(time.RFC3339)},
		End:         &calendarapi.EventDateTime{DateTime: b.EndAt.Format(time.RFC3339)},
		Attendees:   []*calendarapi.EventAttendee{{Email: b.GuestEmail}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, response.ErrUpstream, err)
	}

	return event.Id, nil
}

// AccountStore yields the operator's stored OAuth grant.
type AccountStore interface {
	GetCalendarAccount(ctx context.Context, userID string) (*models.CalendarAccount, error)
}

// Source adapts per-user client construction to schedule.BusySource. An
// operator without a connected calendar contributes no busy intervals; that
// is absence of the integration, not a query failure.
type Source struct {
	cfg      *Config
	accounts AccountStore
}

func NewSource(cfg *Config, accounts AccountStore) *Source {
	return &Source{cfg: cfg, accounts: accounts}
}

func (s *Source) ListBusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]models.BusyInterval, error) {
	const op = "calendar.Source.ListBusyIntervals"

	account, err := s.accounts.GetCalendarAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	client, err := s.cfg.ClientFor(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return client.BusyIntervals(ctx, from, to)
}
