package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lucasantoro97/postino/internal/model"
)

// Scope is the only Google Calendar permission the agent needs.
const Scope = "https://www.googleapis.com/auth/calendar.events"

// Client creates calendar events for validated candidates.
type Client interface {
	// CreateEvent inserts the event and returns the provider's event id.
	// descriptionExtra, when non-empty, is appended to the description.
	CreateEvent(ctx context.Context, event model.ValidatedEvent, descriptionExtra string) (string, error)
}

// GoogleClient talks to the Google Calendar API using a token file
// produced by the one-time auth flow. The service is built lazily so a
// missing or expired token surfaces as a per-event error rather than a
// startup failure.
type GoogleClient struct {
	tokenPath  string
	calendarID string
	service    *gcal.Service
}

// NewGoogle creates a client for the configured calendar.
func NewGoogle(cfg model.CalendarConfig) *GoogleClient {
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleClient{tokenPath: cfg.TokenPath, calendarID: calendarID}
}

func (g *GoogleClient) ensureService(ctx context.Context) error {
	if g.service != nil {
		return nil
	}
	ts, err := tokenSourceFromFile(ctx, g.tokenPath)
	if err != nil {
		return err
	}
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("creating calendar service: %w", err)
	}
	g.service = svc
	return nil
}

// tokenSourceFromFile loads credentials saved by the auth flow. Both the
// Google "authorized user" format (refreshable) and a bare oauth2 token
// are accepted.
func tokenSourceFromFile(ctx context.Context, path string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calendar token %s: %w", path, err)
	}

	var probe struct {
		Type         string `json:"type"`
		RefreshToken string `json:"refresh_token"`
		ClientID     string `json:"client_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parsing calendar token %s: %w", path, err)
	}

	if probe.Type == "authorized_user" || (probe.RefreshToken != "" && probe.ClientID != "") {
		creds, err := google.CredentialsFromJSON(ctx, data, Scope)
		if err != nil {
			return nil, fmt.Errorf("parsing authorized user credentials: %w", err)
		}
		return creds.TokenSource, nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing oauth token: %w", err)
	}
	return oauth2.StaticTokenSource(&tok), nil
}

// CreateEvent inserts the validated event into the configured calendar.
func (g *GoogleClient) CreateEvent(ctx context.Context, event model.ValidatedEvent, descriptionExtra string) (string, error) {
	if err := g.ensureService(ctx); err != nil {
		return "", err
	}

	body := &gcal.Event{
		Summary: event.Summary,
		Start:   &gcal.EventDateTime{DateTime: event.StartISO, TimeZone: event.Timezone},
		End:     &gcal.EventDateTime{DateTime: event.EndISO, TimeZone: event.Timezone},
	}
	if event.Location != "" {
		body.Location = event.Location
	}
	description := event.Description
	if extra := strings.TrimSpace(descriptionExtra); extra != "" {
		description = strings.TrimSpace(description + "\n\n" + extra)
	}
	if description != "" {
		body.Description = description
	}

	created, err := g.service.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("inserting calendar event: %w", err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("calendar insert returned no event id")
	}
	return created.Id, nil
}
