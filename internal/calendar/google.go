package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"calbot/internal/domain"
)

// userProperty tags every event with its owner so several users can share
// one Google calendar.
const userProperty = "calbot_user"

// GoogleStore writes to a single Google calendar and the default task list
// of the authorized account.
type GoogleStore struct {
	events     *gcal.Service
	tasks      *tasks.Service
	calendarID string
}

type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
}

// NewGoogleStore builds the services from an OAuth client credentials file
// and a previously stored token (JSON-encoded oauth2.Token).
func NewGoogleStore(ctx context.Context, cfg GoogleConfig) (*GoogleStore, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(creds, gcal.CalendarEventsScope, tasks.TasksScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	raw, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read google token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse google token: %w", err)
	}

	client := oauth2.NewClient(ctx, conf.TokenSource(ctx, &tok))
	return NewGoogleStoreWithClient(ctx, client, cfg.CalendarID)
}

// NewGoogleStoreWithClient uses an already authorized HTTP client.
func NewGoogleStoreWithClient(ctx context.Context, client *http.Client, calendarID string, opts ...option.ClientOption) (*GoogleStore, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	evSvc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	taskSvc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create tasks service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleStore{events: evSvc, tasks: taskSvc, calendarID: calendarID}, nil
}

func (s *GoogleStore) CreateEvent(ctx context.Context, userID string, ev domain.EventDraft) (string, error) {
	event := &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       eventTime(ev.Start),
		End:         eventTime(ev.End),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{userProperty: userID},
		},
	}
	for _, email := range ev.Attendees {
		event.Attendees = append(event.Attendees, &gcal.EventAttendee{Email: email})
	}

	created, err := s.events.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return created.Id, nil
}

func (s *GoogleStore) UpdateEvent(ctx context.Context, userID, eventID string, patch domain.EventPatch) error {
	existing, err := s.owned(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if patch.Title != nil {
		existing.Summary = *patch.Title
	}
	if patch.Location != nil {
		existing.Location = *patch.Location
	}
	if patch.Start != nil {
		existing.Start = eventTime(*patch.Start)
	}
	if patch.End != nil {
		existing.End = eventTime(*patch.End)
	}
	if _, err := s.events.Events.Update(s.calendarID, eventID, existing).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (s *GoogleStore) DeleteEvent(ctx context.Context, userID, eventID string) error {
	if _, err := s.owned(ctx, userID, eventID); err != nil {
		return err
	}
	if err := s.events.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (s *GoogleStore) ListEvents(ctx context.Context, userID string, r domain.TimeRange) ([]domain.EventRef, error) {
	var out []domain.EventRef
	call := s.events.Events.List(s.calendarID).
		TimeMin(r.Start.Format(time.RFC3339)).
		TimeMax(r.End.Format(time.RFC3339)).
		PrivateExtendedProperty(userProperty + "=" + userID).
		SingleEvents(true).
		OrderBy("startTime")

	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			out = append(out, toEventRef(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

func (s *GoogleStore) CreateTask(ctx context.Context, _ string, task domain.TaskDraft) (string, error) {
	t := &tasks.Task{Title: task.Title, Notes: task.Notes}
	if task.Due != nil {
		t.Due = task.Due.UTC().Format(time.RFC3339)
	}
	created, err := s.tasks.Tasks.Insert("@default", t).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return created.Id, nil
}

// owned fetches an event and checks it belongs to userID.
func (s *GoogleStore) owned(ctx context.Context, userID, eventID string) (*gcal.Event, error) {
	ev, err := s.events.Events.Get(s.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if ev.Status == "cancelled" || ev.ExtendedProperties == nil || ev.ExtendedProperties.Private[userProperty] != userID {
		return nil, ErrEventNotFound
	}
	return ev, nil
}

func eventTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: zoneName(t)}
}

// zoneName returns an IANA name when t carries one; fixed offsets are
// already encoded in the RFC3339 value.
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name == "Local" || name == "" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		return ""
	}
	return name
}

func toEventRef(event *gcal.Event) domain.EventRef {
	ref := domain.EventRef{ID: event.Id, Title: event.Summary, Location: event.Location}
	ref.Start = parseEventTime(event.Start)
	ref.End = parseEventTime(event.End)
	return ref
}

func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		if t, err := time.ParseInLocation("2006-01-02", dt.Date, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
