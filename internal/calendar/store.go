// Package calendar defines the event store the engine writes to and ships
// in-memory and Google Calendar implementations.
package calendar

import (
	"context"
	"errors"

	"calbot/internal/domain"
)

var ErrEventNotFound = errors.New("event not found")

type Store interface {
	CreateEvent(ctx context.Context, userID string, ev domain.EventDraft) (string, error)
	UpdateEvent(ctx context.Context, userID, eventID string, patch domain.EventPatch) error
	DeleteEvent(ctx context.Context, userID, eventID string) error
	// ListEvents returns events overlapping r, ordered by start.
	ListEvents(ctx context.Context, userID string, r domain.TimeRange) ([]domain.EventRef, error)
}

// TaskStore is implemented by stores that keep undated or date-only to-dos.
type TaskStore interface {
	CreateTask(ctx context.Context, userID string, task domain.TaskDraft) (string, error)
}
