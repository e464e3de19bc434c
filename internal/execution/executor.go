package execution

import (
	"context"
	"errors"
	"fmt"

	"calbot/internal/calendar"
	"calbot/internal/domain"
)

var ErrTasksUnsupported = errors.New("calendar backend does not support tasks")

// StoreExecutor applies operations to a calendar store.
type StoreExecutor struct {
	Events calendar.Store
	// Tasks may be nil when the backend has no task list.
	Tasks calendar.TaskStore
}

func NewStoreExecutor(store calendar.Store) *StoreExecutor {
	e := &StoreExecutor{Events: store}
	if ts, ok := store.(calendar.TaskStore); ok {
		e.Tasks = ts
	}
	return e
}

func (e *StoreExecutor) Execute(ctx context.Context, userID string, op domain.Operation) (string, error) {
	id, err := e.apply(ctx, userID, op)
	if err != nil {
		return "", domain.NewError(domain.KindCalendar, string(op.Kind), err)
	}
	return id, nil
}

func (e *StoreExecutor) apply(ctx context.Context, userID string, op domain.Operation) (string, error) {
	switch op.Kind {
	case domain.OpCreateEvent:
		if op.Event == nil {
			return "", errors.New("create without event")
		}
		return e.Events.CreateEvent(ctx, userID, *op.Event)
	case domain.OpCreateTask:
		if op.Task == nil {
			return "", errors.New("create task without task")
		}
		if e.Tasks == nil {
			return "", ErrTasksUnsupported
		}
		return e.Tasks.CreateTask(ctx, userID, *op.Task)
	case domain.OpUpdateEvent:
		if op.Patch == nil {
			return "", errors.New("update without patch")
		}
		return op.EventID, e.Events.UpdateEvent(ctx, userID, op.EventID, *op.Patch)
	case domain.OpDeleteEvent:
		return op.EventID, e.Events.DeleteEvent(ctx, userID, op.EventID)
	default:
		return "", fmt.Errorf("unknown operation %q", op.Kind)
	}
}
