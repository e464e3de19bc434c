package calendar

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"calbot/internal/domain"
)

// MemoryStore keeps events and tasks per user in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]map[string]domain.EventRef
	tasks  map[string]map[string]domain.TaskDraft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]map[string]domain.EventRef),
		tasks:  make(map[string]map[string]domain.TaskDraft),
	}
}

func (s *MemoryStore) CreateEvent(_ context.Context, userID string, ev domain.EventDraft) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events[userID] == nil {
		s.events[userID] = make(map[string]domain.EventRef)
	}
	s.events[userID][id] = domain.EventRef{ID: id, Title: ev.Title, Start: ev.Start, End: ev.End, Location: ev.Location}
	return id, nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, userID, eventID string, patch domain.EventPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[userID][eventID]
	if !ok {
		return ErrEventNotFound
	}
	s.events[userID][eventID] = patch.Apply(ev)
	return nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, userID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[userID][eventID]; !ok {
		return ErrEventNotFound
	}
	delete(s.events[userID], eventID)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, userID string, r domain.TimeRange) ([]domain.EventRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EventRef
	for _, ev := range s.events[userID] {
		if ev.Start.Before(r.End) && ev.End.After(r.Start) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStore) CreateTask(_ context.Context, userID string, task domain.TaskDraft) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[userID] == nil {
		s.tasks[userID] = make(map[string]domain.TaskDraft)
	}
	s.tasks[userID][id] = task
	return id, nil
}

// Tasks returns a copy of the user's tasks keyed by id.
func (s *MemoryStore) Tasks(userID string) map[string]domain.TaskDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.TaskDraft, len(s.tasks[userID]))
	for id, t := range s.tasks[userID] {
		out[id] = t
	}
	return out
}

func sortEvents(events []domain.EventRef) {
	slices.SortFunc(events, func(a, b domain.EventRef) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
