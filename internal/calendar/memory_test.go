package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	start := time.Date(2025, 11, 25, 15, 0, 0, 0, time.UTC)

	id, err := s.CreateEvent(ctx, "u1", domain.EventDraft{Title: "team sync", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, "u1", domain.EventDraft{Title: "earlier", Start: start.Add(-2 * time.Hour), End: start.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, "u2", domain.EventDraft{Title: "someone else", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	day := domain.TimeRange{Start: start.Truncate(24 * time.Hour), End: start.Truncate(24 * time.Hour).Add(24 * time.Hour)}
	got, err := s.ListEvents(ctx, "u1", day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "earlier", got[0].Title)
	assert.Equal(t, domain.EventRef{ID: id, Title: "team sync", Start: start, End: start.Add(time.Hour)}, got[1])

	title := "team sync (moved)"
	require.NoError(t, s.UpdateEvent(ctx, "u1", id, domain.EventPatch{Title: &title}))
	require.ErrorIs(t, s.UpdateEvent(ctx, "u2", id, domain.EventPatch{Title: &title}), ErrEventNotFound)

	require.NoError(t, s.DeleteEvent(ctx, "u1", id))
	require.ErrorIs(t, s.DeleteEvent(ctx, "u1", id), ErrEventNotFound)

	got, err = s.ListEvents(ctx, "u1", day)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStoreListOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Date(2025, 11, 25, 23, 0, 0, 0, time.UTC)
	_, _ = s.CreateEvent(ctx, "u", domain.EventDraft{Title: "overnight", Start: at, End: at.Add(2 * time.Hour)})

	next := domain.TimeRange{Start: time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)}
	got, err := s.ListEvents(ctx, "u", next)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	after := domain.TimeRange{Start: at.Add(2 * time.Hour), End: at.Add(3 * time.Hour)}
	got, err = s.ListEvents(ctx, "u", after)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreTasks(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateTask(context.Background(), "u", domain.TaskDraft{Title: "call mom"})
	require.NoError(t, err)
	assert.Equal(t, "call mom", s.Tasks("u")[id].Title)
	assert.Empty(t, s.Tasks("other"))
}
