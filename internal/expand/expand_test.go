package expand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/domain"
	"calbot/internal/intent"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func starts(ops []domain.Operation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Event.Start.Format("2006-01-02 15:04"))
	}
	return out
}

func TestRecurringWeekly(t *testing.T) {
	loc := mustLoc(t, "Europe/Moscow")
	now := time.Date(2025, 11, 24, 10, 0, 0, 0, loc)
	r := intent.CreateRecurring{
		Title:      "Gym",
		Start:      time.Date(2025, 11, 24, 19, 0, 0, 0, loc),
		End:        time.Date(2025, 11, 24, 20, 30, 0, 0, loc),
		Recurrence: intent.Weekly,
		Days:       []time.Weekday{time.Monday, time.Thursday},
		Until:      time.Date(2025, 12, 8, 23, 59, 59, 0, loc),
	}
	ops := Recurring(r, now, loc, 0)
	assert.Equal(t, []string{
		"2025-11-24 19:00", "2025-11-27 19:00",
		"2025-12-01 19:00", "2025-12-04 19:00",
		"2025-12-08 19:00",
	}, starts(ops))
	for _, op := range ops {
		assert.Equal(t, domain.OpCreateEvent, op.Kind)
		assert.Equal(t, 90*time.Minute, op.Event.End.Sub(op.Event.Start))
	}
}

func TestRecurringStartsNoEarlierThanToday(t *testing.T) {
	loc := time.UTC
	r := intent.CreateRecurring{
		Title:      "Pills",
		Start:      time.Date(2025, 11, 1, 8, 0, 0, 0, loc),
		End:        time.Date(2025, 11, 1, 8, 5, 0, 0, loc),
		Recurrence: intent.Daily,
		Until:      time.Date(2025, 11, 26, 23, 59, 59, 0, loc),
	}
	ops := Recurring(r, time.Date(2025, 11, 24, 12, 0, 0, 0, loc), loc, 0)
	assert.Equal(t, []string{"2025-11-24 08:00", "2025-11-25 08:00", "2025-11-26 08:00"}, starts(ops))
}

func TestRecurringDefaultEndOfYearAndCap(t *testing.T) {
	loc := mustLoc(t, "Europe/Moscow")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, loc)
	r := intent.CreateRecurring{
		Title:      "Journal",
		Start:      time.Date(2025, 1, 1, 21, 0, 0, 0, loc),
		End:        time.Date(2025, 1, 1, 21, 15, 0, 0, loc),
		Recurrence: intent.Daily,
		Until:      intent.EndOfYear(now, loc),
	}
	ops := Recurring(r, now, loc, 0)
	require.Len(t, ops, 365)
	assert.Equal(t, "2025-12-31 21:00", starts(ops)[364])

	r.Until = time.Date(2027, 1, 1, 0, 0, 0, 0, loc)
	assert.Len(t, Recurring(r, now, loc, 0), DefaultMaxOccurrences)
	assert.Len(t, Recurring(r, now, loc, 10), 10)
}

func TestRecurringMonthlySkipsShortMonths(t *testing.T) {
	loc := time.UTC
	r := intent.CreateRecurring{
		Title:      "Rent",
		Start:      time.Date(2026, 1, 31, 9, 0, 0, 0, loc),
		End:        time.Date(2026, 1, 31, 9, 30, 0, 0, loc),
		Recurrence: intent.Monthly,
		Until:      time.Date(2026, 6, 30, 23, 59, 59, 0, loc),
	}
	ops := Recurring(r, time.Date(2026, 1, 1, 0, 0, 0, 0, loc), loc, 0)
	assert.Equal(t, []string{"2026-01-31 09:00", "2026-03-31 09:00", "2026-05-31 09:00"}, starts(ops))
}

func TestRecurringKeepsWallClockAcrossDST(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	r := intent.CreateRecurring{
		Title:      "Standup",
		Start:      time.Date(2025, 3, 7, 9, 0, 0, 0, loc),
		End:        time.Date(2025, 3, 7, 9, 15, 0, 0, loc),
		Recurrence: intent.Daily,
		Until:      time.Date(2025, 3, 10, 23, 59, 59, 0, loc),
	}
	ops := Recurring(r, time.Date(2025, 3, 7, 0, 0, 0, 0, loc), loc, 0)
	require.Len(t, ops, 4)
	for _, op := range ops {
		assert.Equal(t, 9, op.Event.Start.Hour())
	}
	assert.Equal(t, 23*time.Hour, ops[2].Event.Start.Sub(ops[1].Event.Start))
}

func TestActions(t *testing.T) {
	due := time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC)
	title := "Renamed"
	b := intent.BatchConfirm{Actions: []intent.Intent{
		intent.Create{Title: "A", Start: due, End: due.Add(time.Hour)},
		intent.CreateTask{Title: "B", Due: &due},
		intent.Update{EventID: "e1", Patch: domain.EventPatch{Title: &title}},
		intent.Delete{EventID: "e2", Title: "Old"},
	}}
	ops, err := Actions(b)
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, []domain.OpKind{domain.OpCreateEvent, domain.OpCreateTask, domain.OpUpdateEvent, domain.OpDeleteEvent},
		[]domain.OpKind{ops[0].Kind, ops[1].Kind, ops[2].Kind, ops[3].Kind})
	assert.Equal(t, "e2", ops[3].EventID)
	assert.Equal(t, `delete "Old"`, ops[3].Description)

	_, err = Actions(intent.BatchConfirm{Actions: []intent.Intent{intent.Query{}}})
	assert.Error(t, err)
}

func TestByTitleAndDuplicates(t *testing.T) {
	at := time.Date(2025, 11, 25, 10, 0, 0, 0, time.UTC)
	events := []domain.EventRef{
		{ID: "1", Title: "Daily Standup", Start: at},
		{ID: "2", Title: "daily  standup", Start: at},
		{ID: "3", Title: "Lunch", Start: at},
		{ID: "4", Title: "Daily standup", Start: at.Add(24 * time.Hour)},
		{ID: "5", Title: "DAILY STANDUP", Start: at.In(time.FixedZone("MSK", 3*3600))},
	}

	byTitle := ByTitle(events, "STANDUP")
	require.Len(t, byTitle, 4)
	assert.Equal(t, "1", byTitle[0].EventID)
	assert.Empty(t, ByTitle(events, "  "))

	dups := Duplicates(events)
	require.Len(t, dups, 2)
	assert.Equal(t, "2", dups[0].EventID)
	assert.Equal(t, "5", dups[1].EventID)
}
