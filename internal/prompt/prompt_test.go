package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/conversation"
	"calbot/internal/domain"
)

func loadLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func tableMap(rows []DateEntry) map[string]string {
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Date.Format("2006-01-02")
	}
	return out
}

func TestDateTableFromMonday(t *testing.T) {
	loc := loadLoc(t, "Europe/Moscow")
	now := time.Date(2025, 11, 24, 10, 0, 0, 0, loc)

	assert.Equal(t, map[string]string{
		"today":              "2025-11-24",
		"tomorrow":           "2025-11-25",
		"day after tomorrow": "2025-11-26",
		"monday":             "2025-12-01",
		"tuesday":            "2025-11-25",
		"wednesday":          "2025-11-26",
		"thursday":           "2025-11-27",
		"friday":             "2025-11-28",
		"saturday":           "2025-11-29",
		"sunday":             "2025-11-30",
		"in a week":          "2025-12-01",
		"next week":          "2025-12-01",
		"end of week":        "2025-11-30",
		"end of month":       "2025-11-30",
	}, tableMap(DateTable(now, loc)))
}

func TestDateTableFromSundayAcrossMonth(t *testing.T) {
	loc := loadLoc(t, "Europe/Moscow")
	now := time.Date(2025, 11, 30, 23, 30, 0, 0, loc)
	got := tableMap(DateTable(now, loc))
	assert.Equal(t, "2025-11-30", got["end of week"])
	assert.Equal(t, "2025-12-07", got["sunday"])
	assert.Equal(t, "2025-12-01", got["monday"])
	assert.Equal(t, "2025-11-30", got["end of month"])
	assert.Equal(t, "2025-12-01", got["tomorrow"])
}

func TestDateTableUsesUserZone(t *testing.T) {
	loc := loadLoc(t, "Asia/Tokyo")
	// 20:00 UTC on the 24th is already the 25th in Tokyo.
	now := time.Date(2025, 11, 24, 20, 0, 0, 0, time.UTC)
	got := tableMap(DateTable(now, loc))
	assert.Equal(t, "2025-11-25", got["today"])
}

func TestDateTableAcrossDST(t *testing.T) {
	loc := loadLoc(t, "America/New_York")
	now := time.Date(2025, 3, 8, 23, 0, 0, 0, loc)
	for _, row := range DateTable(now, loc) {
		assert.Zero(t, row.Date.Hour(), row.Label)
	}
	assert.Equal(t, "2025-03-09", tableMap(DateTable(now, loc))["tomorrow"])
}

func TestResolveRelative(t *testing.T) {
	loc := loadLoc(t, "Europe/Moscow")
	now := time.Date(2025, 11, 24, 10, 0, 0, 0, loc)

	tests := map[string]string{
		"tomorrow":         "2025-11-25",
		"Завтра":           "2025-11-25",
		"послезавтра":      "2025-11-26",
		"next Friday":      "2025-11-28",
		"в пятницу":        "2025-11-28",
		"on monday":        "2025-12-01",
		"end of the month": "2025-11-30",
		"через неделю":     "2025-12-01",
	}
	for phrase, want := range tests {
		got, ok := ResolveRelative(phrase, now, loc)
		require.True(t, ok, phrase)
		assert.Equal(t, want, got.Format("2006-01-02"), phrase)
	}

	_, ok := ResolveRelative("someday", now, loc)
	assert.False(t, ok)
}

func TestBuildIsDeterministic(t *testing.T) {
	loc := loadLoc(t, "Europe/Moscow")
	events := []domain.EventRef{
		{ID: "b", Title: "Later", Start: time.Date(2025, 11, 26, 9, 0, 0, 0, loc), End: time.Date(2025, 11, 26, 10, 0, 0, 0, loc)},
		{ID: "a", Title: "Sooner", Start: time.Date(2025, 11, 25, 9, 0, 0, 0, loc), End: time.Date(2025, 11, 25, 9, 30, 0, 0, loc)},
	}
	in := Input{
		Text:           "move the later one to friday",
		Now:            time.Date(2025, 11, 24, 10, 0, 0, 0, loc),
		Location:       loc,
		Language:       "ru",
		ExistingEvents: events,
		Previous:       &conversation.Exchange{UserMessage: "move it", Question: "Which meeting?"},
	}

	doc := Build(in)
	assert.Equal(t, doc, Build(in))
	assert.Contains(t, doc.System, "question in Russian")
	assert.Contains(t, doc.User, "Now: 2025-11-24 10:00 Monday (Europe/Moscow, UTC+03:00)")
	assert.Contains(t, doc.User, "tomorrow: 2025-11-25 (Tuesday)")
	assert.Contains(t, doc.User, "a | Sooner | 2025-11-25 09:00-09:30\nb | Later | 2025-11-26 09:00-10:00\n")
	assert.Contains(t, doc.User, "Your question: Which meeting?")
	assert.Contains(t, doc.User, "Request: move the later one to friday")
	assert.Equal(t, "b", events[0].ID, "input slice must not be reordered")
}

func TestBuildOmitsOptionalSections(t *testing.T) {
	doc := Build(Input{Text: "call mom", Now: time.Date(2025, 11, 24, 10, 0, 0, 0, time.UTC)})
	assert.NotContains(t, doc.User, "Existing events")
	assert.NotContains(t, doc.User, "earlier question")
	assert.Contains(t, doc.System, "question in English")
}

func TestMentionsExistingEvents(t *testing.T) {
	assert.True(t, MentionsExistingEvents("Please move my dentist appointment"))
	assert.True(t, MentionsExistingEvents("Удали все встречи со словом standup"))
	assert.False(t, MentionsExistingEvents("tomorrow at 3pm team sync"))
}
