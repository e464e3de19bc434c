package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/intent"
)

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

func creates(t *testing.T, b intent.BatchConfirm) []intent.Create {
	t.Helper()
	out := make([]intent.Create, 0, len(b.Actions))
	for _, a := range b.Actions {
		c, ok := a.(intent.Create)
		require.True(t, ok, "got %T", a)
		out = append(out, c)
	}
	return out
}

func TestDetectLinesWithoutHeaderUseToday(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, loc)

	b, ok := Detect("09:00-10:00 Standup\n10:30 – 12:00 Design review\nnot a schedule line\n13.00—14.00 Lunch", now, loc, "en")
	require.True(t, ok)
	evs := creates(t, b)
	require.Len(t, evs, 3)

	assert.Equal(t, "Standup", evs[0].Title)
	assert.Equal(t, time.Date(2025, 11, 24, 9, 0, 0, 0, loc), evs[0].Start)
	assert.Equal(t, time.Date(2025, 11, 24, 10, 0, 0, 0, loc), evs[0].End)
	assert.Equal(t, "Design review", evs[1].Title)
	assert.Equal(t, time.Date(2025, 11, 24, 13, 0, 0, 0, loc), evs[2].Start)
	assert.Equal(t, 1.0, b.Confidence)
	assert.Equal(t, 1.0, evs[2].Confidence)
}

func TestDetectHeaders(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, loc)
	text := `Завтра:
09:00-09:30 Зарядка
2025-11-27
- 18:00-19:00 Gym
28.11
* 07:00-08:00 Run
Friday 5.12.2025 is irrelevant
01.12.25:
10:00-11:00 Planning`

	b, ok := Detect(text, now, loc, "ru")
	require.True(t, ok)
	evs := creates(t, b)
	require.Len(t, evs, 4)
	assert.Equal(t, "2025-11-25 09:00", evs[0].Start.Format("2006-01-02 15:04"))
	assert.Equal(t, "2025-11-27 18:00", evs[1].Start.Format("2006-01-02 15:04"))
	assert.Equal(t, "2025-11-28 07:00", evs[2].Start.Format("2006-01-02 15:04"))
	assert.Equal(t, "2025-12-01 10:00", evs[3].Start.Format("2006-01-02 15:04"))
	assert.Equal(t, "ru", b.Language)
}

func TestDetectOvernightRange(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, loc)
	b, ok := Detect("23:00-01:00 Night shift\n22:00-24:00 Movie", now, loc, "en")
	require.True(t, ok)
	evs := creates(t, b)
	assert.Equal(t, time.Date(2025, 11, 25, 1, 0, 0, 0, loc), evs[0].End)
	assert.Equal(t, time.Date(2025, 11, 25, 0, 0, 0, 0, loc), evs[1].End)
}

func TestDetectNoMatch(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, loc)
	for _, text := range []string{
		"tomorrow at 3pm team sync",
		"call mom",
		"25:00-26:00 impossible",
		"10:00-11:00",
		"meet 10:00-11:00 with Bob",
	} {
		_, ok := Detect(text, now, loc, "en")
		assert.False(t, ok, text)
	}
}

func TestDetectInvalidHeaderIgnored(t *testing.T) {
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, loc)
	b, ok := Detect("31.02\n10:00-11:00 Sync", now, loc, "en")
	require.True(t, ok)
	assert.Equal(t, 24, creates(t, b)[0].Start.Day())
}
