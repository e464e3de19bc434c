package prompt

import (
	"strings"
	"time"

	"calbot/internal/intent"
)

// DateEntry is one row of the relative-date table.
type DateEntry struct {
	Label string
	Date  time.Time
}

// DateTable resolves the relative expressions users most often say, counted
// from now's calendar day in loc. Weekday rows name the next such day
// strictly after today.
func DateTable(now time.Time, loc *time.Location) []DateEntry {
	today := intent.StartOfDay(now, loc)
	day := func(offset int) time.Time {
		return time.Date(today.Year(), today.Month(), today.Day()+offset, 0, 0, 0, 0, loc)
	}

	rows := []DateEntry{
		{Label: "today", Date: today},
		{Label: "tomorrow", Date: day(1)},
		{Label: "day after tomorrow", Date: day(2)},
	}
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		rows = append(rows, DateEntry{Label: strings.ToLower(wd.String()), Date: day(daysUntil(today.Weekday(), wd))})
	}
	rows = append(rows,
		DateEntry{Label: "in a week", Date: day(7)},
		DateEntry{Label: "next week", Date: day(daysUntil(today.Weekday(), time.Monday))},
		DateEntry{Label: "end of week", Date: day(int(time.Sunday-today.Weekday()+7) % 7)},
		DateEntry{Label: "end of month", Date: time.Date(today.Year(), today.Month()+1, 0, 0, 0, 0, 0, loc)},
	)
	return rows
}

// daysUntil counts days from one weekday to the next occurrence of another,
// never zero.
func daysUntil(from, to time.Weekday) int {
	d := int(to-from+7) % 7
	if d == 0 {
		d = 7
	}
	return d
}

var phraseAliases = map[string]string{
	"сегодня":             "today",
	"завтра":              "tomorrow",
	"послезавтра":         "day after tomorrow",
	"через неделю":        "in a week",
	"next week":           "next week",
	"на следующей неделе": "next week",
	"следующая неделя":    "next week",
	"end of the week":     "end of week",
	"конец недели":        "end of week",
	"в конце недели":      "end of week",
	"end of the month":    "end of month",
	"конец месяца":        "end of month",
	"в конце месяца":      "end of month",
}

var phrasePrefixes = []string{"on ", "next ", "this ", "во ", "в ", "следующий ", "следующую "}

// ResolveRelative maps a relative day expression to a date using the same
// rules as DateTable.
func ResolveRelative(phrase string, now time.Time, loc *time.Location) (time.Time, bool) {
	p := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	p = strings.Trim(p, ".,:!?")
	if alias, ok := phraseAliases[p]; ok {
		p = alias
	}
	table := DateTable(now, loc)
	if d, ok := lookup(table, p); ok {
		return d, true
	}
	for _, prefix := range phrasePrefixes {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			if wd, ok := intent.ParseWeekday(rest); ok {
				return lookup(table, strings.ToLower(wd.String()))
			}
		}
	}
	if wd, ok := intent.ParseWeekday(p); ok {
		return lookup(table, strings.ToLower(wd.String()))
	}
	return time.Time{}, false
}

func lookup(table []DateEntry, label string) (time.Time, bool) {
	for _, e := range table {
		if e.Label == label {
			return e.Date, true
		}
	}
	return time.Time{}, false
}
