// Package schedule recognizes pasted day plans ("09:00-10:00 standup" lines
// under optional date headers) without consulting the completion service.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"calbot/internal/intent"
	"calbot/internal/prompt"
)

var (
	rangeLine = regexp.MustCompile(`^(?:[-*•]\s*)?(\d{1,2})[:.](\d{2})\s*[-–—]\s*(\d{1,2})[:.](\d{2})\s+(.+)$`)
	isoHeader = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\b`)
	dmyHeader = regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})(?:[./](\d{4}|\d{2}))?\b`)
)

// Detect returns a batch of Create actions, one per time-range line, when
// text contains at least one. Lines before the first date header belong to
// today in loc. A range that does not end after it starts ends the next day.
func Detect(text string, now time.Time, loc *time.Location, lang string) (intent.BatchConfirm, bool) {
	if loc == nil {
		loc = time.UTC
	}
	day := intent.StartOfDay(now, loc)

	var actions []intent.Intent
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if ev, ok := parseRange(line, day, loc); ok {
			ev.Meta = intent.Meta{Confidence: 1, Language: lang}
			actions = append(actions, ev)
			continue
		}
		if d, ok := parseHeader(line, now, loc); ok {
			day = d
		}
	}
	if len(actions) == 0 {
		return intent.BatchConfirm{}, false
	}
	return intent.BatchConfirm{
		Meta:    intent.Meta{Confidence: 1, Language: lang},
		Actions: actions,
		Summary: fmt.Sprintf("%d events from schedule", len(actions)),
	}, true
}

func parseRange(line string, day time.Time, loc *time.Location) (intent.Create, bool) {
	m := rangeLine.FindStringSubmatch(line)
	if m == nil {
		return intent.Create{}, false
	}
	sh, sm, ok1 := clock(m[1], m[2], false)
	eh, em, ok2 := clock(m[3], m[4], true)
	title := strings.TrimSpace(m[5])
	if !ok1 || !ok2 || title == "" {
		return intent.Create{}, false
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), sh, sm, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), eh, em, 0, 0, loc)
	if !end.After(start) {
		end = time.Date(day.Year(), day.Month(), day.Day()+1, eh, em, 0, 0, loc)
	}
	return intent.Create{Title: title, Start: start, End: end}, true
}

// clock validates an hour/minute pair; 24:00 is accepted as an end time.
func clock(h, m string, end bool) (int, int, bool) {
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute > 59 {
		return 0, 0, false
	}
	if hour == 24 && minute == 0 && end {
		return 24, 0, true
	}
	if hour > 23 {
		return 0, 0, false
	}
	return hour, minute, true
}

func parseHeader(line string, now time.Time, loc *time.Location) (time.Time, bool) {
	line = strings.TrimRight(line, ":")
	if m := isoHeader.FindStringSubmatch(line); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return validDate(y, mo, d, loc)
	}
	if m := dmyHeader.FindStringSubmatch(line); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y := now.In(loc).Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
		}
		return validDate(y, mo, d, loc)
	}
	return prompt.ResolveRelative(line, now, loc)
}

func validDate(y, mo, d int, loc *time.Location) (time.Time, bool) {
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
