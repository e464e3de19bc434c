package calendar

import (
	"slices"
	"time"

	"calbot/internal/domain"
)

// WorkingHours bounds free-slot search to [StartHour, EndHour) each day.
type WorkingHours struct {
	StartHour int
	EndHour   int
}

var DefaultWorkingHours = WorkingHours{StartHour: 9, EndHour: 18}

// FreeSlots returns the gaps of at least minLength between busy events
// inside r, restricted to working hours in loc.
func FreeSlots(busy []domain.EventRef, r domain.TimeRange, minLength time.Duration, hours WorkingHours, loc *time.Location) []domain.TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	intervals := mergeBusy(busy)

	var free []domain.TimeRange
	first := r.Start.In(loc)
	for day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); day.Before(r.End); day = day.AddDate(0, 0, 1) {
		winStart := time.Date(day.Year(), day.Month(), day.Day(), hours.StartHour, 0, 0, 0, loc)
		winEnd := time.Date(day.Year(), day.Month(), day.Day(), hours.EndHour, 0, 0, 0, loc)
		if winStart.Before(r.Start) {
			winStart = r.Start
		}
		if winEnd.After(r.End) {
			winEnd = r.End
		}
		if !winEnd.After(winStart) {
			continue
		}

		cursor := winStart
		for _, b := range intervals {
			if !b.End.After(cursor) || !b.Start.Before(winEnd) {
				continue
			}
			if b.Start.Sub(cursor) >= minLength {
				free = append(free, domain.TimeRange{Start: cursor.In(loc), End: b.Start.In(loc)})
			}
			cursor = b.End
		}
		if cursor.Before(winEnd) && winEnd.Sub(cursor) >= minLength {
			free = append(free, domain.TimeRange{Start: cursor.In(loc), End: winEnd.In(loc)})
		}
	}
	return free
}

func mergeBusy(events []domain.EventRef) []domain.TimeRange {
	intervals := make([]domain.TimeRange, 0, len(events))
	for _, ev := range events {
		if ev.End.After(ev.Start) {
			intervals = append(intervals, domain.TimeRange{Start: ev.Start, End: ev.End})
		}
	}
	slices.SortFunc(intervals, func(a, b domain.TimeRange) int { return a.Start.Compare(b.Start) })

	merged := intervals[:0]
	for _, iv := range intervals {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
