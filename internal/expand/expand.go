// Package expand turns multi-operation intents into ordered calendar
// operations. It never touches a store.
package expand

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"calbot/internal/domain"
	"calbot/internal/intent"
)

const DefaultMaxOccurrences = 366

// Recurring produces one create operation per occurrence of r, starting on
// the later of the series start and today, ending with r.Until, and capped
// at max. Occurrences keep the series' wall-clock time in loc across DST
// changes. Monthly series skip months that lack the start's day.
func Recurring(r intent.CreateRecurring, now time.Time, loc *time.Location, max int) []domain.Operation {
	if loc == nil {
		loc = time.UTC
	}
	if max <= 0 {
		max = DefaultMaxOccurrences
	}
	start := r.Start.In(loc)
	length := r.End.Sub(r.Start)
	if length <= 0 {
		length = intent.DefaultEventDuration
	}

	day := intent.StartOfDay(start, loc)
	if today := intent.StartOfDay(now, loc); today.After(day) {
		day = today
	}
	until := r.Until.In(loc)

	var ops []domain.Operation
	for ; len(ops) < max; day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc) {
		at := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), start.Second(), 0, loc)
		if at.After(until) {
			break
		}
		if !occursOn(r, start, day) {
			continue
		}
		draft := domain.EventDraft{Title: r.Title, Start: at, End: at.Add(length), Location: r.Location}
		ops = append(ops, CreateOp(draft))
	}
	return ops
}

func occursOn(r intent.CreateRecurring, start, day time.Time) bool {
	switch r.Recurrence {
	case intent.Daily:
		return true
	case intent.Weekly:
		return slices.Contains(r.Days, day.Weekday())
	case intent.Monthly:
		return day.Day() == start.Day()
	default:
		return false
	}
}

// Actions converts batch actions to operations, preserving order.
func Actions(b intent.BatchConfirm) ([]domain.Operation, error) {
	ops := make([]domain.Operation, 0, len(b.Actions))
	for i, a := range b.Actions {
		switch a := a.(type) {
		case intent.Create:
			ops = append(ops, CreateOp(a.Draft()))
		case intent.CreateTask:
			ops = append(ops, TaskOp(a.Draft()))
		case intent.Update:
			ops = append(ops, UpdateOp(a.EventID, a.Patch))
		case intent.Delete:
			ops = append(ops, DeleteOp(domain.EventRef{ID: a.EventID, Title: a.Title}))
		default:
			return nil, fmt.Errorf("action %d: %s cannot be batched", i+1, a.Kind())
		}
	}
	return ops, nil
}

// ByTitle selects events whose title contains fragment, ignoring case.
func ByTitle(events []domain.EventRef, fragment string) []domain.Operation {
	needle := strings.ToLower(strings.TrimSpace(fragment))
	if needle == "" {
		return nil
	}
	var ops []domain.Operation
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), needle) {
			ops = append(ops, DeleteOp(ev))
		}
	}
	return ops
}

// Duplicates selects every event that repeats an earlier one with the same
// normalized title and start. The first of each group is kept.
func Duplicates(events []domain.EventRef) []domain.Operation {
	seen := make(map[string]struct{}, len(events))
	var ops []domain.Operation
	for _, ev := range events {
		key := normalizeTitle(ev.Title) + "|" + ev.Start.UTC().Format(time.RFC3339)
		if _, dup := seen[key]; dup {
			ops = append(ops, DeleteOp(ev))
			continue
		}
		seen[key] = struct{}{}
	}
	return ops
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func CreateOp(d domain.EventDraft) domain.Operation {
	return domain.Operation{
		Kind:        domain.OpCreateEvent,
		Event:       &d,
		Description: fmt.Sprintf("create %q at %s", d.Title, d.Start.Format("Mon 2006-01-02 15:04")),
	}
}

func TaskOp(t domain.TaskDraft) domain.Operation {
	desc := fmt.Sprintf("add task %q", t.Title)
	if t.Due != nil {
		desc += " due " + t.Due.Format("2006-01-02")
	}
	return domain.Operation{Kind: domain.OpCreateTask, Task: &t, Description: desc}
}

func UpdateOp(id string, p domain.EventPatch) domain.Operation {
	return domain.Operation{
		Kind:        domain.OpUpdateEvent,
		EventID:     id,
		Patch:       &p,
		Description: fmt.Sprintf("update event %s", id),
	}
}

func DeleteOp(ev domain.EventRef) domain.Operation {
	desc := fmt.Sprintf("delete event %s", ev.ID)
	if ev.Title != "" {
		desc = fmt.Sprintf("delete %q", ev.Title)
		if !ev.Start.IsZero() {
			desc += " at " + ev.Start.Format("Mon 2006-01-02 15:04")
		}
	}
	return domain.Operation{Kind: domain.OpDeleteEvent, EventID: ev.ID, Description: desc}
}
