// Package prompt renders the completion request for one user message.
package prompt

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"calbot/internal/conversation"
	"calbot/internal/domain"
	"calbot/internal/intent"
)

// MaxListedEvents caps the existing-events section.
const MaxListedEvents = 50

type Input struct {
	Text     string
	Now      time.Time
	Location *time.Location
	Language string
	// ExistingEvents are listed only when non-empty.
	ExistingEvents []domain.EventRef
	Previous       *conversation.Exchange
}

type Document struct {
	System string
	User   string
}

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
}

const systemTemplate = `You turn calendar requests into exactly one JSON object. Reply with the JSON object only.

Intents and their fields:
- create: title, start, end (optional), location, description, attendees
- create_recurring: title, start, end, recurrence ("daily", "weekly" or "monthly"), days (weekly only, e.g. ["mon","thu"]), until (optional)
- update: event_id, changes {title, start, end, location}
- delete: event_id
- query: range_start, range_end
- find_free_slots: range_start, range_end, duration_minutes
- batch_confirm: actions (list of create, create_task, update or delete objects), summary
- delete_by_criteria: title_contains
- delete_duplicates
- create_task: title, due (optional), notes
- clarify: question
Every object has "intent" and "confidence" (0 to 1).

Rules:
- A request with a clock time is an event. A request without a clock time is a task (create_task), even when it names a day.
- Write timestamps as "YYYY-MM-DDTHH:MM" in the user's local time and dates as "YYYY-MM-DD". Use the date table, never compute dates yourself.
- event_id must be copied from the existing events list. Never invent one. If nothing matches, use clarify.
- Several independent actions in one message become one batch_confirm.
- Repeating events ("every Monday", "daily until Friday") are create_recurring.
- "Delete all X" is delete_by_criteria. "Remove duplicates" is delete_duplicates.
- When the request is ambiguous, use clarify and write the question in %s.`

// Build renders the prompt. Identical inputs produce identical documents.
func Build(in Input) Document {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)
	lang := intent.BaseLanguage(in.Language)
	langName, ok := languageNames[lang]
	if !ok {
		langName = "English"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Now: %s %s (%s, UTC%s)\n", now.Format("2006-01-02 15:04"), now.Weekday(), loc.String(), now.Format("-07:00"))

	b.WriteString("\nDate table:\n")
	for _, e := range DateTable(now, loc) {
		fmt.Fprintf(&b, "%s: %s (%s)\n", e.Label, e.Date.Format("2006-01-02"), e.Date.Weekday())
	}

	if len(in.ExistingEvents) > 0 {
		b.WriteString("\nExisting events (id | title | time):\n")
		for _, ev := range sortedEvents(in.ExistingEvents) {
			fmt.Fprintf(&b, "%s | %s | %s\n", ev.ID, ev.Title, formatSpan(ev.Start.In(loc), ev.End.In(loc)))
		}
	}

	if in.Previous != nil {
		b.WriteString("\nThis message answers your earlier question.\n")
		fmt.Fprintf(&b, "Earlier request: %s\n", in.Previous.UserMessage)
		fmt.Fprintf(&b, "Your question: %s\n", in.Previous.Question)
	}

	fmt.Fprintf(&b, "\nRequest: %s\n", strings.TrimSpace(in.Text))

	return Document{
		System: fmt.Sprintf(systemTemplate, langName),
		User:   b.String(),
	}
}

func sortedEvents(events []domain.EventRef) []domain.EventRef {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b domain.EventRef) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(out) > MaxListedEvents {
		out = out[:MaxListedEvents]
	}
	return out
}

func formatSpan(start, end time.Time) string {
	if start.Year() == end.Year() && start.YearDay() == end.YearDay() {
		return start.Format("2006-01-02 15:04") + "-" + end.Format("15:04")
	}
	return start.Format("2006-01-02 15:04") + " - " + end.Format("2006-01-02 15:04")
}

var modificationMarkers = []string{
	"move", "reschedule", "postpone", "shift", "cancel", "delete", "remove", "drop",
	"rename", "change", "update", "instead", "duplicate", "clear",
	"перенес", "перенос", "отмен", "удал", "убер", "измен", "переимен", "сдвин", "вместо", "дубл", "очист",
}

// MentionsExistingEvents guesses whether text refers to events already in
// the calendar, in which case they are listed in the prompt.
func MentionsExistingEvents(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range modificationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
