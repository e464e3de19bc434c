// Package intent holds the closed set of request interpretations the engine
// acts on, and the parser that turns untrusted model output into one of them.
package intent

import (
	"time"

	"calbot/internal/domain"
)

type Kind string

const (
	KindCreate           Kind = "create"
	KindCreateRecurring  Kind = "create_recurring"
	KindUpdate           Kind = "update"
	KindDelete           Kind = "delete"
	KindQuery            Kind = "query"
	KindFindFreeSlots    Kind = "find_free_slots"
	KindBatchConfirm     Kind = "batch_confirm"
	KindDeleteByCriteria Kind = "delete_by_criteria"
	KindDeleteDuplicates Kind = "delete_duplicates"
	KindCreateTask       Kind = "create_task"
	KindClarify          Kind = "clarify"
)

// Intent is implemented only by the variant structs in this package.
type Intent interface {
	Kind() Kind
	Metadata() Meta
	isIntent()
}

type Meta struct {
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

func (m Meta) Metadata() Meta { return m }

type Create struct {
	Meta
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

func (Create) Kind() Kind { return KindCreate }
func (Create) isIntent()  {}

// Draft converts the intent into the store's event shape.
func (c Create) Draft() domain.EventDraft {
	return domain.EventDraft{
		Title:       c.Title,
		Start:       c.Start,
		End:         c.End,
		Location:    c.Location,
		Description: c.Description,
		Attendees:   c.Attendees,
	}
}

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

type CreateRecurring struct {
	Meta
	Title      string         `json:"title"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Location   string         `json:"location,omitempty"`
	Recurrence Frequency      `json:"recurrence"`
	Days       []time.Weekday `json:"days,omitempty"`
	Until      time.Time      `json:"until"`
}

func (CreateRecurring) Kind() Kind { return KindCreateRecurring }
func (CreateRecurring) isIntent()  {}

type Update struct {
	Meta
	EventID string            `json:"event_id"`
	Patch   domain.EventPatch `json:"patch"`
}

func (Update) Kind() Kind { return KindUpdate }
func (Update) isIntent()  {}

type Delete struct {
	Meta
	EventID string `json:"event_id"`
	// Title is copied from the matched event for confirmations and reports.
	Title string `json:"title,omitempty"`
}

func (Delete) Kind() Kind { return KindDelete }
func (Delete) isIntent()  {}

type Query struct {
	Meta
	Range domain.TimeRange `json:"range"`
}

func (Query) Kind() Kind { return KindQuery }
func (Query) isIntent()  {}

type FindFreeSlots struct {
	Meta
	Range    domain.TimeRange `json:"range"`
	Duration time.Duration    `json:"duration"`
}

func (FindFreeSlots) Kind() Kind { return KindFindFreeSlots }
func (FindFreeSlots) isIntent()  {}

// BatchConfirm carries an ordered list of Create, CreateTask, Update and
// Delete actions that execute only after confirmation.
type BatchConfirm struct {
	Meta
	Actions []Intent `json:"actions"`
	Summary string   `json:"summary"`
}

func (BatchConfirm) Kind() Kind { return KindBatchConfirm }
func (BatchConfirm) isIntent()  {}

type DeleteByCriteria struct {
	Meta
	TitleContains string `json:"title_contains"`
}

func (DeleteByCriteria) Kind() Kind { return KindDeleteByCriteria }
func (DeleteByCriteria) isIntent()  {}

type DeleteDuplicates struct {
	Meta
}

func (DeleteDuplicates) Kind() Kind { return KindDeleteDuplicates }
func (DeleteDuplicates) isIntent()  {}

type CreateTask struct {
	Meta
	Title string     `json:"title"`
	Due   *time.Time `json:"due,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

func (CreateTask) Kind() Kind { return KindCreateTask }
func (CreateTask) isIntent()  {}

func (c CreateTask) Draft() domain.TaskDraft {
	return domain.TaskDraft{Title: c.Title, Due: c.Due, Notes: c.Notes}
}

type Clarify struct {
	Meta
	Question string `json:"question"`
	// Reason is set when the clarification replaces a failed interpretation.
	Reason domain.ErrorKind `json:"reason,omitempty"`
}

func (Clarify) Kind() Kind { return KindClarify }
func (Clarify) isIntent()  {}

// NeedsConfirmation reports whether the intent must pass through a
// confirmation token before anything is written.
func NeedsConfirmation(in Intent) bool {
	switch in.(type) {
	case CreateRecurring, BatchConfirm, DeleteByCriteria, DeleteDuplicates:
		return true
	default:
		return false
	}
}
