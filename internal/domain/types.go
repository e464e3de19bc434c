package domain

import "time"

type EventRef struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

type EventDraft struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// EventPatch holds the fields an update changes; nil fields are left alone.
type EventPatch struct {
	Title    *string    `json:"title,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Location *string    `json:"location,omitempty"`
}

func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Start == nil && p.End == nil && p.Location == nil
}

// Apply returns ev with the patch fields written over it.
func (p EventPatch) Apply(ev EventRef) EventRef {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	return ev
}

type TaskDraft struct {
	Title string     `json:"title"`
	Due   *time.Time `json:"due,omitempty"`
	Notes string     `json:"notes,omitempty"`
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

type UserPreferences struct {
	Timezone string `json:"timezone"`
	Language string `json:"language"`
}

type OpKind string

const (
	OpCreateEvent OpKind = "create_event"
	OpCreateTask  OpKind = "create_task"
	OpUpdateEvent OpKind = "update_event"
	OpDeleteEvent OpKind = "delete_event"
)

// Operation is one calendar write inside a prepared batch.
type Operation struct {
	Kind        OpKind      `json:"kind"`
	EventID     string      `json:"event_id,omitempty"`
	Event       *EventDraft `json:"event,omitempty"`
	Patch       *EventPatch `json:"patch,omitempty"`
	Task        *TaskDraft  `json:"task,omitempty"`
	Description string      `json:"description"`
}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

type OperationOutcome struct {
	Operation Operation     `json:"operation"`
	Status    OutcomeStatus `json:"status"`
	ResultID  string        `json:"result_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type ExecutionReport struct {
	Token     string             `json:"token"`
	Entries   []OperationOutcome `json:"entries"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

func (r *ExecutionReport) RecordSuccess(op Operation, resultID string) {
	r.Entries = append(r.Entries, OperationOutcome{Operation: op, Status: OutcomeSucceeded, ResultID: resultID})
	r.Succeeded++
}

func (r *ExecutionReport) RecordFailure(op Operation, reason string) {
	r.Entries = append(r.Entries, OperationOutcome{Operation: op, Status: OutcomeFailed, Reason: reason})
	r.Failed++
}

// Transport payloads

type InboundMessage struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Timezone string `json:"timezone,omitempty"`
	Language string `json:"language,omitempty"`
}

type ReplyKind string

const (
	ReplyCreated      ReplyKind = "created"
	ReplyUpdated      ReplyKind = "updated"
	ReplyDeleted      ReplyKind = "deleted"
	ReplyEvents       ReplyKind = "events"
	ReplyFreeSlots    ReplyKind = "free_slots"
	ReplyConfirmation ReplyKind = "confirmation"
	ReplyReport       ReplyKind = "report"
	ReplyCancelled    ReplyKind = "cancelled"
	ReplyClarify      ReplyKind = "clarify"
	ReplyError        ReplyKind = "error"
)

type Reply struct {
	UserID    string           `json:"user_id"`
	Kind      ReplyKind        `json:"kind"`
	Text      string           `json:"text"`
	Token     string           `json:"token,omitempty"`
	ResultID  string           `json:"result_id,omitempty"`
	Events    []EventRef       `json:"events,omitempty"`
	Slots     []TimeRange      `json:"slots,omitempty"`
	Report    *ExecutionReport `json:"report,omitempty"`
	ErrorKind ErrorKind        `json:"error_kind,omitempty"`
}

type DecisionAction string

const (
	DecisionConfirm DecisionAction = "confirm"
	DecisionCancel  DecisionAction = "cancel"
)

type Decision struct {
	Token  string         `json:"token"`
	Action DecisionAction `json:"action"`
}
