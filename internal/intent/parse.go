package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"calbot/internal/domain"
)

const (
	DefaultEventDuration = 60 * time.Minute
	DefaultSlotDuration  = 30 * time.Minute
	DefaultMinConfidence = 0.5
)

var (
	errNoObject  = errors.New("no JSON object in output")
	errTruncated = errors.New("JSON object is not terminated")
)

// ParseContext is what the validator checks model output against.
type ParseContext struct {
	Now            time.Time
	Location       *time.Location
	Language       string
	ExistingEvents []domain.EventRef
}

func (pc ParseContext) normalized() ParseContext {
	if pc.Location == nil {
		pc.Location = time.UTC
	}
	if pc.Now.IsZero() {
		pc.Now = time.Now()
	}
	pc.Now = pc.Now.In(pc.Location)
	pc.Language = BaseLanguage(pc.Language)
	if pc.Language == "" {
		pc.Language = "en"
	}
	return pc
}

func (pc ParseContext) event(id string) (domain.EventRef, bool) {
	for _, ev := range pc.ExistingEvents {
		if ev.ID == id {
			return ev, true
		}
	}
	return domain.EventRef{}, false
}

type Parser struct {
	minConfidence float64
}

func NewParser(minConfidence float64) *Parser {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Parser{minConfidence: minConfidence}
}

type wireChanges struct {
	Title    string `json:"title"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
}

type wireIntent struct {
	Intent          string       `json:"intent"`
	Confidence      *float64     `json:"confidence"`
	Language        string       `json:"language"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Location        string       `json:"location"`
	Attendees       []string     `json:"attendees"`
	Start           string       `json:"start"`
	End             string       `json:"end"`
	Due             string       `json:"due"`
	Notes           string       `json:"notes"`
	Recurrence      string       `json:"recurrence"`
	Days            []string     `json:"days"`
	Until           string       `json:"until"`
	EventID         string       `json:"event_id"`
	Changes         *wireChanges `json:"changes"`
	RangeStart      string       `json:"range_start"`
	RangeEnd        string       `json:"range_end"`
	DurationMinutes int          `json:"duration_minutes"`
	Actions         []wireIntent `json:"actions"`
	Summary         string       `json:"summary"`
	TitleContains   string       `json:"title_contains"`
	Question        string       `json:"question"`
}

// Parse turns raw model output into an Intent. It never returns nil: any
// failure yields a Clarify asking the user to rephrase, together with an
// error of kind LLM_PARSE_ERROR or INTENT_UNCLEAR for observability.
func (p *Parser) Parse(raw string, pc ParseContext) (Intent, error) {
	pc = pc.normalized()

	var w wireIntent
	if err := decode(raw, &w); err != nil {
		return p.rephrase(pc, domain.KindLLMParse), domain.NewError(domain.KindLLMParse, "decode", err)
	}
	if w.Language != "" {
		pc.Language = BaseLanguage(w.Language)
	}

	in, err := p.build(w, pc, false)
	if err != nil {
		return p.rephrase(pc, domain.KindLLMParse), domain.NewError(domain.KindLLMParse, "validate", err)
	}
	if _, ok := in.(Clarify); ok {
		return in, nil
	}

	if conf := in.Metadata().Confidence; conf < p.minConfidence {
		c := p.rephrase(pc, domain.KindIntentUnclear)
		if q := strings.TrimSpace(w.Question); q != "" {
			c.Question = q
		}
		return c, domain.NewError(domain.KindIntentUnclear, "confidence",
			fmt.Errorf("%s at %.2f below %.2f", in.Kind(), conf, p.minConfidence))
	}
	return in, nil
}

func (p *Parser) rephrase(pc ParseContext, reason domain.ErrorKind) Clarify {
	return Clarify{
		Meta:     Meta{Confidence: 1, Language: pc.Language},
		Question: RephraseQuestion(pc.Language),
		Reason:   reason,
	}
}

// decode isolates the outermost JSON object in raw. Objects that are
// balanced but malformed get one repair attempt; unterminated ones do not,
// since repairing a cut-off payload would invent its missing tail.
func decode(raw string, w *wireIntent) error {
	obj, err := extractObject(raw)
	if err != nil {
		return err
	}
	err = json.Unmarshal([]byte(obj), w)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(obj)
	if repairErr != nil {
		return err
	}
	*w = wireIntent{}
	if err2 := json.Unmarshal([]byte(repaired), w); err2 != nil {
		return err
	}
	return nil
}

func extractObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", errNoObject
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", errTruncated
}

func (p *Parser) build(w wireIntent, pc ParseContext, nested bool) (Intent, error) {
	meta := Meta{Confidence: confidence(w.Confidence), Language: pc.Language}
	kind := Kind(strings.ToLower(strings.TrimSpace(w.Intent)))

	if nested {
		switch kind {
		case KindCreate, KindCreateTask, KindUpdate, KindDelete:
		default:
			return nil, fmt.Errorf("batch action %q is not allowed", w.Intent)
		}
	}

	switch kind {
	case KindCreate:
		return buildCreate(w, pc, meta)
	case KindCreateTask:
		return buildTask(w, pc, meta)
	case KindCreateRecurring:
		return buildRecurring(w, pc, meta)
	case KindUpdate:
		return buildUpdate(w, pc, meta)
	case KindDelete:
		ev, ok := pc.event(strings.TrimSpace(w.EventID))
		if !ok {
			return nil, fmt.Errorf("delete references unknown event %q", w.EventID)
		}
		return Delete{Meta: meta, EventID: ev.ID, Title: ev.Title}, nil
	case KindQuery:
		r, err := buildRange(w, pc)
		if err != nil {
			return nil, err
		}
		return Query{Meta: meta, Range: r}, nil
	case KindFindFreeSlots:
		r, err := buildRange(w, pc)
		if err != nil {
			return nil, err
		}
		d := time.Duration(w.DurationMinutes) * time.Minute
		if d <= 0 {
			d = DefaultSlotDuration
		}
		return FindFreeSlots{Meta: meta, Range: r, Duration: d}, nil
	case KindBatchConfirm:
		if len(w.Actions) == 0 {
			return nil, errors.New("batch without actions")
		}
		actions := make([]Intent, 0, len(w.Actions))
		for i, a := range w.Actions {
			if a.Confidence == nil {
				a.Confidence = w.Confidence
			}
			in, err := p.build(a, pc, true)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i+1, err)
			}
			actions = append(actions, in)
		}
		return BatchConfirm{Meta: meta, Actions: actions, Summary: strings.TrimSpace(w.Summary)}, nil
	case KindDeleteByCriteria:
		fragment := strings.TrimSpace(w.TitleContains)
		if fragment == "" {
			return nil, errors.New("delete_by_criteria without title_contains")
		}
		return DeleteByCriteria{Meta: meta, TitleContains: fragment}, nil
	case KindDeleteDuplicates:
		return DeleteDuplicates{Meta: meta}, nil
	case KindClarify:
		q := strings.TrimSpace(w.Question)
		if q == "" {
			q = RephraseQuestion(pc.Language)
		}
		return Clarify{Meta: meta, Question: q}, nil
	default:
		return nil, fmt.Errorf("unknown intent %q", w.Intent)
	}
}

func confidence(c *float64) float64 {
	if c == nil {
		return 1
	}
	return min(max(*c, 0), 1)
}

func buildCreate(w wireIntent, pc ParseContext, meta Meta) (Intent, error) {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return nil, errors.New("create without title")
	}
	if strings.TrimSpace(w.Start) == "" {
		return nil, errors.New("create without start")
	}
	start, dateOnly, err := parseDateOrDateTime(w.Start, pc.Location)
	if err != nil {
		return nil, err
	}
	// A date without a clock time is a task, not an event.
	if dateOnly {
		return CreateTask{Meta: meta, Title: title, Due: &start, Notes: strings.TrimSpace(w.Description)}, nil
	}
	end, err := endOrDefault(w.End, start, pc.Location)
	if err != nil {
		return nil, err
	}
	return Create{
		Meta:        meta,
		Title:       title,
		Start:       start,
		End:         end,
		Location:    strings.TrimSpace(w.Location),
		Description: strings.TrimSpace(w.Description),
		Attendees:   w.Attendees,
	}, nil
}

func buildTask(w wireIntent, pc ParseContext, meta Meta) (Intent, error) {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return nil, errors.New("create_task without title")
	}
	task := CreateTask{Meta: meta, Title: title, Notes: strings.TrimSpace(w.Notes)}
	if strings.TrimSpace(w.Due) != "" {
		due, _, err := parseDateOrDateTime(w.Due, pc.Location)
		if err != nil {
			return nil, err
		}
		task.Due = &due
	}
	return task, nil
}

func buildRecurring(w wireIntent, pc ParseContext, meta Meta) (Intent, error) {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return nil, errors.New("create_recurring without title")
	}
	start, err := ParseDateTime(w.Start, pc.Location)
	if err != nil {
		return nil, fmt.Errorf("create_recurring start: %w", err)
	}
	end, err := endOrDefault(w.End, start, pc.Location)
	if err != nil {
		return nil, err
	}

	freq := Frequency(strings.ToLower(strings.TrimSpace(w.Recurrence)))
	switch freq {
	case Daily, Weekly, Monthly:
	default:
		return nil, fmt.Errorf("unsupported recurrence %q", w.Recurrence)
	}

	var days []time.Weekday
	for _, name := range w.Days {
		d, ok := ParseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	slices.Sort(days)
	if freq == Weekly && len(days) == 0 {
		return nil, errors.New("weekly recurrence without days")
	}

	until := EndOfYear(pc.Now, pc.Location)
	if strings.TrimSpace(w.Until) != "" {
		u, dateOnly, err := parseDateOrDateTime(w.Until, pc.Location)
		if err != nil {
			return nil, fmt.Errorf("create_recurring until: %w", err)
		}
		if dateOnly {
			u = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, pc.Location)
		}
		until = u
	}
	if until.Before(start) {
		return nil, errors.New("recurrence ends before it starts")
	}

	return CreateRecurring{
		Meta:       meta,
		Title:      title,
		Start:      start,
		End:        end,
		Location:   strings.TrimSpace(w.Location),
		Recurrence: freq,
		Days:       days,
		Until:      until,
	}, nil
}

func buildUpdate(w wireIntent, pc ParseContext, meta Meta) (Intent, error) {
	ev, ok := pc.event(strings.TrimSpace(w.EventID))
	if !ok {
		return nil, fmt.Errorf("update references unknown event %q", w.EventID)
	}
	ch := w.Changes
	if ch == nil {
		ch = &wireChanges{Title: w.Title, Start: w.Start, End: w.End, Location: w.Location}
	}

	var patch domain.EventPatch
	if t := strings.TrimSpace(ch.Title); t != "" {
		patch.Title = &t
	}
	if l := strings.TrimSpace(ch.Location); l != "" {
		patch.Location = &l
	}
	if strings.TrimSpace(ch.Start) != "" {
		s, err := ParseDateTime(ch.Start, pc.Location)
		if err != nil {
			return nil, fmt.Errorf("update start: %w", err)
		}
		patch.Start = &s
	}
	if strings.TrimSpace(ch.End) != "" {
		e, err := ParseDateTime(ch.End, pc.Location)
		if err != nil {
			return nil, fmt.Errorf("update end: %w", err)
		}
		patch.End = &e
	}
	if patch.Empty() {
		return nil, errors.New("update without changes")
	}

	// Moving an event keeps its length unless a new end is given.
	if patch.Start != nil && patch.End == nil {
		length := ev.End.Sub(ev.Start)
		if length <= 0 {
			length = DefaultEventDuration
		}
		e := patch.Start.Add(length)
		patch.End = &e
	}
	after := patch.Apply(ev)
	if !after.End.After(after.Start) {
		e := after.Start.Add(DefaultEventDuration)
		patch.End = &e
	}
	return Update{Meta: meta, EventID: ev.ID, Patch: patch}, nil
}

func buildRange(w wireIntent, pc ParseContext) (domain.TimeRange, error) {
	start := StartOfDay(pc.Now, pc.Location)
	if strings.TrimSpace(w.RangeStart) != "" {
		s, _, err := parseDateOrDateTime(w.RangeStart, pc.Location)
		if err != nil {
			return domain.TimeRange{}, fmt.Errorf("range_start: %w", err)
		}
		start = s
	}
	end := StartOfDay(start, pc.Location).AddDate(0, 0, 1)
	if strings.TrimSpace(w.RangeEnd) != "" {
		e, dateOnly, err := parseDateOrDateTime(w.RangeEnd, pc.Location)
		if err != nil {
			return domain.TimeRange{}, fmt.Errorf("range_end: %w", err)
		}
		if dateOnly {
			e = e.AddDate(0, 0, 1)
		}
		end = e
	}
	if end.Before(start) {
		return domain.TimeRange{}, errors.New("range ends before it starts")
	}
	return domain.TimeRange{Start: start, End: end}, nil
}

func endOrDefault(raw string, start time.Time, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return start.Add(DefaultEventDuration), nil
	}
	end, err := ParseDateTime(raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return start.Add(DefaultEventDuration), nil
	}
	return end, nil
}
