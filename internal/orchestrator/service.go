// Package orchestrator runs a user message through schedule detection, the
// completion model and validation, then executes the resulting intent or
// gates it behind a confirmation token.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"calbot/internal/calendar"
	"calbot/internal/conversation"
	"calbot/internal/domain"
	"calbot/internal/execution"
	"calbot/internal/expand"
	"calbot/internal/intent"
	"calbot/internal/llm"
	"calbot/internal/logging"
	"calbot/internal/metrics"
	"calbot/internal/prompt"
	"calbot/internal/schedule"
)

const (
	sourceDetector = "detector"
	sourceModel    = "model"

	// Window of existing events shown to the model for update/delete requests.
	eventsLookBack  = 30 * 24 * time.Hour
	eventsLookAhead = 90 * 24 * time.Hour
)

var (
	ErrMissingUser     = errors.New("user id is required")
	ErrNotBatchable    = errors.New("intent does not need confirmation")
	ErrNothingToDo     = errors.New("batch has no operations")
	ErrUnknownDecision = errors.New("unknown decision action")
)

// Preferences supplies a user's stored timezone and language.
type Preferences interface {
	Preferences(ctx context.Context, userID string) (domain.UserPreferences, error)
}

type Config struct {
	LLMModel        string
	MaxTokens       int
	Temperature     float64
	MinConfidence   float64
	MaxOccurrences  int
	WorkingHours    calendar.WorkingHours
	DefaultTimezone string
	DefaultLanguage string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	cfg           Config
	defaultLoc    *time.Location
	llmProvider   llm.Provider
	parser        *intent.Parser
	store         calendar.Store
	executor      execution.Executor
	batches       *execution.Manager
	conversations *conversation.Store
	prefs         Preferences
	locks         *userLocks
	metrics       *metrics.Metrics
	logger        *slog.Logger

	zones sync.Map
}

// New wires the pipeline. prefs and m may be nil.
func New(cfg Config, llmProvider llm.Provider, store calendar.Store, batches *execution.Manager, conversations *conversation.Store, prefs Preferences, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WorkingHours == (calendar.WorkingHours{}) {
		cfg.WorkingHours = calendar.DefaultWorkingHours
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = expand.DefaultMaxOccurrences
	}
	cfg.DefaultLanguage = intent.BaseLanguage(cfg.DefaultLanguage)
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	defaultLoc := time.UTC
	if cfg.DefaultTimezone != "" {
		loc, err := time.LoadLocation(cfg.DefaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("default timezone: %w", err)
		}
		defaultLoc = loc
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		cfg:           cfg,
		defaultLoc:    defaultLoc,
		llmProvider:   llmProvider,
		parser:        intent.NewParser(cfg.MinConfidence),
		store:         store,
		executor:      execution.NewStoreExecutor(store),
		batches:       batches,
		conversations: conversations,
		prefs:         prefs,
		locks:         newUserLocks(),
		metrics:       m,
		logger:        logger,
	}, nil
}

type ExtractRequest struct {
	Text     string
	UserID   string
	Timezone string
	Language string
	// ExistingEvents are the only ids update and delete may refer to.
	ExistingEvents []domain.EventRef
	Conversation   *conversation.Exchange
}

// ExtractIntent interprets one message. It never fails: completion and
// validation problems come back as a Clarify whose Reason names the kind.
func (s *Service) ExtractIntent(ctx context.Context, req ExtractRequest) intent.Intent {
	loc := s.location(req.Timezone)
	lang := s.language(req.Language)
	now := s.cfg.Now().In(loc)
	log := s.logger.With(logging.UserHash(req.UserID))

	if b, ok := schedule.Detect(req.Text, now, loc, lang); ok {
		s.metrics.Intent(string(b.Kind()), sourceDetector)
		log.Debug("schedule detected", "events", len(b.Actions))
		return b
	}

	doc := prompt.Build(prompt.Input{
		Text:           req.Text,
		Now:            now,
		Location:       loc,
		Language:       lang,
		ExistingEvents: req.ExistingEvents,
		Previous:       req.Conversation,
	})
	raw, err := s.llmProvider.Complete(ctx, llm.Request{
		Model:       s.cfg.LLMModel,
		System:      doc.System,
		Prompt:      doc.User,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		kind := domain.KindOf(err)
		if kind == "" {
			kind = domain.KindLLM
		}
		log.Warn("completion failed", "kind", kind, logging.Err(err))
		c := intent.Clarify{
			Meta:     intent.Meta{Confidence: 1, Language: lang},
			Question: intent.UnavailableQuestion(lang),
			Reason:   kind,
		}
		s.metrics.Intent(string(c.Kind()), sourceModel)
		return c
	}

	in, err := s.parser.Parse(raw, intent.ParseContext{
		Now:            now,
		Location:       loc,
		Language:       lang,
		ExistingEvents: req.ExistingEvents,
	})
	if err != nil {
		log.Info("model output rejected", "kind", domain.KindOf(err), logging.Err(err))
	}
	s.metrics.Intent(string(in.Kind()), sourceModel)
	return in
}

// HandleMessage runs the whole flow for one message. Messages of the same
// user are handled one at a time.
func (s *Service) HandleMessage(ctx context.Context, msg domain.InboundMessage) (domain.Reply, error) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return domain.Reply{}, ErrMissingUser
	}
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.Reply{}, err
	}
	defer unlock()

	start := time.Now()
	tz, lang := s.settings(ctx, userID, msg.Timezone, msg.Language)
	loc := s.location(tz)
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.Reply{UserID: userID, Kind: domain.ReplyClarify, Text: intent.RephraseQuestion(lang)}, nil
	}

	req := ExtractRequest{Text: text, UserID: userID, Timezone: loc.String(), Language: lang}
	prev, pending := s.conversations.Get(userID)
	if pending {
		req.Conversation = &prev
	}
	if pending || prompt.MentionsExistingEvents(text) {
		req.ExistingEvents = s.upcomingEvents(ctx, userID, loc)
	}

	in := s.ExtractIntent(ctx, req)
	if l := in.Metadata().Language; l != "" {
		lang = l
	}

	if c, ok := in.(intent.Clarify); ok {
		// Only the latest exchange is kept; it replaces the previous one.
		s.conversations.Put(userID, conversation.Exchange{UserMessage: text, Question: c.Question, AskedAt: s.cfg.Now()})
		return domain.Reply{UserID: userID, Kind: domain.ReplyClarify, Text: c.Question, ErrorKind: c.Reason}, nil
	}
	s.conversations.Clear(userID)

	reply := s.act(ctx, userID, loc, lang, in)
	s.logger.Info("message handled",
		logging.UserHash(userID),
		"intent", in.Kind(),
		"reply", reply.Kind,
		"total_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

func (s *Service) act(ctx context.Context, userID string, loc *time.Location, lang string, in intent.Intent) domain.Reply {
	reply := domain.Reply{UserID: userID}
	switch v := in.(type) {
	case intent.Create:
		id, err := s.executor.Execute(ctx, userID, expand.CreateOp(v.Draft()))
		if err != nil {
			return s.failure(reply, lang, err)
		}
		reply.Kind, reply.ResultID = domain.ReplyCreated, id
		reply.Text = phrase(lang, msgCreated, v.Title, formatSpan(lang, v.Start.In(loc), v.End.In(loc)))
	case intent.CreateTask:
		id, err := s.executor.Execute(ctx, userID, expand.TaskOp(v.Draft()))
		if err != nil {
			return s.failure(reply, lang, err)
		}
		reply.Kind, reply.ResultID = domain.ReplyCreated, id
		reply.Text = phrase(lang, msgTaskCreated, v.Title)
	case intent.Update:
		id, err := s.executor.Execute(ctx, userID, expand.UpdateOp(v.EventID, v.Patch))
		if err != nil {
			return s.failure(reply, lang, err)
		}
		reply.Kind, reply.ResultID = domain.ReplyUpdated, id
		reply.Text = phrase(lang, msgUpdated)
	case intent.Delete:
		id, err := s.executor.Execute(ctx, userID, expand.DeleteOp(domain.EventRef{ID: v.EventID, Title: v.Title}))
		if err != nil {
			return s.failure(reply, lang, err)
		}
		reply.Kind, reply.ResultID = domain.ReplyDeleted, id
		reply.Text = phrase(lang, msgDeleted)
	case intent.Query:
		events, err := s.store.ListEvents(ctx, userID, v.Range)
		if err != nil {
			return s.failure(reply, lang, domain.NewError(domain.KindCalendar, "list events", err))
		}
		reply.Kind, reply.Events = domain.ReplyEvents, events
		reply.Text = renderEvents(lang, events, loc)
	case intent.FindFreeSlots:
		events, err := s.store.ListEvents(ctx, userID, v.Range)
		if err != nil {
			return s.failure(reply, lang, domain.NewError(domain.KindCalendar, "list events", err))
		}
		slots := calendar.FreeSlots(events, v.Range, v.Duration, s.cfg.WorkingHours, loc)
		reply.Kind, reply.Slots = domain.ReplyFreeSlots, slots
		reply.Text = renderSlots(lang, slots, v.Duration, loc)
	case intent.CreateRecurring, intent.BatchConfirm, intent.DeleteByCriteria, intent.DeleteDuplicates:
		token, summary, ops, err := s.prepare(userID, loc, lang, in)
		if errors.Is(err, ErrNothingToDo) {
			reply.Kind, reply.Report = domain.ReplyReport, &domain.ExecutionReport{}
			reply.Text = phrase(lang, msgNothingToDo)
			return reply
		}
		if err != nil {
			s.logger.Warn("prepare batch failed", logging.UserHash(userID), logging.Err(err))
			reply.Kind, reply.ErrorKind = domain.ReplyClarify, domain.KindLLMParse
			reply.Text = intent.RephraseQuestion(lang)
			return reply
		}
		reply.Kind, reply.Token = domain.ReplyConfirmation, token
		reply.Text = renderConfirmation(lang, summary, ops)
	case intent.Clarify:
		reply.Kind, reply.Text, reply.ErrorKind = domain.ReplyClarify, v.Question, v.Reason
	default:
		reply.Kind, reply.Text = domain.ReplyClarify, intent.RephraseQuestion(lang)
	}
	return reply
}

func (s *Service) failure(reply domain.Reply, lang string, err error) domain.Reply {
	s.logger.Warn("calendar operation failed", logging.UserHash(reply.UserID), logging.Err(err))
	reply.Kind = domain.ReplyError
	reply.ErrorKind = domain.KindOf(err)
	if reply.ErrorKind == "" {
		reply.ErrorKind = domain.KindCalendar
	}
	reply.Text = phrase(lang, msgCalendarError)
	return reply
}

// PrepareBatch expands a confirmation-gated intent and registers it under a
// new token, replacing the user's pending batch.
func (s *Service) PrepareBatch(ctx context.Context, userID string, loc *time.Location, in intent.Intent) (string, string, error) {
	if loc == nil {
		loc = s.defaultLoc
	}
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return "", "", err
	}
	defer unlock()

	lang := s.language(in.Metadata().Language)
	token, summary, _, err := s.prepare(userID, loc, lang, in)
	return token, summary, err
}

func (s *Service) prepare(userID string, loc *time.Location, lang string, in intent.Intent) (string, string, []domain.Operation, error) {
	var plan execution.Plan
	switch v := in.(type) {
	case intent.CreateRecurring:
		ops := expand.Recurring(v, s.cfg.Now(), loc, s.cfg.MaxOccurrences)
		plan = execution.Plan{Summary: phrase(lang, msgRecurring, len(ops), v.Title), Operations: ops}
	case intent.BatchConfirm:
		ops, err := expand.Actions(v)
		if err != nil {
			return "", "", nil, err
		}
		summary := strings.TrimSpace(v.Summary)
		if summary == "" {
			summary = phrase(lang, msgBatch, len(ops))
		}
		plan = execution.Plan{Summary: summary, Operations: ops}
	case intent.DeleteByCriteria:
		fragment := v.TitleContains
		plan = execution.Plan{
			Summary: phrase(lang, msgByCriteria, fragment),
			Resolve: func(ctx context.Context) ([]domain.Operation, error) {
				events, err := s.store.ListEvents(ctx, userID, s.criteriaWindow(loc))
				if err != nil {
					return nil, err
				}
				return expand.ByTitle(events, fragment), nil
			},
		}
	case intent.DeleteDuplicates:
		plan = execution.Plan{
			Summary: phrase(lang, msgDuplicates),
			Resolve: func(ctx context.Context) ([]domain.Operation, error) {
				events, err := s.store.ListEvents(ctx, userID, s.criteriaWindow(loc))
				if err != nil {
					return nil, err
				}
				return expand.Duplicates(events), nil
			},
		}
	default:
		return "", "", nil, fmt.Errorf("%w: %s", ErrNotBatchable, in.Kind())
	}
	if plan.Resolve == nil && len(plan.Operations) == 0 {
		return "", "", nil, ErrNothingToDo
	}

	token, summary := s.batches.Prepare(userID, plan)
	s.logger.Info("batch prepared",
		logging.UserHash(userID), logging.Token(token),
		"intent", in.Kind(), "operations", len(plan.Operations))
	return token, summary, plan.Operations, nil
}

// criteriaWindow is searched when deleting by criteria: today through one
// year ahead.
func (s *Service) criteriaWindow(loc *time.Location) domain.TimeRange {
	start := intent.StartOfDay(s.cfg.Now(), loc)
	return domain.TimeRange{Start: start, End: start.AddDate(1, 0, 0)}
}

// Confirm executes the user's batch once.
func (s *Service) Confirm(ctx context.Context, userID, token string) (domain.ExecutionReport, error) {
	if err := s.checkOwner(userID, token); err != nil {
		return domain.ExecutionReport{}, err
	}
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return domain.ExecutionReport{}, err
	}
	defer unlock()
	return s.batches.Confirm(ctx, token)
}

// Cancel does not take the user's lock so it can stop a running batch.
func (s *Service) Cancel(_ context.Context, userID, token string) error {
	if err := s.checkOwner(userID, token); err != nil {
		return err
	}
	return s.batches.Cancel(token)
}

func (s *Service) checkOwner(userID, token string) error {
	info, ok := s.batches.Lookup(token)
	if !ok {
		return execution.ErrTokenNotFound
	}
	if info.UserID != userID {
		return execution.ErrTokenOwner
	}
	return nil
}

// HandleDecision applies a confirm or cancel and renders the outcome. An
// empty token refers to the user's pending batch.
// Expired and finished tokens produce a reply, not an error.
func (s *Service) HandleDecision(ctx context.Context, userID string, d domain.Decision) (domain.Reply, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Reply{}, ErrMissingUser
	}
	if d.Action != domain.DecisionConfirm && d.Action != domain.DecisionCancel {
		return domain.Reply{}, fmt.Errorf("%w: %q", ErrUnknownDecision, d.Action)
	}
	_, lang := s.settings(ctx, userID, "", "")
	if d.Token == "" {
		// A bare yes/no applies to the user's pending batch.
		token, ok := s.batches.PendingToken(userID)
		if !ok {
			return domain.Reply{UserID: userID, Kind: domain.ReplyError, Text: phrase(lang, msgNoPending)}, nil
		}
		d.Token = token
	}
	reply := domain.Reply{UserID: userID, Token: d.Token}

	var err error
	switch d.Action {
	case domain.DecisionConfirm:
		var report domain.ExecutionReport
		report, err = s.Confirm(ctx, userID, d.Token)
		switch {
		case err == nil:
			reply.Kind, reply.Report = domain.ReplyReport, &report
			reply.Text = renderReport(lang, report)
			return reply, nil
		case errors.Is(err, execution.ErrAlreadyCompleted):
			reply.Kind, reply.Report = domain.ReplyReport, &report
			reply.Text = phrase(lang, msgAlreadyExecuted)
			return reply, nil
		}
	case domain.DecisionCancel:
		err = s.Cancel(ctx, userID, d.Token)
		switch {
		case err == nil:
			reply.Kind, reply.Text = domain.ReplyCancelled, phrase(lang, msgCancelled)
			return reply, nil
		case errors.Is(err, execution.ErrAlreadyCompleted):
			reply.Kind, reply.Text = domain.ReplyError, phrase(lang, msgAlreadyExecuted)
			return reply, nil
		}
	default:
		return domain.Reply{}, fmt.Errorf("%w: %q", ErrUnknownDecision, d.Action)
	}

	switch {
	case errors.Is(err, execution.ErrTokenNotFound):
		reply.Kind, reply.Text = domain.ReplyError, phrase(lang, msgTokenExpired)
	case errors.Is(err, execution.ErrTokenCancelled):
		reply.Kind, reply.Text = domain.ReplyCancelled, phrase(lang, msgCancelled)
	case errors.Is(err, execution.ErrTokenInFlight):
		reply.Kind, reply.Text = domain.ReplyError, phrase(lang, msgAlreadyExecuted)
	case domain.KindOf(err) == domain.KindCalendar:
		return s.failure(reply, lang, err), nil
	default:
		return domain.Reply{}, err
	}
	return reply, nil
}

// settings resolves timezone and language: the message first, then stored
// preferences, then configured defaults.
func (s *Service) settings(ctx context.Context, userID, tz, lang string) (string, string) {
	if (tz == "" || lang == "") && s.prefs != nil {
		p, err := s.prefs.Preferences(ctx, userID)
		if err != nil {
			s.logger.Debug("preferences unavailable", logging.UserHash(userID), logging.Err(err))
		} else {
			if tz == "" {
				tz = p.Timezone
			}
			if lang == "" {
				lang = p.Language
			}
		}
	}
	return tz, s.language(lang)
}

func (s *Service) location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return s.defaultLoc
	}
	if loc, ok := s.zones.Load(tz); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.logger.Warn("unknown timezone, using default", "timezone", tz, logging.Err(err))
		return s.defaultLoc
	}
	s.zones.Store(tz, loc)
	return loc
}

func (s *Service) language(lang string) string {
	if lang = intent.BaseLanguage(lang); lang != "" {
		return lang
	}
	return s.cfg.DefaultLanguage
}

func (s *Service) upcomingEvents(ctx context.Context, userID string, loc *time.Location) []domain.EventRef {
	today := intent.StartOfDay(s.cfg.Now(), loc)
	r := domain.TimeRange{Start: today.Add(-eventsLookBack), End: today.Add(eventsLookAhead)}
	events, err := s.store.ListEvents(ctx, userID, r)
	if err != nil {
		s.logger.Warn("list events for prompt failed", logging.UserHash(userID), logging.Err(err))
		return nil
	}
	return events
}
