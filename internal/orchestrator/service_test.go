package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/calendar"
	"calbot/internal/conversation"
	"calbot/internal/domain"
	"calbot/internal/execution"
	"calbot/internal/intent"
	"calbot/internal/llm"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	out := p.replies[0]
	p.replies = p.replies[1:]
	return out, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return ""
	}
	return p.requests[len(p.requests)-1].Prompt
}

type staticPreferences map[string]domain.UserPreferences

func (s staticPreferences) Preferences(_ context.Context, userID string) (domain.UserPreferences, error) {
	p, ok := s[userID]
	if !ok {
		return domain.UserPreferences{}, errors.New("not found")
	}
	return p, nil
}

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	return loc
}

type fixture struct {
	svc      *Service
	store    *calendar.MemoryStore
	provider *scriptedProvider
	loc      *time.Location
	now      time.Time
}

func newFixture(t *testing.T, prefs Preferences, replies ...string) *fixture {
	t.Helper()
	loc := moscow(t)
	now := time.Date(2025, 11, 24, 10, 0, 0, 0, loc)
	store := calendar.NewMemoryStore()
	provider := &scriptedProvider{replies: replies}
	batches := execution.NewManager(execution.NewStoreExecutor(store), execution.Options{}, nil)
	svc, err := New(Config{
		DefaultTimezone: "Europe/Moscow",
		DefaultLanguage: "en",
		Now:             func() time.Time { return now },
	}, provider, store, batches, conversation.NewStore(100, time.Hour), prefs, nil, nil)
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, provider: provider, loc: loc, now: now}
}

func (f *fixture) send(t *testing.T, text string) domain.Reply {
	t.Helper()
	reply, err := f.svc.HandleMessage(context.Background(), domain.InboundMessage{UserID: "u1", Text: text})
	require.NoError(t, err)
	return reply
}

func (f *fixture) seed(t *testing.T, title string, start time.Time, length time.Duration) string {
	t.Helper()
	id, err := f.store.CreateEvent(context.Background(), "u1", domain.EventDraft{Title: title, Start: start, End: start.Add(length)})
	require.NoError(t, err)
	return id
}

func TestCreateThenQueryRoundTrip(t *testing.T) {
	f := newFixture(t, nil,
		`{"intent":"create","title":"Team sync","start":"2025-11-25T15:00","confidence":0.95}`,
		`{"intent":"query","range_start":"2025-11-25","range_end":"2025-11-25","confidence":0.9}`,
	)

	created := f.send(t, "tomorrow at 3pm team sync")
	require.Equal(t, domain.ReplyCreated, created.Kind)
	assert.NotEmpty(t, created.ResultID)
	assert.Contains(t, created.Text, "Team sync")

	listed := f.send(t, "what do I have tomorrow?")
	require.Equal(t, domain.ReplyEvents, listed.Kind)
	require.Len(t, listed.Events, 1)
	ev := listed.Events[0]
	assert.Equal(t, created.ResultID, ev.ID)
	assert.Equal(t, "2025-11-25T15:00:00+03:00", ev.Start.In(f.loc).Format(time.RFC3339))
	assert.Equal(t, "2025-11-25T16:00:00+03:00", ev.End.In(f.loc).Format(time.RFC3339))
}

func TestPromptCarriesDateTable(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"create_task","title":"call mom","confidence":0.9}`)

	reply := f.send(t, "call mom")
	require.Equal(t, domain.ReplyCreated, reply.Kind)
	assert.Contains(t, f.provider.lastPrompt(), "tomorrow: 2025-11-25")

	tasks := f.store.Tasks("u1")
	require.Len(t, tasks, 1)
	for _, task := range tasks {
		assert.Equal(t, "call mom", task.Title)
		assert.Nil(t, task.Due)
	}
}

func TestScheduleBypassesModel(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.send(t, "2025-11-25\n09:00-10:00 Standup\n14:00-15:30 Review")
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)
	require.NotEmpty(t, reply.Token)
	assert.Zero(t, f.provider.calls())

	done, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Token: reply.Token, Action: domain.DecisionConfirm})
	require.NoError(t, err)
	require.Equal(t, domain.ReplyReport, done.Kind)
	assert.Equal(t, 2, done.Report.Succeeded)

	day := time.Date(2025, 11, 25, 0, 0, 0, 0, f.loc)
	events, err := f.store.ListEvents(context.Background(), "u1", domain.TimeRange{Start: day, End: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClarifyKeepsConversationUntilResolved(t *testing.T) {
	f := newFixture(t, nil,
		`{"intent":"clarify","question":"What time should the meeting start?","confidence":0.9}`,
		`{"intent":"create","title":"Meeting","start":"2025-11-25T11:00","confidence":0.9}`,
	)

	q := f.send(t, "set up a meeting tomorrow")
	require.Equal(t, domain.ReplyClarify, q.Kind)
	assert.Equal(t, "What time should the meeting start?", q.Text)
	assert.Equal(t, 1, f.svc.conversations.Len())

	done := f.send(t, "at 11")
	require.Equal(t, domain.ReplyCreated, done.Kind)
	assert.Contains(t, f.provider.lastPrompt(), "Earlier request: set up a meeting tomorrow")
	assert.Contains(t, f.provider.lastPrompt(), "Your question: What time should the meeting start?")
	assert.Zero(t, f.svc.conversations.Len())
}

func TestRepeatedClarifyKeepsOnlyLatestExchange(t *testing.T) {
	clarify := func(q string) string {
		return `{"intent":"clarify","question":"` + q + `","confidence":0.9}`
	}
	f := newFixture(t, nil, clarify("Which day?"), clarify("Which time?"), clarify("How long?"), clarify("What title?"))

	for _, text := range []string{"first message", "second", "third", "fourth"} {
		reply := f.send(t, text)
		require.Equal(t, domain.ReplyClarify, reply.Kind)
	}

	prompt := f.provider.lastPrompt()
	assert.Contains(t, prompt, "Earlier request: third\n")
	assert.Contains(t, prompt, "Your question: How long?")
	assert.NotContains(t, prompt, "first message")
	assert.NotContains(t, prompt, "second")

	ex, ok := f.svc.conversations.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "fourth", ex.UserMessage)
	assert.Equal(t, "What title?", ex.Question)
	assert.Equal(t, 1, f.svc.conversations.Len())
}

func TestCompletionFailureBecomesClarify(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.err = domain.NewError(domain.KindLLMTimeout, "complete", context.DeadlineExceeded)

	reply := f.send(t, "lunch with Anna on Friday at 1pm")
	assert.Equal(t, domain.ReplyClarify, reply.Kind)
	assert.Equal(t, domain.KindLLMTimeout, reply.ErrorKind)
	assert.Equal(t, intent.UnavailableQuestion("en"), reply.Text)
}

func TestTruncatedOutputBecomesClarify(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"create","title":"Team sync","start":"2025-11-25T15`)

	reply := f.send(t, "tomorrow at 3pm team sync")
	assert.Equal(t, domain.ReplyClarify, reply.Kind)
	assert.Equal(t, domain.KindLLMParse, reply.ErrorKind)
	assert.NotEmpty(t, reply.Text)
}

func TestUpdateListsExistingEvents(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed(t, "Standup", time.Date(2025, 11, 25, 9, 0, 0, 0, f.loc), 30*time.Minute)
	f.provider.replies = []string{`{"intent":"update","event_id":"` + id + `","changes":{"start":"2025-11-25T11:00"},"confidence":0.9}`}

	reply := f.send(t, "move the standup to 11")
	require.Equal(t, domain.ReplyUpdated, reply.Kind)
	assert.Contains(t, f.provider.lastPrompt(), id+" | Standup")

	day := time.Date(2025, 11, 25, 0, 0, 0, 0, f.loc)
	events, err := f.store.ListEvents(context.Background(), "u1", domain.TimeRange{Start: day, End: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2025, 11, 25, 11, 0, 0, 0, f.loc), events[0].Start.In(f.loc))
	assert.Equal(t, 30*time.Minute, events[0].End.Sub(events[0].Start))
}

func TestInventedEventIDIsRejected(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"delete","event_id":"made-up","confidence":0.9}`)

	reply := f.send(t, "delete the dentist")
	assert.Equal(t, domain.ReplyClarify, reply.Kind)
	assert.Equal(t, domain.KindLLMParse, reply.ErrorKind)
}

func TestFreeSlots(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"find_free_slots","range_start":"2025-11-25","range_end":"2025-11-25","duration_minutes":60,"confidence":0.9}`)
	f.seed(t, "Review", time.Date(2025, 11, 25, 10, 0, 0, 0, f.loc), time.Hour)

	reply := f.send(t, "when am I free for an hour tomorrow?")
	require.Equal(t, domain.ReplyFreeSlots, reply.Kind)
	require.Len(t, reply.Slots, 2)
	assert.Equal(t, time.Date(2025, 11, 25, 9, 0, 0, 0, f.loc), reply.Slots[0].Start.In(f.loc))
	assert.Equal(t, time.Date(2025, 11, 25, 11, 0, 0, 0, f.loc), reply.Slots[1].Start.In(f.loc))
	assert.Equal(t, time.Date(2025, 11, 25, 18, 0, 0, 0, f.loc), reply.Slots[1].End.In(f.loc))
}

func TestRecurringNeedsConfirmation(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"create_recurring","title":"Gym","start":"2025-11-24T19:00","end":"2025-11-24T20:00","recurrence":"weekly","days":["mon","thu"],"until":"2025-12-07","confidence":0.9}`)

	reply := f.send(t, "gym every monday and thursday at 7pm until december 7")
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)
	assert.True(t, strings.HasPrefix(reply.Text, `Create 4 × "Gym"`), reply.Text)

	r := domain.TimeRange{Start: f.now, End: f.now.AddDate(0, 1, 0)}
	events, err := f.store.ListEvents(context.Background(), "u1", r)
	require.NoError(t, err)
	assert.Empty(t, events)

	report, err := f.svc.Confirm(context.Background(), "u1", reply.Token)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded)

	again, err := f.svc.Confirm(context.Background(), "u1", reply.Token)
	assert.ErrorIs(t, err, execution.ErrAlreadyCompleted)
	assert.Equal(t, report, again)

	events, err = f.store.ListEvents(context.Background(), "u1", r)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestDeleteByCriteriaResolvesAtConfirm(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"delete_by_criteria","title_contains":"standup","confidence":0.9}`)
	f.seed(t, "Standup", time.Date(2025, 11, 26, 9, 0, 0, 0, f.loc), 15*time.Minute)
	f.seed(t, "Lunch", time.Date(2025, 11, 26, 13, 0, 0, 0, f.loc), time.Hour)

	reply := f.send(t, "delete all standups")
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)

	f.seed(t, "Daily standup", time.Date(2025, 11, 27, 9, 0, 0, 0, f.loc), 15*time.Minute)

	report, err := f.svc.Confirm(context.Background(), "u1", reply.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	events, err := f.store.ListEvents(context.Background(), "u1", f.svc.criteriaWindow(f.loc))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Lunch", events[0].Title)
}

func TestDecisionOwnershipAndCancel(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"delete_duplicates","confidence":0.9}`)
	reply := f.send(t, "remove duplicates")
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)

	_, err := f.svc.HandleDecision(context.Background(), "u2", domain.Decision{Token: reply.Token, Action: domain.DecisionConfirm})
	assert.ErrorIs(t, err, execution.ErrTokenOwner)

	cancelled, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Token: reply.Token, Action: domain.DecisionCancel})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyCancelled, cancelled.Kind)

	late, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Token: reply.Token, Action: domain.DecisionConfirm})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyCancelled, late.Kind)

	expired, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Token: "unknown", Action: domain.DecisionConfirm})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyError, expired.Kind)

	_, err = f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Token: reply.Token, Action: "maybe"})
	assert.ErrorIs(t, err, ErrUnknownDecision)
}

func TestDecisionWithoutTokenUsesPendingBatch(t *testing.T) {
	f := newFixture(t, nil, `{"intent":"delete_duplicates","confidence":0.9}`)
	none, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Action: domain.DecisionConfirm})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyError, none.Kind)
	assert.Equal(t, "There is nothing waiting for confirmation.", none.Text)

	reply := f.send(t, "remove duplicates")
	require.Equal(t, domain.ReplyConfirmation, reply.Kind)

	done, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Action: domain.DecisionConfirm})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyReport, done.Kind)
	assert.Equal(t, reply.Token, done.Token)

	again, err := f.svc.HandleDecision(context.Background(), "u1", domain.Decision{Action: domain.DecisionCancel})
	require.NoError(t, err)
	assert.Equal(t, domain.ReplyError, again.Kind)
}

func TestPrepareBatchRejectsSingleIntent(t *testing.T) {
	f := newFixture(t, nil)
	_, _, err := f.svc.PrepareBatch(context.Background(), "u1", f.loc, intent.Query{})
	assert.ErrorIs(t, err, ErrNotBatchable)
}

func TestPreferencesChooseLanguage(t *testing.T) {
	prefs := staticPreferences{"u1": {Timezone: "Europe/Moscow", Language: "ru"}}
	f := newFixture(t, prefs, `{"intent":"query","range_start":"2025-11-25","confidence":0.9}`)

	reply := f.send(t, "что у меня завтра?")
	require.Equal(t, domain.ReplyEvents, reply.Kind)
	assert.Equal(t, "В этот период событий нет.", reply.Text)
	assert.Contains(t, f.provider.requests[0].System, "Russian")
}

func TestMissingUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.HandleMessage(context.Background(), domain.InboundMessage{Text: "hi"})
	assert.ErrorIs(t, err, ErrMissingUser)
}
