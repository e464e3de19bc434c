// Package execution gates multi-operation batches behind single-use
// confirmation tokens and applies them sequentially.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"calbot/internal/domain"
	"calbot/internal/logging"
	"calbot/internal/metrics"
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

var (
	ErrTokenNotFound    = errors.New("confirmation token not found or expired")
	ErrAlreadyCompleted = errors.New("batch already executed")
	ErrTokenCancelled   = errors.New("batch was cancelled")
	ErrTokenInFlight    = errors.New("batch is already being executed")
	ErrTokenOwner       = errors.New("confirmation token belongs to another user")
)

const cancelledReason = "cancelled before execution"

// Executor applies one operation and returns the id of what it touched.
type Executor interface {
	Execute(ctx context.Context, userID string, op domain.Operation) (string, error)
}

// Resolver computes operations when the batch is confirmed rather than
// when it is prepared.
type Resolver func(ctx context.Context) ([]domain.Operation, error)

type Plan struct {
	Summary    string
	Operations []domain.Operation
	// Resolve is used instead of Operations when set.
	Resolve Resolver
}

// Info is a read-only view of a batch.
type Info struct {
	Token      string
	UserID     string
	State      State
	Summary    string
	Operations []domain.Operation
	CreatedAt  time.Time
}

type batch struct {
	token     string
	userID    string
	plan      Plan
	createdAt time.Time

	mu     sync.Mutex
	state  State
	report *domain.ExecutionReport
}

type Options struct {
	// TTL bounds how long an unconfirmed or finished token is remembered.
	TTL      time.Duration
	Capacity int
	Metrics  *metrics.Metrics
}

type Manager struct {
	exec    Executor
	batches *expirable.LRU[string, *batch]
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	pending map[string]string
}

func NewManager(exec Executor, opts Options, logger *slog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 10000
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		exec:    exec,
		batches: expirable.NewLRU[string, *batch](opts.Capacity, nil, opts.TTL),
		metrics: opts.Metrics,
		logger:  logger,
		tracer:  otel.Tracer("calbot/internal/execution"),
		pending: make(map[string]string),
	}
}

// Prepare registers plan for userID and returns its token. A still-pending
// batch of the same user is cancelled and replaced.
func (m *Manager) Prepare(userID string, plan Plan) (string, string) {
	if plan.Summary == "" {
		plan.Summary = fmt.Sprintf("%d operations", len(plan.Operations))
	}
	b := &batch{
		token:     uuid.NewString(),
		userID:    userID,
		plan:      plan,
		createdAt: time.Now(),
		state:     StatePending,
	}

	m.mu.Lock()
	if prev, ok := m.pending[userID]; ok {
		if old, ok := m.batches.Peek(prev); ok && old.transition(StatePending, StateCancelled) {
			m.metrics.Batch(string(StateCancelled))
			m.logger.Info("pending batch replaced", logging.UserHash(userID), logging.Token(prev))
		}
	}
	m.pending[userID] = b.token
	m.batches.Add(b.token, b)
	m.mu.Unlock()

	m.metrics.Batch(string(StatePending))
	return b.token, plan.Summary
}

// Lookup returns the batch behind token.
func (m *Manager) Lookup(token string) (Info, bool) {
	b, ok := m.batches.Get(token)
	if !ok {
		return Info{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Info{
		Token:      b.token,
		UserID:     b.userID,
		State:      b.state,
		Summary:    b.plan.Summary,
		Operations: b.plan.Operations,
		CreatedAt:  b.createdAt,
	}, true
}

// PendingToken returns the user's unconfirmed token, if any.
func (m *Manager) PendingToken(userID string) (string, bool) {
	m.mu.Lock()
	token, ok := m.pending[userID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	info, ok := m.Lookup(token)
	if !ok || info.State != StatePending {
		return "", false
	}
	return token, true
}

// Confirm executes the batch exactly once. Operations run one at a time;
// a failed operation is recorded and the rest still run. A second Confirm
// returns ErrAlreadyCompleted together with the first report.
func (m *Manager) Confirm(ctx context.Context, token string) (domain.ExecutionReport, error) {
	b, ok := m.batches.Get(token)
	if !ok {
		return domain.ExecutionReport{}, ErrTokenNotFound
	}

	b.mu.Lock()
	switch b.state {
	case StateCompleted:
		report := *b.report
		b.mu.Unlock()
		return report, ErrAlreadyCompleted
	case StateCancelled:
		b.mu.Unlock()
		return domain.ExecutionReport{}, ErrTokenCancelled
	case StateConfirmed, StateExecuting:
		b.mu.Unlock()
		return domain.ExecutionReport{}, ErrTokenInFlight
	}
	b.state = StateConfirmed
	b.mu.Unlock()
	m.metrics.Batch(string(StateConfirmed))

	ctx, span := m.tracer.Start(ctx, "execution.confirm")
	defer span.End()
	// The batch runs to the end even if the caller goes away; Cancel stops it.
	ctx = context.WithoutCancel(ctx)

	ops := b.plan.Operations
	if b.plan.Resolve != nil {
		resolved, err := b.plan.Resolve(ctx)
		if err != nil {
			m.rollback(b)
			span.RecordError(err)
			return domain.ExecutionReport{}, domain.NewError(domain.KindCalendar, "resolve batch", err)
		}
		ops = resolved
	}
	span.SetAttributes(attribute.Int("batch.operations", len(ops)))

	if !b.transition(StateConfirmed, StateExecuting) {
		return m.finish(b, m.cancelledReport(token, ops)), nil
	}
	m.clearPending(b.userID, token)
	m.metrics.Batch(string(StateExecuting))

	report := domain.ExecutionReport{Token: token, Entries: make([]domain.OperationOutcome, 0, len(ops))}
	for i, op := range ops {
		if b.currentState() == StateCancelled {
			for _, rest := range ops[i:] {
				report.RecordFailure(rest, cancelledReason)
				m.metrics.BatchOperation("cancelled")
			}
			break
		}
		id, err := m.exec.Execute(ctx, b.userID, op)
		if err != nil {
			report.RecordFailure(op, err.Error())
			m.metrics.BatchOperation("failed")
			m.logger.Warn("batch operation failed",
				logging.Token(token), "index", i, "kind", op.Kind, logging.Err(err))
			continue
		}
		report.RecordSuccess(op, id)
		m.metrics.BatchOperation("succeeded")
	}

	report = m.finish(b, report)
	m.logger.Info("batch executed",
		logging.UserHash(b.userID), logging.Token(token),
		"succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}

// Cancel stops a batch. Pending batches never run; an executing batch stops
// before its next operation. Cancelling twice is not an error.
func (m *Manager) Cancel(token string) error {
	b, ok := m.batches.Get(token)
	if !ok {
		return ErrTokenNotFound
	}
	b.mu.Lock()
	switch b.state {
	case StateCompleted:
		b.mu.Unlock()
		return ErrAlreadyCompleted
	case StateCancelled:
		b.mu.Unlock()
		return nil
	}
	b.state = StateCancelled
	b.mu.Unlock()

	m.clearPending(b.userID, token)
	m.metrics.Batch(string(StateCancelled))
	return nil
}

func (m *Manager) cancelledReport(token string, ops []domain.Operation) domain.ExecutionReport {
	report := domain.ExecutionReport{Token: token}
	for _, op := range ops {
		report.RecordFailure(op, cancelledReason)
	}
	return report
}

// finish stores the report; the state becomes Completed unless the batch
// was cancelled on the way.
func (m *Manager) finish(b *batch, report domain.ExecutionReport) domain.ExecutionReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report = &report
	if b.state == StateExecuting {
		b.state = StateCompleted
		m.metrics.Batch(string(StateCompleted))
	}
	return report
}

func (m *Manager) clearPending(userID, token string) {
	m.mu.Lock()
	if m.pending[userID] == token {
		delete(m.pending, userID)
	}
	m.mu.Unlock()
}

// rollback puts a batch whose operations could not be resolved back to
// Pending, unless a newer batch of the same user took its place.
func (m *Manager) rollback(b *batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[b.userID] == b.token {
		b.transition(StateConfirmed, StatePending)
		return
	}
	if b.transition(StateConfirmed, StateCancelled) {
		m.metrics.Batch(string(StateCancelled))
	}
}

func (b *batch) transition(from, to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from {
		return false
	}
	b.state = to
	return true
}

func (b *batch) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
