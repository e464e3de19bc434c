package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calbot/internal/calendar"
	"calbot/internal/domain"
)

var ErrPreferencesNotFound = errors.New("user preferences not found")

// Store is the Postgres calendar backend. It also holds per-user preferences.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS calendar_events (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			attendees JSONB NOT NULL DEFAULT '[]'::jsonb,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_user_start ON calendar_events(user_id, starts_at);`,
		`CREATE TABLE IF NOT EXISTS calendar_tasks (
			task_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			due_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_tasks_user ON calendar_tasks(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			timezone TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, userID string, ev domain.EventDraft) (string, error) {
	attendees := ev.Attendees
	if attendees == nil {
		attendees = []string{}
	}
	raw, err := json.Marshal(attendees)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO calendar_events(event_id, user_id, title, location, description, attendees, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
	`, id, userID, ev.Title, ev.Location, ev.Description, string(raw), ev.Start, ev.End)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateEvent(ctx context.Context, userID, eventID string, patch domain.EventPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calendar_events
		SET title = COALESCE($3, title),
			starts_at = COALESCE($4, starts_at),
			ends_at = COALESCE($5, ends_at),
			location = COALESCE($6, location),
			updated_at = NOW()
		WHERE user_id=$1 AND event_id=$2
	`, userID, eventID, patch.Title, patch.Start, patch.End, patch.Location)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calendar.ErrEventNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, userID, eventID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM calendar_events WHERE user_id=$1 AND event_id=$2`, userID, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calendar.ErrEventNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, userID string, r domain.TimeRange) ([]domain.EventRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, title, location, starts_at, ends_at
		FROM calendar_events
		WHERE user_id=$1 AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at ASC, event_id ASC
	`, userID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRef
	for rows.Next() {
		var ev domain.EventRef
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Location, &ev.Start, &ev.End); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, userID string, task domain.TaskDraft) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_tasks(task_id, user_id, title, notes, due_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, userID, task.Title, task.Notes, task.Due)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *Store) Preferences(ctx context.Context, userID string) (domain.UserPreferences, error) {
	var p domain.UserPreferences
	err := s.pool.QueryRow(ctx, `
		SELECT timezone, language
		FROM user_preferences
		WHERE user_id=$1
	`, userID).Scan(&p.Timezone, &p.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserPreferences{}, ErrPreferencesNotFound
	}
	if err != nil {
		return domain.UserPreferences{}, err
	}
	return p, nil
}

func (s *Store) SetPreferences(ctx context.Context, userID string, p domain.UserPreferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preferences(user_id, timezone, language)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET timezone = EXCLUDED.timezone, language = EXCLUDED.language, updated_at = NOW()
	`, userID, p.Timezone, p.Language)
	return err
}

var (
	_ calendar.Store     = (*Store)(nil)
	_ calendar.TaskStore = (*Store)(nil)
)
