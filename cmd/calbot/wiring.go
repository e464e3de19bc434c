package main

import (
	"context"
	"fmt"
	"log/slog"

	"calbot/internal/calendar"
	"calbot/internal/config"
	"calbot/internal/conversation"
	"calbot/internal/db"
	"calbot/internal/execution"
	"calbot/internal/llm"
	"calbot/internal/metrics"
	"calbot/internal/orchestrator"
)

// backend is the calendar store chosen by CALENDAR_BACKEND together with
// what else the store can provide.
type backend struct {
	store calendar.Store
	prefs orchestrator.Preferences
	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.CalendarBackend {
	case "postgres":
		store, err := db.New(ctx, cfg.DBDSN)
		if err != nil {
			return backend{}, fmt.Errorf("connect db: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return backend{}, fmt.Errorf("migrate db: %w", err)
		}
		return backend{store: store, prefs: store, ping: store.Ping, close: store.Close}, nil
	case "google":
		store, err := calendar.NewGoogleStore(ctx, calendar.GoogleConfig{
			CredentialsFile: cfg.GoogleCredentialsFile,
			TokenFile:       cfg.GoogleTokenFile,
			CalendarID:      cfg.GoogleCalendarID,
		})
		if err != nil {
			return backend{}, err
		}
		b := backend{store: store, close: func() {}}
		// Preferences still live in Postgres when a DSN is configured.
		if cfg.DBDSN != "" {
			pg, err := db.New(ctx, cfg.DBDSN)
			if err != nil {
				return backend{}, fmt.Errorf("connect db: %w", err)
			}
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return backend{}, fmt.Errorf("migrate db: %w", err)
			}
			b.prefs, b.ping, b.close = pg, pg.Ping, pg.Close
		}
		return b, nil
	default:
		logger.Warn("using in-memory calendar, events are lost on restart")
		return backend{store: calendar.NewMemoryStore(), close: func() {}}, nil
	}
}

func newCompletionClient(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*llm.ResilientClient, error) {
	provider, err := llm.NewProvider(llm.Config{
		Provider:         cfg.LLMProvider,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	breaker := llm.NewCircuitBreaker(llm.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		OnStateChange: func(from, to llm.BreakerState) {
			m.BreakerOpen(to == llm.BreakerOpen)
			logger.Warn("completion circuit breaker", "from", from.String(), "to", to.String())
		},
	})
	return llm.NewResilientClient(provider, breaker, llm.ResilientOptions{Timeout: cfg.LLMTimeout, Metrics: m}, logger), nil
}

func newService(cfg config.Config, client llm.Provider, b backend, m *metrics.Metrics, logger *slog.Logger) (*orchestrator.Service, error) {
	batches := execution.NewManager(execution.NewStoreExecutor(b.store), execution.Options{
		TTL:      cfg.BatchTTL,
		Capacity: cfg.ConversationMaxUsers,
		Metrics:  m,
	}, logger)
	conversations := conversation.NewStore(cfg.ConversationMaxUsers, cfg.ConversationTTL)
	return orchestrator.New(orchestrator.Config{
		LLMModel:        cfg.LLMModel,
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		MinConfidence:   cfg.IntentMinConfidence,
		MaxOccurrences:  cfg.RecurrenceMaxOccurrences,
		WorkingHours:    calendar.WorkingHours{StartHour: cfg.WorkdayStartHour, EndHour: cfg.WorkdayEndHour},
		DefaultTimezone: cfg.DefaultTimezone,
		DefaultLanguage: cfg.DefaultLanguage,
	}, client, b.store, batches, conversations, b.prefs, m, logger)
}
