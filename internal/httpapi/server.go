// Package httpapi exposes the engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calbot/internal/domain"
	"calbot/internal/execution"
	"calbot/internal/logging"
	"calbot/internal/orchestrator"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type Engine interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) (domain.Reply, error)
	HandleDecision(ctx context.Context, userID string, d domain.Decision) (domain.Reply, error)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type decisionRequest struct {
	UserID string `json:"user_id"`
}

// NewRouter builds the HTTP routes. gatherer and health may be nil.
func NewRouter(engine Engine, gatherer prometheus.Gatherer, health HealthCheck, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/v1/messages", func(w http.ResponseWriter, req *http.Request) {
		var msg domain.InboundMessage
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&msg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
		if strings.TrimSpace(msg.UserID) == "" || strings.TrimSpace(msg.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_id and text are required"})
			return
		}

		reply, err := engine.HandleMessage(req.Context(), msg)
		if err != nil {
			writeError(w, logger, "handle message failed", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	})

	decide := func(action domain.DecisionAction) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			var body decisionRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
				return
			}
			if strings.TrimSpace(body.UserID) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_id is required"})
				return
			}

			d := domain.Decision{Token: chi.URLParam(req, "token"), Action: action}
			reply, err := engine.HandleDecision(req.Context(), body.UserID, d)
			if err != nil {
				writeError(w, logger, "handle decision failed", err)
				return
			}
			writeJSON(w, http.StatusOK, reply)
		}
	}
	r.Post("/v1/batches/{token}/confirm", decide(domain.DecisionConfirm))
	r.Post("/v1/batches/{token}/cancel", decide(domain.DecisionCancel))

	return r
}

func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrMissingUser), errors.Is(err, orchestrator.ErrUnknownDecision):
		status = http.StatusBadRequest
	case errors.Is(err, execution.ErrTokenOwner):
		status = http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		logger.Error(msg, logging.Err(err))
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
