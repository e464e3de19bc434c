package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbot/internal/domain"
	"calbot/internal/execution"
	"calbot/internal/metrics"
)

type fakeEngine struct {
	messages  []domain.InboundMessage
	decisions []domain.Decision
	err       error
}

func (f *fakeEngine) HandleMessage(_ context.Context, msg domain.InboundMessage) (domain.Reply, error) {
	f.messages = append(f.messages, msg)
	if f.err != nil {
		return domain.Reply{}, f.err
	}
	return domain.Reply{UserID: msg.UserID, Kind: domain.ReplyConfirmation, Token: "tok-1", Text: "2 actions"}, nil
}

func (f *fakeEngine) HandleDecision(_ context.Context, userID string, d domain.Decision) (domain.Reply, error) {
	f.decisions = append(f.decisions, d)
	if f.err != nil {
		return domain.Reply{}, f.err
	}
	return domain.Reply{UserID: userID, Kind: domain.ReplyReport, Token: d.Token}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostMessage(t *testing.T) {
	engine := &fakeEngine{}
	h := NewRouter(engine, nil, nil, nil)

	rec := do(t, h, http.MethodPost, "/v1/messages", `{"user_id":"u1","text":"gym every monday","timezone":"Europe/Moscow"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply domain.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, domain.ReplyConfirmation, reply.Kind)
	assert.Equal(t, "tok-1", reply.Token)
	require.Len(t, engine.messages, 1)
	assert.Equal(t, "Europe/Moscow", engine.messages[0].Timezone)
}

func TestPostMessageValidation(t *testing.T) {
	h := NewRouter(&fakeEngine{}, nil, nil, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/messages", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/messages", `{"user_id":"u1"}`).Code)
}

func TestDecisions(t *testing.T) {
	engine := &fakeEngine{}
	h := NewRouter(engine, nil, nil, nil)

	rec := do(t, h, http.MethodPost, "/v1/batches/tok-1/confirm", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/v1/batches/tok-1/cancel", `{"user_id":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, engine.decisions, 2)
	assert.Equal(t, domain.Decision{Token: "tok-1", Action: domain.DecisionConfirm}, engine.decisions[0])
	assert.Equal(t, domain.DecisionCancel, engine.decisions[1].Action)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/batches/tok-1/confirm", `{}`).Code)
}

func TestErrorStatus(t *testing.T) {
	engine := &fakeEngine{err: execution.ErrTokenOwner}
	h := NewRouter(engine, nil, nil, nil)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/batches/tok-1/confirm", `{"user_id":"u2"}`).Code)

	engine.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/v1/messages", `{"user_id":"u1","text":"hi"}`).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Intent("create", "model")

	healthy := true
	h := NewRouter(&fakeEngine{}, reg, func(context.Context) error {
		if !healthy {
			return errors.New("db down")
		}
		return nil
	}, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz", "").Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `calbot_intents_total{kind="create",source="model"} 1`)
}
