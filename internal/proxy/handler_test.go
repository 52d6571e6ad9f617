package proxy_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/proxy"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/pricing"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proxyEnv struct {
	tracker  *tracker.UsageTracker
	store    *storage.Memory
	upstream *httptest.Server
	calls    *atomic.Int64
	headers  chan http.Header
	logger   *slog.Logger
}

func setupProxyTest(t *testing.T, status int) *proxyEnv {
	t.Helper()

	env := &proxyEnv{calls: &atomic.Int64{}, headers: make(chan http.Header, 1)}

	// Mock upstream LLM API
	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		select {
		case env.headers <- r.Header.Clone():
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "upstream failure"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": "gpt-4o",
			"usage": map[string]any{
				"prompt_tokens":     24,
				"completion_tokens": 8,
				"total_tokens":      32,
			},
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hello!"}},
			},
		})
	}))
	t.Cleanup(env.upstream.Close)

	catalog, err := pricing.Default()
	require.NoError(t, err)

	env.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	env.store = storage.NewMemory()
	budgets := tracker.NewBudgetManager(env.store, env.store, nil, env.logger)
	env.tracker = tracker.NewUsageTracker(tracker.NewCostCalculator(catalog, true), env.store, budgets, env.logger)
	return env
}

func (e *proxyEnv) handler(opts proxy.Options) *proxy.Handler {
	return proxy.NewHandler(e.tracker, opts, e.logger)
}

func (e *proxyEnv) createBudget(t *testing.T, b model.Budget) *model.Budget {
	t.Helper()
	b.Enabled = true
	created, err := e.tracker.Budgets().CreateBudget(context.Background(), b)
	require.NoError(t, err)
	return created
}

func chatRequest(t *testing.T, target string, maxTokens int) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"model":      "gpt-4o",
		"max_tokens": maxTokens,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set(proxy.HeaderTarget, target+"/v1/chat/completions")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestProxyHandler_MissingTarget(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	env.handler(proxy.Options{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyHandler_InvalidTargetURL(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set(proxy.HeaderTarget, "://invalid-url")

	w := httptest.NewRecorder()
	env.handler(proxy.Options{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyHandler_FullRoundTrip(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	h := env.handler(proxy.Options{AddCostHeaders: true, DenyOnExceed: true})

	req := chatRequest(t, env.upstream.URL, 16)
	req.Header.Set(proxy.HeaderScope, "agent-7")
	req.Header.Set(proxy.HeaderCorrelationID, "req-42")
	req.Header.Set("Authorization", "Bearer sk-test")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.000140", w.Header().Get(proxy.HeaderCost))
	assert.NotEmpty(t, w.Header().Get(proxy.HeaderEstimatedCost))
	assert.Equal(t, "24", w.Header().Get(proxy.HeaderInputUnits))
	assert.Equal(t, "8", w.Header().Get(proxy.HeaderOutputUnits))
	assert.Equal(t, "openai", w.Header().Get(proxy.HeaderProvider))
	assert.Equal(t, "gpt-4o", w.Header().Get(proxy.HeaderModel))
	assert.NotEmpty(t, w.Header().Get(proxy.HeaderRecordID))
	assert.Contains(t, w.Body.String(), "chatcmpl-test")

	forwarded := <-env.headers
	assert.Equal(t, "Bearer sk-test", forwarded.Get("Authorization"))
	assert.Empty(t, forwarded.Get(proxy.HeaderTarget))
	assert.Empty(t, forwarded.Get(proxy.HeaderScope))
	assert.Empty(t, forwarded.Get(proxy.HeaderCorrelationID))

	records, err := env.store.GetByCorrelationID(context.Background(), "req-42")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "agent-7", records[0].ScopeID)
	assert.InDelta(t, 0.00014, records[0].TotalCost, 1e-12)
	assert.Equal(t, "/v1/chat/completions", records[0].Metadata["path"])
}

func TestProxyHandler_DefaultScope(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	h := env.handler(proxy.Options{DefaultScope: "shared"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest(t, env.upstream.URL, 16))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(proxy.HeaderCost), "cost headers are opt-in")

	records, err := env.store.Query(context.Background(), model.ReportFilter{ScopeID: "shared"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProxyHandler_FallbackScope(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	h := env.handler(proxy.Options{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest(t, env.upstream.URL, 16))
	require.Equal(t, http.StatusOK, w.Code)

	records, err := env.store.Query(context.Background(), model.ReportFilter{ScopeID: model.DefaultScopeID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestProxyHandler_BlockedByBudget(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	budget := env.createBudget(t, model.Budget{
		Name: "tiny", LimitUSD: 0.0001, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock,
		Scope: &model.BudgetScope{ID: "a1"},
	})
	h := env.handler(proxy.Options{DenyOnExceed: true})

	// 1000 output tokens of gpt-4o alone cost $0.01.
	req := chatRequest(t, env.upstream.URL, 1000)
	req.Header.Set(proxy.HeaderScope, "a1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Zero(t, env.calls.Load(), "blocked calls never reach the provider")

	var body struct {
		Error  string                  `json:"error"`
		Result model.EnforcementResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body.Error, "tiny")
	assert.False(t, body.Result.Allowed)
	require.NotNil(t, body.Result.BlockedBy)
	assert.Equal(t, budget.ID, body.Result.BlockedBy.ID)

	// Other scopes are unaffected.
	req = chatRequest(t, env.upstream.URL, 1000)
	req.Header.Set(proxy.HeaderScope, "a2")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProxyHandler_BlockedButNotDenied(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	env.createBudget(t, model.Budget{
		Name: "tiny", LimitUSD: 0.0001, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionBlock,
	})
	h := env.handler(proxy.Options{DenyOnExceed: false})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest(t, env.upstream.URL, 1000))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), env.calls.Load())
}

func TestProxyHandler_Throttle(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	budget := env.createBudget(t, model.Budget{
		Name: "slow-down", LimitUSD: 0.0001, Period: model.PeriodDaily,
		Thresholds: []float64{100}, Action: model.ActionThrottle,
	})
	h := env.handler(proxy.Options{DenyOnExceed: true})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest(t, env.upstream.URL, 1000))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, budget.ID, w.Header().Get(proxy.HeaderThrottle))
}

func TestProxyHandler_UpstreamErrorNotRecorded(t *testing.T) {
	env := setupProxyTest(t, http.StatusInternalServerError)
	h := env.handler(proxy.Options{AddCostHeaders: true})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, chatRequest(t, env.upstream.URL, 16))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get(proxy.HeaderCost))

	records, err := env.store.Query(context.Background(), model.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProxyHandler_BodyTooLarge(t *testing.T) {
	env := setupProxyTest(t, http.StatusOK)
	h := env.handler(proxy.Options{MaxBodySize: 16})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set(proxy.HeaderTarget, env.upstream.URL+"/v1/chat/completions")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, env.calls.Load())
}
