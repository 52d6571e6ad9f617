package alerts_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/alerts"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Name(t *testing.T) {
	n := alerts.NewWebhookNotifier("https://example.com/webhook", "")
	assert.Equal(t, "webhook", n.Name())
}

func TestWebhookNotifier_Send(t *testing.T) {
	var received struct {
		Event      string              `json:"event"`
		DeliveryID string              `json:"delivery_id"`
		Timestamp  string              `json:"timestamp"`
		Severity   model.AlertSeverity `json:"severity"`
		Budget     struct {
			ID       string  `json:"id"`
			Name     string  `json:"name"`
			Period   string  `json:"period"`
			LimitUSD float64 `json:"limit_usd"`
			SpendUSD float64 `json:"spend_usd"`
		} `json:"budget"`
		Threshold   float64     `json:"threshold_pct"`
		Percentage  float64     `json:"usage_pct"`
		WindowStart string      `json:"window_start"`
		Alert       model.Alert `json:"alert"`
	}
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), testAlert(model.SeverityCritical))
	require.NoError(t, err)

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "LLM-Cost-Meter/1.0", headers.Get("User-Agent"))
	assert.Equal(t, alerts.EventBudgetAlert, headers.Get(alerts.HeaderEvent))
	assert.Equal(t, received.DeliveryID, headers.Get(alerts.HeaderDelivery))
	assert.NotEmpty(t, received.DeliveryID)

	assert.Equal(t, alerts.EventBudgetAlert, received.Event)
	assert.Equal(t, "2026-03-10T12:00:00Z", received.Timestamp)
	assert.Equal(t, model.SeverityCritical, received.Severity)
	assert.Equal(t, "b1", received.Budget.ID)
	assert.Equal(t, "test-budget", received.Budget.Name)
	assert.Equal(t, "monthly", received.Budget.Period)
	assert.Equal(t, 100.0, received.Budget.LimitUSD)
	assert.Equal(t, 92.0, received.Budget.SpendUSD)
	assert.Equal(t, 90.0, received.Threshold)
	assert.InDelta(t, 92.0, received.Percentage, 1e-9)
	assert.Equal(t, "2026-03-01T00:00:00Z", received.WindowStart)
	assert.Equal(t, "alert-1", received.Alert.ID)
}

func TestWebhookNotifier_DeliveryIDsAreUnique(t *testing.T) {
	seen := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(alerts.HeaderDelivery)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewWebhookNotifier(server.URL, "")
	require.NoError(t, n.Send(context.Background(), testAlert(model.SeverityInfo)))
	require.NoError(t, n.Send(context.Background(), testAlert(model.SeverityInfo)))
	assert.NotEqual(t, <-seen, <-seen)
}

func TestWebhookNotifier_Send_Projected(t *testing.T) {
	var event string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		event, _ = body["event"].(string)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	alert := testAlert(model.SeverityInfo)
	alert.Projected = true
	require.NoError(t, alerts.NewWebhookNotifier(server.URL, "").Send(context.Background(), alert))
	assert.Equal(t, "budget_alert_projected", event)
}

func TestWebhookNotifier_Send_WithHMAC(t *testing.T) {
	var signature string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Signature-256")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewWebhookNotifier(server.URL, "test-secret")
	err := n.Send(context.Background(), testAlert(model.SeverityWarning))
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), signature)
}

func TestWebhookNotifier_Send_NoHMAC(t *testing.T) {
	var hasSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSignature = r.Header.Get("X-Signature-256") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), testAlert(model.SeverityWarning))
	require.NoError(t, err)
	assert.False(t, hasSignature)
}

func TestWebhookNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	n := alerts.NewWebhookNotifier(server.URL, "")
	err := n.Send(context.Background(), testAlert(model.SeverityWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "maintenance")
}
