package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// Webhook event names.
const (
	EventBudgetAlert          = "budget_alert"
	EventBudgetAlertProjected = "budget_alert_projected"
)

// Webhook request headers.
const (
	HeaderEvent     = "X-LCM-Event"
	HeaderDelivery  = "X-LCM-Delivery"
	HeaderSignature = "X-Signature-256"
)

// WebhookNotifier posts alerts as JSON events to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier. A non-empty secret signs
// every body with HMAC-SHA256 in the X-Signature-256 header.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// webhookEvent is the request body. Alert carries the full record; the
// other fields summarize it for receivers that route on severity or budget.
type webhookEvent struct {
	Event       string              `json:"event"`
	DeliveryID  string              `json:"delivery_id"`
	Timestamp   string              `json:"timestamp"`
	Severity    model.AlertSeverity `json:"severity"`
	Budget      webhookBudget       `json:"budget"`
	Threshold   float64             `json:"threshold_pct"`
	Percentage  float64             `json:"usage_pct"`
	WindowStart string              `json:"window_start"`
	Alert       model.Alert         `json:"alert"`
}

type webhookBudget struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Period   model.BudgetPeriod `json:"period"`
	LimitUSD float64            `json:"limit_usd"`
	SpendUSD float64            `json:"spend_usd"`
}

func newWebhookEvent(alert model.Alert) webhookEvent {
	event := EventBudgetAlert
	if alert.Projected {
		event = EventBudgetAlertProjected
	}
	at := alert.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return webhookEvent{
		Event:      event,
		DeliveryID: uuid.New().String(),
		Timestamp:  at.UTC().Format(time.RFC3339),
		Severity:   alert.Severity,
		Budget: webhookBudget{
			ID:       alert.BudgetID,
			Name:     alert.BudgetName,
			Period:   alert.Period,
			LimitUSD: alert.Limit,
			SpendUSD: alert.Spend,
		},
		Threshold:   alert.Threshold,
		Percentage:  model.Percentage(alert.Spend, alert.Limit),
		WindowStart: alert.WindowStart.UTC().Format(time.RFC3339),
		Alert:       alert,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert model.Alert) error {
	event := newWebhookEvent(alert)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "LLM-Cost-Meter/1.0")
	req.Header.Set(HeaderEvent, event.Event)
	req.Header.Set(HeaderDelivery, event.DeliveryID)
	if w.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+sign(body, []byte(w.secret)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s for budget %s returned status %d: %s",
			event.Event, alert.BudgetID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func sign(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
