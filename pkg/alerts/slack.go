package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
)

// SlackNotifier sends alerts to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, alert model.Alert) error {
	color := "#36a64f" // green
	switch alert.Severity {
	case model.SeverityWarning:
		color = "#ff9900" // orange
	case model.SeverityCritical:
		color = "#cc0000" // dark red
	}

	title := fmt.Sprintf("LLM Cost Meter: budget %s", alert.Severity)
	if alert.Projected {
		title += " (projected)"
	}

	payload := slackPayload{
		Channel: s.channel,
		Text:    alert.Message,
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: title,
				Fields: []slackField{
					{Title: "Budget", Value: alert.BudgetName, Short: true},
					{Title: "Period", Value: string(alert.Period), Short: true},
					{Title: "Current Spend", Value: fmt.Sprintf("$%.4f", alert.Spend), Short: true},
					{Title: "Limit", Value: fmt.Sprintf("$%.2f", alert.Limit), Short: true},
					{Title: "Threshold", Value: fmt.Sprintf("%.0f%%", alert.Threshold), Short: true},
					{Title: "Usage", Value: fmt.Sprintf("%.1f%%", model.Percentage(alert.Spend, alert.Limit)), Short: true},
				},
				Footer: "LLM Cost Meter",
				Ts:     alert.CreatedAt.Unix(),
			},
		},
	}
	if alert.CreatedAt.IsZero() {
		payload.Attachments[0].Ts = time.Now().Unix()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
