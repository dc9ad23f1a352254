// Package notifier pushes run summaries and high-severity findings to
// Slack. Delivery failures are logged, never fatal.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
	"github.com/cloudreap/cloudreap/pkg/engine/report"
)

// SlackClient handles Slack notifications.
type SlackClient struct {
	WebhookURL string
	Channel    string // Optional: Override default channel
	HTTP       *http.Client
}

// NewSlackClient initializes the Slack integration.
func NewSlackClient(webhookURL, channel string) *SlackClient {
	return &SlackClient{
		WebhookURL: webhookURL,
		Channel:    channel,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}
}

// SendRunReport sends the run summary.
func (s *SlackClient) SendRunReport(ctx context.Context, r report.Report) error {
	if s.WebhookURL == "" {
		return nil
	}
	return s.send(ctx, s.constructPayload(r))
}

// Send pushes a one-off alert outside the run-report cycle.
func (s *SlackClient) Send(ctx context.Context, severity anomaly.Severity, subject, body string) error {
	if s.WebhookURL == "" {
		return nil
	}
	icon := "🟡"
	if severity == anomaly.SeverityHigh {
		icon = "🔴"
	}
	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{
					"type": "plain_text",
					"text": fmt.Sprintf("%s %s", icon, subject),
				},
			},
			{
				"type": "section",
				"text": map[string]interface{}{
					"type": "mrkdwn",
					"text": body,
				},
			},
		},
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return s.send(ctx, payload)
}

// constructPayload builds the message blocks.
func (s *SlackClient) constructPayload(r report.Report) map[string]interface{} {
	statusIcon := "🟢"
	if len(r.Anomalies) > 0 || r.Partial {
		statusIcon = "🟡"
	}
	for _, a := range r.Anomalies {
		if a.Severity == anomaly.SeverityHigh {
			statusIcon = "🔴"
			break
		}
	}

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Resource Reclamation Report", statusIcon),
			},
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Run Date:* %s | *Region:* %s | *Mode:* %s",
						r.GeneratedAt.Format("2006-01-02"), r.Region, r.Mode),
				},
			},
		},
		{
			"type": "divider",
		},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Monthly Savings:*\n$%.2f/mo", r.TotalSavings),
				},
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Resources Analyzed:*\n%d", r.Cost.TotalResources),
				},
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Untagged Cost:*\n$%.2f/mo (%.1f%%)",
						r.Cost.UntaggedMonthlyCost, r.Cost.UntaggedPercentage),
				},
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Anomalies:*\n%d", len(r.Anomalies)),
				},
			},
		},
	}

	if r.Partial {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("⚠️ *Partial Run*\n%d scope(s) could not be listed; savings figures are a lower bound.", len(r.FailedScopes)),
			},
		})
	}

	for _, a := range r.Anomalies {
		if a.Severity != anomaly.SeverityHigh {
			continue
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("🔥 *%s*\n%s", a.Detector, a.Message),
			},
		})
	}

	payload := map[string]interface{}{
		"blocks": blocks,
	}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return payload
}

func (s *SlackClient) send(ctx context.Context, payload map[string]interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}
