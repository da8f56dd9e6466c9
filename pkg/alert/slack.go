package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *resty.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{client: newClient(), webhookURL: webhookURL}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	// Block Kit: header, summary, one section per trend.
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": "🔥 " + n.Title},
		},
	}
	for _, t := range n.listed() {
		lines := []string{fmt.Sprintf("*<%s|%s>*", t.URL, t.Title)}
		meta := fmt.Sprintf("*Score:* %d | *Source:* %s", t.Score, t.Source)
		if t.VelocityTier != "" {
			meta += " | *Velocity:* " + t.VelocityTier
		}
		if len(t.CrossPlatform) > 1 {
			meta += " | *Also on:* " + strings.Join(t.CrossPlatform, ", ")
		}
		lines = append(lines, meta)
		if t.Angle != "" {
			lines = append(lines, "_"+t.Angle+"_")
		}
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": strings.Join(lines, "\n")},
		})
	}
	if extra := len(n.Trends) - len(n.listed()); extra > 0 {
		blocks = append(blocks, map[string]any{
			"type":     "context",
			"elements": []map[string]any{{"type": "mrkdwn", "text": fmt.Sprintf("+%d more", extra)}},
		})
	}

	body, err := json.Marshal(map[string]any{"blocks": blocks})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := post(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return fmt.Errorf("send slack webhook: %w", err)
	}
	return nil
}
