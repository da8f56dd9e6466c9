package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *resty.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{client: newClient(), webhookURL: webhookURL}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var lines []string
	for _, t := range n.listed() {
		line := fmt.Sprintf("• [%s](%s) **%d** [%s]", t.Title, t.URL, t.Score, t.Source)
		if t.Angle != "" {
			line += "\n  _" + t.Angle + "_"
		}
		lines = append(lines, line)
	}

	embed := map[string]any{
		"title":       "🔥 " + n.Title,
		"description": strings.Join(lines, "\n"),
		"color":       0xFF6600,
		"timestamp":   n.GeneratedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := post(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	return nil
}
