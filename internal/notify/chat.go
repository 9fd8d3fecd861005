package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Chat-style providers that accept a JSON message on an incoming webhook.

type slackSender struct{ client *http.Client }

// NewSlackAdapter posts Block Kit messages to a Slack incoming webhook.
func NewSlackAdapter(client *http.Client) Uniform {
	return (&slackSender{client: client}).send
}

func (s *slackSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*SlackConfig](n)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"text": n.Title(),
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": "*" + n.Title() + "*"},
			},
			{
				"type": "section",
				"text": map[string]string{"type": "mrkdwn", "text": strings.Join(n.Details(), "\n")},
			},
		},
	}
	if err := postJSON(ctx, s.client, http.MethodPost, cfg.WebhookURL, payload, nil); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

type discordSender struct{ client *http.Client }

// NewDiscordAdapter posts embeds to a Discord webhook.
func NewDiscordAdapter(client *http.Client) Uniform {
	return (&discordSender{client: client}).send
}

func discordColor(t EventType) int {
	switch t {
	case EventAlert:
		return 0xED4245
	case EventDegraded:
		return 0xFEE75C
	default:
		return 0x57F287
	}
}

func (d *discordSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*DiscordConfig](n)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       n.Title(),
			"description": strings.Join(n.Details(), "\n"),
			"color":       discordColor(n.Type),
			"timestamp":   n.Time().Format("2006-01-02T15:04:05Z07:00"),
		}},
	}
	if cfg.Username != "" {
		payload["username"] = cfg.Username
	}
	if err := postJSON(ctx, d.client, http.MethodPost, cfg.WebhookURL, payload, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

type googleChatSender struct{ client *http.Client }

// NewGoogleChatAdapter posts plain text to a Google Chat space webhook.
func NewGoogleChatAdapter(client *http.Client) Uniform {
	return (&googleChatSender{client: client}).send
}

func (g *googleChatSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*GoogleChatConfig](n)
	if err != nil {
		return err
	}
	payload := map[string]string{"text": "*" + n.Title() + "*\n" + strings.Join(n.Details(), "\n")}
	if err := postJSON(ctx, g.client, http.MethodPost, cfg.WebhookURL, payload, nil); err != nil {
		return fmt.Errorf("google_chat: %w", err)
	}
	return nil
}

type grafanaOnCallSender struct{ client *http.Client }

// NewGrafanaOnCallAdapter posts to a Grafana OnCall formatted webhook.
// Recovery events carry state "ok" so OnCall resolves the alert group.
func NewGrafanaOnCallAdapter(client *http.Client) Uniform {
	return (&grafanaOnCallSender{client: client}).send
}

func (g *grafanaOnCallSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*GrafanaOnCallConfig](n)
	if err != nil {
		return err
	}
	state := "alerting"
	if n.Type == EventRecovery {
		state = "ok"
	}
	payload := map[string]any{
		"alert_uid":                n.dedupKey(),
		"title":                    n.Title(),
		"message":                  strings.Join(n.Details(), "\n"),
		"state":                    state,
		"link_to_upstream_details": n.Monitor.URL,
	}
	if err := postJSON(ctx, g.client, http.MethodPost, cfg.WebhookURL, payload, nil); err != nil {
		return fmt.Errorf("grafana_oncall: %w", err)
	}
	return nil
}
