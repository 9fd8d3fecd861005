package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type webhookSender struct {
	client *http.Client
}

// NewWebhookAdapter sends the event as a flat JSON document.
func NewWebhookAdapter(client *http.Client) Uniform {
	return (&webhookSender{client: client}).send
}

func (w *webhookSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*WebhookConfig](n)
	if err != nil {
		return err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	payload := map[string]any{
		"monitor_id":     n.Monitor.ID,
		"monitor_name":   n.Monitor.Name,
		"target":         n.Monitor.URL,
		"type":           n.Type,
		"status_code":    n.StatusCode,
		"message":        n.Message,
		"latency_ms":     n.Latency.Milliseconds(),
		"region":         n.Region,
		"incident_id":    n.IncidentID,
		"cron_timestamp": n.CronTimestamp,
	}
	if cfg.Remark != "" {
		payload["remark"] = cfg.Remark
	}

	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	if err := postJSON(ctx, w.client, method, cfg.URL, payload, header); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
