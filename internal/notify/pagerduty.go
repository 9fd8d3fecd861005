package notify

import (
	"context"
	"fmt"
	"net/http"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyAdapter talks to the Events API v2. Alerts and degradations
// trigger the monitor's dedup key, recoveries resolve it.
type PagerDutyAdapter struct {
	client *http.Client
}

func NewPagerDutyAdapter(client *http.Client) *PagerDutyAdapter {
	return &PagerDutyAdapter{client: client}
}

func (p *PagerDutyAdapter) SendAlert(ctx context.Context, n Notification) error {
	n.Type = EventAlert
	return p.enqueue(ctx, n, "trigger")
}

func (p *PagerDutyAdapter) SendDegraded(ctx context.Context, n Notification) error {
	n.Type = EventDegraded
	return p.enqueue(ctx, n, "trigger")
}

func (p *PagerDutyAdapter) SendRecovery(ctx context.Context, n Notification) error {
	n.Type = EventRecovery
	return p.enqueue(ctx, n, "resolve")
}

func (p *PagerDutyAdapter) enqueue(ctx context.Context, n Notification, action string) error {
	cfg, err := configAs[*PagerDutyConfig](n)
	if err != nil {
		return err
	}
	url := cfg.EventsURL
	if url == "" {
		url = pagerDutyEventsURL
	}

	event := map[string]any{
		"routing_key":  cfg.IntegrationKey,
		"event_action": action,
		"dedup_key":    n.dedupKey(),
	}
	if action == "trigger" {
		details := map[string]any{
			"monitor_id":     n.Monitor.ID,
			"cron_timestamp": n.CronTimestamp,
		}
		if n.StatusCode != 0 {
			details["status_code"] = n.StatusCode
		}
		if n.Message != "" {
			details["message"] = n.Message
		}
		event["payload"] = map[string]any{
			"summary":        n.Title(),
			"source":         n.Monitor.URL,
			"severity":       n.Type.Severity(),
			"timestamp":      n.Time().Format("2006-01-02T15:04:05.000Z07:00"),
			"custom_details": details,
		}
	}

	if err := postJSON(ctx, p.client, http.MethodPost, url, event, nil); err != nil {
		return fmt.Errorf("pagerduty %s: %w", action, err)
	}
	return nil
}
