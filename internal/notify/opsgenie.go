package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var opsgenieAPIURL = map[string]string{
	"us": "https://api.opsgenie.com",
	"eu": "https://api.eu.opsgenie.com",
}

// OpsgenieAdapter creates an alert aliased to the monitor and closes it on
// recovery.
type OpsgenieAdapter struct {
	client *http.Client
}

func NewOpsgenieAdapter(client *http.Client) *OpsgenieAdapter {
	return &OpsgenieAdapter{client: client}
}

func (o *OpsgenieAdapter) SendAlert(ctx context.Context, n Notification) error {
	n.Type = EventAlert
	return o.create(ctx, n, "P1")
}

func (o *OpsgenieAdapter) SendDegraded(ctx context.Context, n Notification) error {
	n.Type = EventDegraded
	return o.create(ctx, n, "P3")
}

func (o *OpsgenieAdapter) SendRecovery(ctx context.Context, n Notification) error {
	n.Type = EventRecovery
	cfg, base, err := o.config(n)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/v2/alerts/%s/close?identifierType=alias", base, url.PathEscape(n.dedupKey()))
	payload := map[string]string{"source": "uptrack", "note": n.Title()}
	if err := postJSON(ctx, o.client, http.MethodPost, endpoint, payload, o.header(cfg)); err != nil {
		return fmt.Errorf("opsgenie close: %w", err)
	}
	return nil
}

func (o *OpsgenieAdapter) create(ctx context.Context, n Notification, priority string) error {
	cfg, base, err := o.config(n)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"message":     truncate(n.Title(), 130),
		"alias":       n.dedupKey(),
		"description": strings.Join(n.Details(), "\n"),
		"priority":    priority,
		"source":      "uptrack",
		"tags":        []string{string(n.Type)},
	}
	if err := postJSON(ctx, o.client, http.MethodPost, base+"/v2/alerts", payload, o.header(cfg)); err != nil {
		return fmt.Errorf("opsgenie create: %w", err)
	}
	return nil
}

func (o *OpsgenieAdapter) config(n Notification) (*OpsgenieConfig, string, error) {
	cfg, err := configAs[*OpsgenieConfig](n)
	if err != nil {
		return nil, "", err
	}
	base := cfg.APIURL
	if base == "" {
		region := cfg.Region
		if region == "" {
			region = "us"
		}
		base = opsgenieAPIURL[region]
	}
	return cfg, strings.TrimSuffix(base, "/"), nil
}

func (o *OpsgenieAdapter) header(cfg *OpsgenieConfig) http.Header {
	h := http.Header{}
	h.Set("Authorization", "GenieKey "+cfg.APIKey)
	return h
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
