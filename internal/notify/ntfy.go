package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const ntfyServerURL = "https://ntfy.sh"

type ntfySender struct {
	client *http.Client
}

// NewNtfyAdapter publishes plain-text messages to a ntfy topic.
func NewNtfyAdapter(client *http.Client) Uniform {
	return (&ntfySender{client: client}).send
}

func ntfyPriority(t EventType) (priority, tags string) {
	switch t {
	case EventAlert:
		return "urgent", "rotating_light"
	case EventDegraded:
		return "high", "warning"
	default:
		return "default", "white_check_mark"
	}
}

func (s *ntfySender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*NtfyConfig](n)
	if err != nil {
		return err
	}
	server := cfg.ServerURL
	if server == "" {
		server = ntfyServerURL
	}
	url := strings.TrimSuffix(server, "/") + "/" + cfg.Topic

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(strings.Join(n.Details(), "\n")))
	if err != nil {
		return fmt.Errorf("ntfy: create request: %w", err)
	}
	priority, tags := ntfyPriority(n.Type)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", n.Monitor.Name+" "+n.verb())
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if n.Monitor.URL != "" {
		req.Header.Set("Click", n.Monitor.URL)
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	if err := do(s.client, req); err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	return nil
}
