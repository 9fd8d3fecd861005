package notify

import (
	"context"
	"net/http"
	"time"
)

// MonitorInfo is the monitor metadata passed to adapters.
type MonitorInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Notification is the normalized event handed to a provider adapter.
type Notification struct {
	Monitor       MonitorInfo
	Channel       Channel
	Type          EventType
	StatusCode    int
	Message       string
	IncidentID    string
	CronTimestamp int64 // unix milliseconds of the scheduling tick
	Latency       time.Duration
	Region        string
}

// Adapter delivers notifications through one provider. Implementations must
// either complete or return an error; they must honor ctx cancellation.
type Adapter interface {
	SendAlert(ctx context.Context, n Notification) error
	SendDegraded(ctx context.Context, n Notification) error
	SendRecovery(ctx context.Context, n Notification) error
}

// SendFunc formats and delivers a notification of any event type.
type SendFunc func(ctx context.Context, n Notification) error

// Uniform adapts a provider that renders every event type the same way.
type Uniform SendFunc

func (f Uniform) SendAlert(ctx context.Context, n Notification) error {
	n.Type = EventAlert
	return f(ctx, n)
}

func (f Uniform) SendDegraded(ctx context.Context, n Notification) error {
	n.Type = EventDegraded
	return f(ctx, n)
}

func (f Uniform) SendRecovery(ctx context.Context, n Notification) error {
	n.Type = EventRecovery
	return f(ctx, n)
}

// send routes n to the adapter method matching its event type.
func send(ctx context.Context, a Adapter, n Notification) error {
	switch n.Type {
	case EventAlert:
		return a.SendAlert(ctx, n)
	case EventDegraded:
		return a.SendDegraded(ctx, n)
	case EventRecovery:
		return a.SendRecovery(ctx, n)
	default:
		return ErrUnknownEvent
	}
}

// Registry maps providers to their adapters.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Provider]Adapter)}
}

// Register installs a for provider p, replacing any previous adapter.
func (r *Registry) Register(p Provider, a Adapter) {
	r.adapters[p] = a
}

// Adapter returns the adapter registered for p.
func (r *Registry) Adapter(p Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// DefaultRegistry registers the built-in adapter of every provider.
func DefaultRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	r := NewRegistry()
	r.Register(ProviderEmail, NewEmailAdapter())
	r.Register(ProviderSlack, NewSlackAdapter(client))
	r.Register(ProviderDiscord, NewDiscordAdapter(client))
	r.Register(ProviderWebhook, NewWebhookAdapter(client))
	r.Register(ProviderTelegram, NewTelegramAdapter(client))
	r.Register(ProviderPagerDuty, NewPagerDutyAdapter(client))
	r.Register(ProviderOpsgenie, NewOpsgenieAdapter(client))
	r.Register(ProviderNtfy, NewNtfyAdapter(client))
	r.Register(ProviderGoogleChat, NewGoogleChatAdapter(client))
	r.Register(ProviderGrafanaOnCall, NewGrafanaOnCallAdapter(client))
	r.Register(ProviderSMS, NewTwilioAdapter(client))
	r.Register(ProviderWhatsApp, NewTwilioAdapter(client))
	return r
}
