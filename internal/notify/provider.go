package notify

import "errors"

// Provider identifies a notification transport.
type Provider string

const (
	ProviderEmail         Provider = "email"
	ProviderSlack         Provider = "slack"
	ProviderDiscord       Provider = "discord"
	ProviderWebhook       Provider = "webhook"
	ProviderTelegram      Provider = "telegram"
	ProviderPagerDuty     Provider = "pagerduty"
	ProviderOpsgenie      Provider = "opsgenie"
	ProviderNtfy          Provider = "ntfy"
	ProviderGoogleChat    Provider = "google_chat"
	ProviderGrafanaOnCall Provider = "grafana_oncall"
	ProviderSMS           Provider = "sms"
	ProviderWhatsApp      Provider = "whatsapp"
)

// Providers lists every supported provider.
var Providers = []Provider{
	ProviderEmail, ProviderSlack, ProviderDiscord, ProviderWebhook,
	ProviderTelegram, ProviderPagerDuty, ProviderOpsgenie, ProviderNtfy,
	ProviderGoogleChat, ProviderGrafanaOnCall, ProviderSMS, ProviderWhatsApp,
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// EventType is the kind of monitor state change being announced.
type EventType string

const (
	EventAlert    EventType = "alert"
	EventDegraded EventType = "degraded"
	EventRecovery EventType = "recovery"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	return e == EventAlert || e == EventDegraded || e == EventRecovery
}

// Severity maps the event onto the severity scale used by incident tools.
func (e EventType) Severity() string {
	switch e {
	case EventAlert:
		return "critical"
	case EventDegraded:
		return "warning"
	default:
		return "info"
	}
}

var (
	ErrUnknownProvider = errors.New("unknown notification provider")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrInvalidConfig   = errors.New("invalid channel config")
)
