package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

// ChannelRecord is a channel as stored: the provider-specific config is an
// opaque JSON blob until decoded.
type ChannelRecord struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Provider Provider        `json:"provider"`
	Data     json.RawMessage `json:"data"`
}

// Channel is a decoded channel whose Config matches its Provider.
type Channel struct {
	ID       int64
	Name     string
	Provider Provider
	Config   ProviderConfig
}

// ProviderConfig is the strongly-typed configuration of one provider.
type ProviderConfig interface {
	Provider() Provider
	Validate() error
}

// DecodeChannel decodes and validates the config of rec.
func DecodeChannel(rec ChannelRecord) (Channel, error) {
	cfg, err := DecodeConfig(rec.Provider, rec.Data)
	if err != nil {
		return Channel{}, err
	}
	return Channel{ID: rec.ID, Name: rec.Name, Provider: rec.Provider, Config: cfg}, nil
}

// DecodeConfig parses data into the config type of provider p and validates it.
func DecodeConfig(p Provider, data []byte) (ProviderConfig, error) {
	var cfg ProviderConfig
	switch p {
	case ProviderEmail:
		cfg = &EmailConfig{}
	case ProviderSlack:
		cfg = &SlackConfig{}
	case ProviderDiscord:
		cfg = &DiscordConfig{}
	case ProviderWebhook:
		cfg = &WebhookConfig{}
	case ProviderTelegram:
		cfg = &TelegramConfig{}
	case ProviderPagerDuty:
		cfg = &PagerDutyConfig{}
	case ProviderOpsgenie:
		cfg = &OpsgenieConfig{}
	case ProviderNtfy:
		cfg = &NtfyConfig{}
	case ProviderGoogleChat:
		cfg = &GoogleChatConfig{}
	case ProviderGrafanaOnCall:
		cfg = &GrafanaOnCallConfig{}
	case ProviderSMS:
		cfg = &TwilioConfig{Channel: ProviderSMS}
	case ProviderWhatsApp:
		cfg = &TwilioConfig{Channel: ProviderWhatsApp}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}

	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, p, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// EmailConfig delivers through an SMTP relay.
type EmailConfig struct {
	To       []string `json:"to"`
	From     string   `json:"from"`
	Host     string   `json:"smtp_host"`
	Port     int      `json:"smtp_port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
}

func (c *EmailConfig) Provider() Provider { return ProviderEmail }

func (c *EmailConfig) Validate() error {
	var errs []string
	if len(c.To) == 0 {
		errs = append(errs, "email: to is required")
	}
	for _, addr := range c.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("email: invalid recipient %q", addr))
		}
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		errs = append(errs, "email: from must be a valid address")
	}
	if c.Host == "" {
		errs = append(errs, "email: smtp_host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "email: smtp_port must be between 1 and 65535")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// SlackConfig posts to an incoming webhook.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *SlackConfig) Provider() Provider { return ProviderSlack }

func (c *SlackConfig) Validate() error {
	if !validURL(c.WebhookURL) {
		return errors.New("slack: webhook_url must be a valid http(s) URL")
	}
	return nil
}

// DiscordConfig posts to a channel webhook.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
}

func (c *DiscordConfig) Provider() Provider { return ProviderDiscord }

func (c *DiscordConfig) Validate() error {
	if !validURL(c.WebhookURL) {
		return errors.New("discord: webhook_url must be a valid http(s) URL")
	}
	return nil
}

// WebhookConfig sends the raw event as JSON to an arbitrary endpoint.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Remark  string            `json:"remark,omitempty"`
}

func (c *WebhookConfig) Provider() Provider { return ProviderWebhook }

func (c *WebhookConfig) Validate() error {
	if !validURL(c.URL) {
		return errors.New("webhook: url must be a valid http(s) URL")
	}
	switch strings.ToUpper(c.Method) {
	case "", "POST", "PUT", "PATCH":
	default:
		return fmt.Errorf("webhook: method must be POST, PUT or PATCH (got %q)", c.Method)
	}
	return nil
}

// TelegramConfig uses the Bot API.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Remark   string `json:"remark,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

func (c *TelegramConfig) Provider() Provider { return ProviderTelegram }

func (c *TelegramConfig) Validate() error {
	if c.BotToken == "" {
		return errors.New("telegram: bot_token is required")
	}
	if c.ChatID == "" {
		return errors.New("telegram: chat_id is required")
	}
	return nil
}

// PagerDutyConfig uses the Events API v2.
type PagerDutyConfig struct {
	IntegrationKey string `json:"integration_key"`
	EventsURL      string `json:"events_url,omitempty"`
}

func (c *PagerDutyConfig) Provider() Provider { return ProviderPagerDuty }

func (c *PagerDutyConfig) Validate() error {
	if c.IntegrationKey == "" {
		return errors.New("pagerduty: integration_key is required")
	}
	if c.EventsURL != "" && !validURL(c.EventsURL) {
		return errors.New("pagerduty: events_url must be a valid http(s) URL")
	}
	return nil
}

// OpsgenieConfig uses the Alert API.
type OpsgenieConfig struct {
	APIKey string `json:"api_key"`
	Region string `json:"region,omitempty"` // "us" (default) or "eu"
	APIURL string `json:"api_url,omitempty"`
}

func (c *OpsgenieConfig) Provider() Provider { return ProviderOpsgenie }

func (c *OpsgenieConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("opsgenie: api_key is required")
	}
	if c.Region != "" && c.Region != "us" && c.Region != "eu" {
		return fmt.Errorf("opsgenie: region must be us or eu (got %q)", c.Region)
	}
	return nil
}

// NtfyConfig publishes to a ntfy topic.
type NtfyConfig struct {
	Topic     string `json:"topic"`
	ServerURL string `json:"server_url,omitempty"`
	Token     string `json:"token,omitempty"`
}

func (c *NtfyConfig) Provider() Provider { return ProviderNtfy }

func (c *NtfyConfig) Validate() error {
	if c.Topic == "" || strings.Contains(c.Topic, "/") {
		return errors.New("ntfy: topic is required and must not contain '/'")
	}
	if c.ServerURL != "" && !validURL(c.ServerURL) {
		return errors.New("ntfy: server_url must be a valid http(s) URL")
	}
	return nil
}

// GoogleChatConfig posts to a space webhook.
type GoogleChatConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *GoogleChatConfig) Provider() Provider { return ProviderGoogleChat }

func (c *GoogleChatConfig) Validate() error {
	if !validURL(c.WebhookURL) {
		return errors.New("google_chat: webhook_url must be a valid http(s) URL")
	}
	return nil
}

// GrafanaOnCallConfig posts to a formatted-webhook integration.
type GrafanaOnCallConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *GrafanaOnCallConfig) Provider() Provider { return ProviderGrafanaOnCall }

func (c *GrafanaOnCallConfig) Validate() error {
	if !validURL(c.WebhookURL) {
		return errors.New("grafana_oncall: webhook_url must be a valid http(s) URL")
	}
	return nil
}

// TwilioConfig sends SMS or WhatsApp messages through Twilio.
type TwilioConfig struct {
	Channel    Provider `json:"-"`
	AccountSID string   `json:"account_sid"`
	AuthToken  string   `json:"auth_token"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	APIURL     string   `json:"api_url,omitempty"`
}

func (c *TwilioConfig) Provider() Provider { return c.Channel }

func (c *TwilioConfig) Validate() error {
	var errs []string
	if c.AccountSID == "" {
		errs = append(errs, "account_sid is required")
	}
	if c.AuthToken == "" {
		errs = append(errs, "auth_token is required")
	}
	if !strings.HasPrefix(c.From, "+") {
		errs = append(errs, "from must be an E.164 number")
	}
	if !strings.HasPrefix(c.To, "+") {
		errs = append(errs, "to must be an E.164 number")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %s", c.Channel, strings.Join(errs, "; "))
	}
	return nil
}
