package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const twilioAPIURL = "https://api.twilio.com"

type twilioSender struct {
	client *http.Client
}

// NewTwilioAdapter sends SMS and WhatsApp messages with the Twilio Messages
// API. The channel config decides which of the two is used.
func NewTwilioAdapter(client *http.Client) Uniform {
	return (&twilioSender{client: client}).send
}

func (t *twilioSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*TwilioConfig](n)
	if err != nil {
		return err
	}
	base := cfg.APIURL
	if base == "" {
		base = twilioAPIURL
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimSuffix(base, "/"), url.PathEscape(cfg.AccountSID))

	from, to := cfg.From, cfg.To
	if cfg.Channel == ProviderWhatsApp {
		from, to = "whatsapp:"+from, "whatsapp:"+to
	}
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", n.Text())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", cfg.Channel, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	if err := do(t.client, req); err != nil {
		return fmt.Errorf("%s: %w", cfg.Channel, err)
	}
	return nil
}
