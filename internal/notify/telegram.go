package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const telegramAPIURL = "https://api.telegram.org"

type telegramSender struct {
	client *http.Client
}

// NewTelegramAdapter sends alerts via the Telegram Bot API.
func NewTelegramAdapter(client *http.Client) Uniform {
	return (&telegramSender{client: client}).send
}

func (t *telegramSender) send(ctx context.Context, n Notification) error {
	cfg, err := configAs[*TelegramConfig](n)
	if err != nil {
		return err
	}

	base := cfg.APIURL
	if base == "" {
		base = telegramAPIURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(base, "/"), cfg.BotToken)

	payload := map[string]any{
		"chat_id":    cfg.ChatID,
		"text":       formatTelegramMessage(n, cfg.Remark),
		"parse_mode": "HTML",
	}
	if err := postJSON(ctx, t.client, http.MethodPost, url, payload, nil); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func formatTelegramMessage(n Notification, remark string) string {
	var b strings.Builder
	if remark != "" {
		fmt.Fprintf(&b, "📌 <b>[%s]</b>\n", html.EscapeString(remark))
	}
	fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(n.Title()))
	for _, line := range n.Details() {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(line))
	}
	return b.String()
}
