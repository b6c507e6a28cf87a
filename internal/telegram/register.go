// Package telegram registers a bot's inbound webhook with the Telegram Bot
// API when a telegram integration is activated. Registration is best-effort
// plumbing around the dashboard CRUD; failures are reported to the caller
// but must never fail the CRUD request itself.
package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

type Registrar struct {
	publicURL string
}

// NewRegistrar builds a registrar pointing platform callbacks at
// publicURL + /webhooks/telegram/{botID}.
func NewRegistrar(publicURL string) *Registrar {
	return &Registrar{publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (r *Registrar) WebhookURL(botID int64) string {
	return fmt.Sprintf("%s/webhooks/telegram/%d", r.publicURL, botID)
}

// Register validates the credential token against the Bot API and points the
// bot's webhook at this service.
func (r *Registrar) Register(botID int64, token string) (string, error) {
	bot, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return "", fmt.Errorf("create telegram client: %w", err)
	}

	url := r.WebhookURL(botID)
	if _, err := bot.SetWebhook(url, &gotgbot.SetWebhookOpts{DropPendingUpdates: false}); err != nil {
		return "", fmt.Errorf("set telegram webhook: %w", err)
	}
	return url, nil
}

// Unregister drops the webhook, typically on deactivation or deletion.
func (r *Registrar) Unregister(token string) error {
	bot, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return fmt.Errorf("create telegram client: %w", err)
	}
	if _, err := bot.DeleteWebhook(&gotgbot.DeleteWebhookOpts{}); err != nil {
		return fmt.Errorf("delete telegram webhook: %w", err)
	}
	return nil
}
