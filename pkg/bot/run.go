package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// PollTimeout is the long-polling timeout in seconds.
const PollTimeout = 30

// Run receives updates by long polling until ctx is cancelled, then waits
// for in-flight updates. Any webhook is removed first, since Telegram
// refuses getUpdates while one is set.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.request(ctx, tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("delete webhook failed", "error", err)
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = PollTimeout
	updates := b.api.GetUpdatesChan(cfg)
	b.logger.Info("polling for updates", "workers", b.opts.Workers)

	defer b.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("stopped polling")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.Dispatch(ctx, u)
		}
	}
}

// WebhookPath returns the path Telegram posts updates to.
func WebhookPath(secret string) string {
	return "/webhook/" + secret
}

// SetWebhook registers baseURL + WebhookPath(secret) with Telegram.
func (b *Bot) SetWebhook(ctx context.Context, baseURL, secret string) error {
	link := strings.TrimRight(baseURL, "/") + WebhookPath(secret)
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	if err := b.request(ctx, wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	b.logger.Info("webhook registered", "url", strings.TrimRight(baseURL, "/")+"/webhook/<secret>")
	return nil
}

// RegisterCommands publishes the public command list shown in Telegram's menu.
func (b *Bot) RegisterCommands(ctx context.Context) error {
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start the bot"},
		tgbotapi.BotCommand{Command: "help", Description: "How to use the bot"},
		tgbotapi.BotCommand{Command: "myid", Description: "Show your Telegram ID"},
	)
	return b.request(ctx, cmds)
}
