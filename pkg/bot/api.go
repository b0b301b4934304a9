package bot

import (
	"context"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/httputil"
)

// API is the subset of the Telegram Bot API client the bot uses.
// *tgbotapi.BotAPI implements it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ API = (*tgbotapi.BotAPI)(nil)

// NewAPI logs in with token. A nil client uses http.DefaultClient.
func NewAPI(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	if client == nil {
		client = http.DefaultClient
	}
	return tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
}

// classify marks Telegram errors that are worth retrying: 429 (with the
// server's retry_after), 5xx, and transport failures. Other API errors such
// as 400 or 403 (user blocked the bot) are permanent. Transport errors name
// the request URL, so the bot token is redacted first.
func classify(err error) error {
	if err == nil {
		return nil
	}
	err = httputil.RedactError(err)
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.Code == http.StatusTooManyRequests:
			after := secondsToDuration(tgErr.RetryAfter)
			return &httputil.RetryableError{
				Err:   &apperrors.RateLimitedError{RetryAfter: after, Cause: err},
				After: after,
			}
		case tgErr.Code >= 500:
			return &httputil.RetryableError{Err: err}
		default:
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &httputil.RetryableError{Err: err}
}
