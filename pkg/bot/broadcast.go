package bot

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/observability"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

// BroadcastResult reports the outcome of [Bot.Broadcast].
type BroadcastResult struct {
	ID       string
	Total    int
	Sent     int
	Failed   int
	Duration time.Duration
}

func (b *Bot) handleBroadcast(ctx context.Context, req *request) {
	text := strings.TrimSpace(req.msg.CommandArguments())
	if text == "" {
		b.reply(ctx, req, broadcastUsageText, tgbotapi.ModeMarkdown)
		return
	}
	if err := apperrors.ValidateBroadcastMessage(text); err != nil {
		b.reply(ctx, req, invalidBroadcastText(apperrors.UserMessage(err)), "")
		return
	}

	list, err := b.store.List(ctx)
	if err != nil {
		req.log.Error("list users failed", "error", err)
		b.reply(ctx, req, oopsText, "")
		return
	}

	status, err := b.reply(ctx, req, broadcastStartText(len(list)), "")
	if err != nil {
		return
	}

	res, err := b.broadcastTo(ctx, list, text)
	if err != nil {
		req.log.Error("broadcast failed", "error", err)
	}
	edit := tgbotapi.NewEditMessageText(req.msg.Chat.ID, status.MessageID, broadcastDoneText(res))
	if _, err := b.send(ctx, edit); err != nil {
		req.log.Warn("update broadcast status failed", "error", err)
	}
}

// Broadcast sends text, prefixed with the admin banner, to every stored
// user. Per-user failures (blocked bot, deleted account) are counted, not
// returned. The error is non-nil only if the user list cannot be read or
// ctx ends early.
func (b *Bot) Broadcast(ctx context.Context, text string) (BroadcastResult, error) {
	list, err := b.store.List(ctx)
	if err != nil {
		return BroadcastResult{}, err
	}
	return b.broadcastTo(ctx, list, text)
}

func (b *Bot) broadcastTo(ctx context.Context, list []users.User, text string) (BroadcastResult, error) {
	start := time.Now()
	res := BroadcastResult{ID: uuid.NewString(), Total: len(list)}
	logger := b.logger.With("broadcast", res.ID[:8])
	logger.Info("broadcast started", "users", res.Total)

	limiter := rate.NewLimiter(rate.Limit(b.opts.BroadcastRate), 1)
	body := broadcastMessageText(text)

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.BroadcastConcurrency)
	for _, u := range list {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				failed.Add(1)
				return nil
			}
			m := tgbotapi.NewMessage(u.ID, body)
			m.ParseMode = tgbotapi.ModeMarkdown
			if _, err := b.send(gctx, m); err != nil {
				failed.Add(1)
				logger.Debug("broadcast send failed", "to", u.ID, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Sent = int(sent.Load())
	res.Failed = int(failed.Load())
	res.Duration = time.Since(start)
	observability.Bot().OnBroadcast(ctx, res.Sent, res.Failed, res.Duration)
	logger.Info("broadcast finished",
		"sent", res.Sent,
		"failed", res.Failed,
		"duration", res.Duration)

	return res, ctx.Err()
}
