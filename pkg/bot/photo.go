package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sketchmaster/sketchbot/pkg/cache"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/httputil"
	"github.com/sketchmaster/sketchbot/pkg/observability"
	"github.com/sketchmaster/sketchbot/pkg/pipeline"
)

// errTimeout marks a sketch that did not finish within ProcessTimeout.
var errTimeout = apperrors.New(apperrors.ErrCodeTimeout, "sketch timed out")

func (b *Bot) handlePhoto(ctx context.Context, req *request) {
	start := time.Now()
	b.track(ctx, req)

	if r := b.limiter(req.userID()).Reserve(); r.Delay() > 0 {
		wait := r.Delay()
		r.Cancel()
		req.log.Info("rate limited", "retry_in", wait)
		b.reply(ctx, req, slowDownText(wait), "")
		return
	}

	err := b.sketchPhoto(ctx, req)
	observability.Bot().OnPhotoProcessed(ctx, req.userID(), time.Since(start), err)
	if err != nil {
		req.log.Error("photo failed", "error", err, "duration", time.Since(start))
		return
	}

	if err := b.store.IncrementImages(ctx, req.userID()); err != nil {
		req.log.Warn("increment image count failed", "error", err)
	}
	req.log.Info("photo sketched", "duration", time.Since(start))
}

// sketchPhoto runs the processing-message → download → sketch → reply flow.
// It reports failures to the user itself and returns the cause for logging.
func (b *Bot) sketchPhoto(ctx context.Context, req *request) error {
	processing, err := b.reply(ctx, req, processingText, "")
	if err != nil {
		b.reply(ctx, req, oopsText, "")
		return fmt.Errorf("send processing message: %w", err)
	}
	fail := func(text string, err error) error {
		edit := tgbotapi.NewEditMessageText(req.msg.Chat.ID, processing.MessageID, text)
		if _, editErr := b.send(ctx, edit); editErr != nil {
			b.reply(ctx, req, text, "")
		}
		return err
	}

	photo := req.msg.Photo[len(req.msg.Photo)-1]
	if int64(photo.FileSize) > b.opts.MaxFileBytes {
		return fail(tooLargeText, apperrors.New(apperrors.ErrCodeTooLarge, "photo is %d bytes", photo.FileSize))
	}

	opts := b.opts.Pipeline
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return fail(oopsText, err)
	}

	data, err := b.sketchFile(ctx, req, photo, opts)
	switch {
	case err == nil:
	case errors.Is(err, httputil.ErrTooLarge), apperrors.Is(err, apperrors.ErrCodeTooLarge):
		return fail(tooLargeText, err)
	case apperrors.IsImageFailure(err), errors.Is(err, errTimeout):
		return fail(apologyText, err)
	default:
		b.deleteMessage(ctx, req, processing.MessageID)
		b.reply(ctx, req, oopsText, "")
		return err
	}

	upload := tgbotapi.NewPhoto(req.msg.Chat.ID, tgbotapi.FileBytes{Name: "sketch" + opts.Extension(), Bytes: data})
	upload.Caption = sketchCaption
	upload.ReplyToMessageID = req.msg.MessageID
	if _, err := b.send(ctx, upload); err != nil {
		b.deleteMessage(ctx, req, processing.MessageID)
		b.reply(ctx, req, oopsText, "")
		return fmt.Errorf("send sketch: %w", err)
	}

	b.deleteMessage(ctx, req, processing.MessageID)
	return nil
}

// sketchFile returns the encoded sketch for a Telegram photo, using the
// file-ID cache before downloading.
func (b *Bot) sketchFile(ctx context.Context, req *request, photo tgbotapi.PhotoSize, opts pipeline.Options) ([]byte, error) {
	fileKey := ""
	if photo.FileUniqueID != "" {
		fileKey = b.runner.Keyer.FileKey(photo.FileUniqueID, opts.KeyOpts())
		if data, hit, err := b.runner.Cache.Get(ctx, fileKey); err == nil && hit {
			observability.Cache().OnCacheHit(ctx, cache.KeyTypeFile)
			req.log.Debug("file cache hit", "file", photo.FileUniqueID)
			return data, nil
		}
		observability.Cache().OnCacheMiss(ctx, cache.KeyTypeFile)
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// Once handed off, the worker releases the slot when the sketch
	// finishes, even if we stopped waiting for it.
	handedOff := false
	defer func() {
		if !handedOff {
			b.sem.Release(1)
		}
	}()

	src, err := b.download(ctx, photo.FileID)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		res *pipeline.Result
		err error
	}
	done := make(chan outcome, 1)
	handedOff = true
	go func() {
		defer b.sem.Release(1)
		res, err := b.runner.Execute(context.WithoutCancel(ctx), src, opts)
		done <- outcome{res, err}
	}()

	timer := time.NewTimer(b.opts.ProcessTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if fileKey != "" {
			if err := b.runner.Cache.Set(ctx, fileKey, out.res.Data, cache.TTLFile); err != nil {
				req.log.Debug("file cache write failed", "file", photo.FileUniqueID, "error", err)
			} else {
				observability.Cache().OnCacheSet(ctx, cache.KeyTypeFile, len(out.res.Data))
			}
		}
		req.log.Debug("sketched",
			"size", fmt.Sprintf("%dx%d", out.res.Width, out.res.Height),
			"cached", out.res.CacheHit,
			"sketch", out.res.Stats.SketchTime)
		return out.res.Data, nil
	case <-timer.C:
		return nil, errTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// download fetches a Telegram file into memory.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := httputil.Retry(ctx, b.opts.RetryAttempts, b.opts.RetryDelay, func() error {
		url, err := b.api.GetFileDirectURL(fileID)
		if err != nil {
			return classify(err)
		}
		data, err = httputil.Download(ctx, b.opts.HTTPClient, url, b.opts.MaxFileBytes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	return data, nil
}

func (b *Bot) deleteMessage(ctx context.Context, req *request, messageID int) {
	if err := b.request(ctx, tgbotapi.NewDeleteMessage(req.msg.Chat.ID, messageID)); err != nil {
		req.log.Debug("delete message failed", "error", err)
	}
}
