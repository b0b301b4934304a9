// Package bot implements the Sketch Master Telegram bot.
//
// The bot turns photos into pencil sketches and keeps per-user usage
// statistics. Admins get /stats and /broadcast.
//
// # Updates
//
// [Bot.HandleUpdate] processes one update synchronously. [Bot.Dispatch]
// runs it in a goroutine and is what the polling loop ([Bot.Run]) and the
// webhook handler use; [Bot.Wait] blocks until dispatched updates finish.
//
// # Concurrency
//
// At most Options.Workers photos are sketched at once. Each user may send
// Options.RateBurst photos in quick succession, then one per
// Options.RateInterval. Broadcasts fan out with bounded concurrency under a
// global messages-per-second limit. Sends are retried on 429 and 5xx.
package bot

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sketchmaster/sketchbot/pkg/httputil"
	"github.com/sketchmaster/sketchbot/pkg/observability"
	"github.com/sketchmaster/sketchbot/pkg/pipeline"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

// Options configures a Bot. Zero values select the defaults.
type Options struct {
	// AdminID is the Telegram user allowed to run /stats and /broadcast.
	// Zero disables admin commands.
	AdminID int64

	Workers        int           // default 4
	ProcessTimeout time.Duration // default 60s

	RateInterval time.Duration // default 3s
	RateBurst    int           // default 2

	BroadcastRate        float64 // messages per second, default 25
	BroadcastConcurrency int     // default 8

	// MaxFileBytes rejects larger photos. Default 20 MiB (the Bot API limit).
	MaxFileBytes int64

	RetryAttempts int           // default 3
	RetryDelay    time.Duration // default 1s

	// Pipeline holds the output options for sketches.
	Pipeline pipeline.Options

	HTTPClient *http.Client
	Logger     *log.Logger

	// Now overrides time.Now for /stats.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = 60 * time.Second
	}
	if o.RateInterval <= 0 {
		o.RateInterval = 3 * time.Second
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 2
	}
	if o.BroadcastRate <= 0 {
		o.BroadcastRate = 25
	}
	if o.BroadcastConcurrency <= 0 {
		o.BroadcastConcurrency = 8
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = 20 << 20
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Bot routes Telegram updates to handlers.
type Bot struct {
	api    API
	runner *pipeline.Runner
	store  users.Store
	opts   Options
	logger *log.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// New creates a bot. The runner's cache also stores sketches by Telegram
// file ID, so a forwarded photo is not downloaded twice.
func New(api API, runner *pipeline.Runner, store users.Store, opts Options) *Bot {
	opts.setDefaults()
	if runner == nil {
		runner = pipeline.NewRunner(nil, nil, opts.Logger)
	}
	if opts.Pipeline.Logger == nil {
		opts.Pipeline.Logger = opts.Logger
	}
	return &Bot{
		api:      api,
		runner:   runner,
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		limiters: make(map[int64]*rate.Limiter),
	}
}

// request carries per-update state through the handlers.
type request struct {
	id  string
	msg *tgbotapi.Message
	log *log.Logger
}

func (r *request) userID() int64 {
	if r.msg.From == nil {
		return 0
	}
	return r.msg.From.ID
}

// displayName is the username, or the first name for users without one.
func (r *request) displayName() string {
	if r.msg.From == nil {
		return ""
	}
	if r.msg.From.UserName != "" {
		return r.msg.From.UserName
	}
	return r.msg.From.FirstName
}

// Dispatch handles u in a new goroutine. In-flight updates are not
// cancelled when ctx is; they run to completion (bounded by
// ProcessTimeout) so users still get their sketch during shutdown.
func (b *Bot) Dispatch(ctx context.Context, u tgbotapi.Update) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleUpdate(ctx, u)
	}()
}

// Wait blocks until all dispatched updates have been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	id := uuid.NewString()
	req := &request{id: id, msg: msg}
	req.log = b.logger.With("req", id[:8], "user", req.userID())

	kind := messageKind(msg)
	observability.Bot().OnUpdate(ctx, kind, req.userID())
	req.log.Debug("update", "kind", kind, "update_id", u.UpdateID)

	defer func() {
		if r := recover(); r != nil {
			req.log.Error("handler panicked", "panic", r)
			b.reply(ctx, req, oopsText, "")
		}
	}()

	switch kind {
	case "command":
		b.handleCommand(ctx, req)
	case "photo":
		b.handlePhoto(ctx, req)
	case "image_document":
		b.reply(ctx, req, documentRejectionText, tgbotapi.ModeMarkdown)
	case "document", "video", "audio", "voice":
		b.reply(ctx, req, otherFileRejectionText, "")
	}
}

// messageKind classifies a message for routing and hooks.
func messageKind(msg *tgbotapi.Message) string {
	switch {
	case msg.IsCommand():
		return "command"
	case len(msg.Photo) > 0:
		return "photo"
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		return "image_document"
	case msg.Document != nil:
		return "document"
	case msg.Video != nil:
		return "video"
	case msg.Audio != nil:
		return "audio"
	case msg.Voice != nil:
		return "voice"
	case msg.Text != "":
		return "text"
	default:
		return "other"
	}
}

func (b *Bot) handleCommand(ctx context.Context, req *request) {
	cmd := req.msg.Command()
	req.log.Info("command", "cmd", cmd)

	switch cmd {
	case "start":
		b.track(ctx, req)
		name := ""
		if req.msg.From != nil {
			name = req.msg.From.FirstName
		}
		b.reply(ctx, req, greetingText(name), "")
	case "help":
		b.reply(ctx, req, helpText, "")
	case "myid":
		b.reply(ctx, req, myIDText(req.userID()), tgbotapi.ModeMarkdown)
	case "stats":
		if !b.isAdmin(req) {
			b.reply(ctx, req, adminOnlyText, "")
			return
		}
		b.handleStats(ctx, req)
	case "broadcast":
		if !b.isAdmin(req) {
			b.reply(ctx, req, adminOnlyText, "")
			return
		}
		b.handleBroadcast(ctx, req)
	default:
		req.log.Debug("unknown command", "cmd", cmd)
	}
}

func (b *Bot) isAdmin(req *request) bool {
	return b.opts.AdminID != 0 && req.userID() == b.opts.AdminID
}

func (b *Bot) handleStats(ctx context.Context, req *request) {
	st, err := users.Summarize(ctx, b.store, b.opts.Now())
	if err != nil {
		req.log.Error("stats failed", "error", err)
		b.reply(ctx, req, oopsText, "")
		return
	}
	b.reply(ctx, req, statsText(st), tgbotapi.ModeMarkdown)
}

// track records the sender. Failures are logged; they never block a reply.
func (b *Bot) track(ctx context.Context, req *request) {
	if req.msg.From == nil {
		return
	}
	if err := b.store.Track(ctx, req.msg.From.ID, req.displayName()); err != nil {
		req.log.Warn("track user failed", "error", err)
	}
}

// reply sends text to the message's chat.
func (b *Bot) reply(ctx context.Context, req *request, text, parseMode string) (tgbotapi.Message, error) {
	m := tgbotapi.NewMessage(req.msg.Chat.ID, text)
	m.ParseMode = parseMode
	sent, err := b.send(ctx, m)
	if err != nil {
		req.log.Warn("reply failed", "error", err)
	}
	return sent, err
}

// send delivers c, retrying transient failures.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var sent tgbotapi.Message
	err := httputil.Retry(ctx, b.opts.RetryAttempts, b.opts.RetryDelay, func() error {
		m, err := b.api.Send(c)
		if err != nil {
			return classify(err)
		}
		sent = m
		return nil
	})
	return sent, err
}

// request performs a call whose result is not a message (delete, webhook).
func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) error {
	return httputil.Retry(ctx, b.opts.RetryAttempts, b.opts.RetryDelay, func() error {
		_, err := b.api.Request(c)
		return classify(err)
	})
}

// limiter returns the user's photo rate limiter.
func (b *Bot) limiter(userID int64) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(b.opts.RateInterval), b.opts.RateBurst)
		b.limiters[userID] = lim
	}
	return lim
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
