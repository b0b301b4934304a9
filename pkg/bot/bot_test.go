package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/goleak"

	"github.com/sketchmaster/sketchbot/pkg/cache"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/httputil"
	"github.com/sketchmaster/sketchbot/pkg/pipeline"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const adminID = 99

// sentMsg is what the fake API recorded for one Send call.
type sentMsg struct {
	kind      string // message, edit, photo
	chatID    int64
	text      string
	parseMode string
	messageID int
	replyTo   int
	photo     []byte
}

type fakeAPI struct {
	mu        sync.Mutex
	sent      []sentMsg
	requests  []tgbotapi.Chattable
	nextID    int
	sendErrs  []error
	failChats map[int64]error
	fileURL   string
	updates   chan tgbotapi.Update
	stopped   bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{failChats: map[int64]error{}, nextID: 100, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}

	var s sentMsg
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		s = sentMsg{kind: "message", chatID: m.ChatID, text: m.Text, parseMode: m.ParseMode}
	case tgbotapi.EditMessageTextConfig:
		s = sentMsg{kind: "edit", chatID: m.ChatID, text: m.Text, messageID: m.MessageID}
	case tgbotapi.PhotoConfig:
		fb, _ := m.File.(tgbotapi.FileBytes)
		s = sentMsg{kind: "photo", chatID: m.ChatID, text: m.Caption, replyTo: m.ReplyToMessageID, photo: fb.Bytes}
	default:
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if err, ok := f.failChats[s.chatID]; ok {
		return tgbotapi.Message{}, err
	}

	f.nextID++
	if s.kind != "edit" {
		s.messageID = f.nextID
	}
	f.sent = append(f.sent, s)
	return tgbotapi.Message{MessageID: s.messageID, Chat: &tgbotapi.Chat{ID: s.chatID}}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileURL + "/file/" + fileID, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func (f *fakeAPI) deletes() []tgbotapi.DeleteMessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.DeleteMessageConfig
	for _, r := range f.requests {
		if d, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			out = append(out, d)
		}
	}
	return out
}

// fileServer serves the Telegram file download endpoint.
type fileServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newFileServer(t *testing.T) *fileServer {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 8), uint8(y * 10), 120, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	photo := buf.Bytes()

	fs := &fileServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		switch r.URL.Path {
		case "/file/photo", "/file/photo2":
			w.Write(photo)
		case "/file/garbage":
			w.Write([]byte("this is not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

type harness struct {
	bot   *Bot
	api   *fakeAPI
	store *users.FileStore
	files *fileServer
}

func newHarness(t *testing.T, modify func(*Options)) *harness {
	t.Helper()
	api := newFakeAPI()
	files := newFileServer(t)
	api.fileURL = files.URL

	store, err := users.NewFileStore(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatal(err)
	}
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{
		AdminID:       adminID,
		RetryDelay:    time.Millisecond,
		BroadcastRate: 1000,
		RateBurst:     10,
		HTTPClient:    files.Client(),
	}
	if modify != nil {
		modify(&opts)
	}
	b := New(api, pipeline.NewRunner(fc, nil, nil), store, opts)
	return &harness{bot: b, api: api, store: store, files: files}
}

func commandUpdate(from int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: from, FirstName: "Ada", UserName: "ada"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func photoUpdate(from int64, fileID, uniqueID string, size int) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{
		MessageID: 20,
		From:      &tgbotapi.User{ID: from, FirstName: "Grace"},
		Chat:      &tgbotapi.Chat{ID: from},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "thumb", FileUniqueID: "thumb-u", Width: 8, Height: 6, FileSize: 100},
			{FileID: fileID, FileUniqueID: uniqueID, Width: 32, Height: 24, FileSize: size},
		},
	}}
}

func TestStart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, commandUpdate(5, "/start"))

	msgs := h.api.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].text, "Hello Ada!") {
		t.Fatalf("messages = %+v", msgs)
	}
	u, err := h.store.Get(ctx, 5)
	if err != nil {
		t.Fatalf("user not tracked: %v", err)
	}
	if u.Username != "ada" {
		t.Errorf("username = %q, want ada", u.Username)
	}
}

func TestHelpAndMyID(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, commandUpdate(5, "/help"))
	h.bot.HandleUpdate(ctx, commandUpdate(5, "/myid"))
	h.bot.HandleUpdate(ctx, commandUpdate(5, "/unknown"))

	msgs := h.api.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (unknown commands are ignored)", len(msgs))
	}
	if msgs[0].text != helpText {
		t.Errorf("help = %q", msgs[0].text)
	}
	if msgs[1].text != "🆔 Your Telegram ID: `5`" || msgs[1].parseMode != tgbotapi.ModeMarkdown {
		t.Errorf("myid = %+v", msgs[1])
	}

	// /help does not track users
	if _, err := h.store.Get(ctx, 5); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestAdminGating(t *testing.T) {
	tests := []struct {
		name    string
		admin   int64
		from    int64
		allowed bool
	}{
		{"admin", adminID, adminID, true},
		{"other user", adminID, 5, false},
		{"admin unset", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AdminID = tt.admin })
			h.bot.HandleUpdate(context.Background(), commandUpdate(tt.from, "/stats"))

			msgs := h.api.messages()
			if len(msgs) != 1 {
				t.Fatalf("messages = %+v", msgs)
			}
			denied := msgs[0].text == adminOnlyText
			if denied == tt.allowed {
				t.Errorf("allowed = %v, reply = %q", tt.allowed, msgs[0].text)
			}
		})
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) { o.Now = func() time.Time { return now } })
	ctx := context.Background()

	h.store.Clock = func() time.Time { return now.Add(-30 * 24 * time.Hour) }
	_ = h.store.Track(ctx, 1, "old")
	h.store.Clock = func() time.Time { return now.Add(-time.Hour) }
	_ = h.store.Track(ctx, 2, "new")
	_ = h.store.IncrementImages(ctx, 2)
	_ = h.store.IncrementImages(ctx, 2)
	_ = h.store.IncrementImages(ctx, 1)

	h.bot.HandleUpdate(ctx, commandUpdate(adminID, "/stats"))

	msgs := h.api.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	for _, want := range []string{
		"Total Users: 2",
		"Active Users (7d): 1",
		"Total Images Processed: 3",
		"Avg Images/User: 1.5",
	} {
		if !strings.Contains(msgs[0].text, want) {
			t.Errorf("stats missing %q:\n%s", want, msgs[0].text)
		}
	}
}

func TestBroadcastCommand(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_ = h.store.Track(ctx, id, "u")
	}
	h.api.failChats[2] = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}

	h.bot.HandleUpdate(ctx, commandUpdate(adminID, "/broadcast New filters are live!"))

	msgs := h.api.messages()
	var delivered []int64
	var status, done *sentMsg
	for i := range msgs {
		m := &msgs[i]
		switch {
		case strings.HasPrefix(m.text, "📢 **Message from Admin:**"):
			delivered = append(delivered, m.chatID)
			if !strings.HasSuffix(m.text, "New filters are live!") {
				t.Errorf("broadcast body = %q", m.text)
			}
		case strings.HasPrefix(m.text, "📤 Broadcasting to 3 users"):
			status = m
		case m.kind == "edit":
			done = m
		}
	}
	if len(delivered) != 2 {
		t.Errorf("delivered to %v, want 2 users", delivered)
	}
	if status == nil || done == nil {
		t.Fatalf("missing status/done messages: %+v", msgs)
	}
	if done.messageID != status.messageID {
		t.Errorf("edited message %d, want status message %d", done.messageID, status.messageID)
	}
	for _, want := range []string{"Sent: 2", "Failed: 1", "Total: 3"} {
		if !strings.Contains(done.text, want) {
			t.Errorf("done text missing %q: %q", want, done.text)
		}
	}
}

func TestBroadcastUsageAndValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, commandUpdate(adminID, "/broadcast"))
	h.bot.HandleUpdate(ctx, commandUpdate(adminID, "/broadcast "+strings.Repeat("x", 5000)))

	msgs := h.api.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].text != broadcastUsageText || msgs[0].parseMode != tgbotapi.ModeMarkdown {
		t.Errorf("usage = %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].text, "too long") {
		t.Errorf("validation reply = %q", msgs[1].text)
	}
}

func TestBroadcastRetriesRateLimit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_ = h.store.Track(ctx, 1, "u")

	h.api.sendErrs = []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 0}},
		&tgbotapi.Error{Code: 502, Message: "Bad Gateway"},
	}

	res, err := h.bot.Broadcast(ctx, "hello")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 || res.Total != 1 {
		t.Errorf("result = %+v, want 1 sent after retries", res)
	}
}

func TestPhoto(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, photoUpdate(7, "photo", "photo-u", 5000))

	msgs := h.api.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].text != processingText {
		t.Errorf("first message = %q, want processing text", msgs[0].text)
	}
	sketch := msgs[1]
	if sketch.kind != "photo" || sketch.text != sketchCaption || sketch.replyTo != 20 {
		t.Errorf("photo reply = %+v", sketch)
	}
	img, err := jpeg.Decode(bytes.NewReader(sketch.photo))
	if err != nil {
		t.Fatalf("sketch is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("sketch size = %v, want 32x24", img.Bounds())
	}

	if dels := h.api.deletes(); len(dels) != 1 || dels[0].MessageID != msgs[0].messageID {
		t.Errorf("deletes = %+v, want the processing message", dels)
	}

	u, err := h.store.Get(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if u.ImagesProcessed != 1 || u.Username != "Grace" {
		t.Errorf("user = %+v", u)
	}
}

func TestPhotoFileCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, photoUpdate(7, "photo", "same-u", 5000))
	// Same file unique ID, different file ID: served from the cache.
	h.bot.HandleUpdate(ctx, photoUpdate(8, "photo2", "same-u", 5000))

	if hits := h.files.hits.Load(); hits != 1 {
		t.Errorf("downloads = %d, want 1", hits)
	}
	var photos int
	for _, m := range h.api.messages() {
		if m.kind == "photo" {
			photos++
		}
	}
	if photos != 2 {
		t.Errorf("sent %d sketches, want 2", photos)
	}
	if n, _ := h.store.TotalImages(ctx); n != 2 {
		t.Errorf("total images = %d, want 2", n)
	}
}

// setFailCache misses every lookup and rejects every write.
type setFailCache struct{ cache.NullCache }

func (setFailCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk full")
}

func TestPhotoCacheWriteFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.bot.runner = pipeline.NewRunner(setFailCache{}, nil, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, photoUpdate(7, "photo", "same-u", 5000))
	h.bot.HandleUpdate(ctx, photoUpdate(8, "photo", "same-u", 5000))

	var photos int
	for _, m := range h.api.messages() {
		if m.kind == "photo" {
			photos++
		}
	}
	if photos != 2 {
		t.Errorf("sent %d sketches, want 2", photos)
	}
	if hits := h.files.hits.Load(); hits != 2 {
		t.Errorf("downloads = %d, want 2 when nothing could be cached", hits)
	}
}

func TestPhotoFailures(t *testing.T) {
	tests := []struct {
		name     string
		fileID   string
		size     int
		wantKind string
		wantText string
		modify   func(*Options)
	}{
		{"undecodable", "garbage", 100, "edit", apologyText, nil},
		{"download fails", "missing", 100, "message", oopsText, nil},
		{"too large", "photo", 50 << 20, "edit", tooLargeText, nil},
		{"too many pixels", "photo", 100, "edit", tooLargeText, func(o *Options) { o.Pipeline.MaxPixels = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.modify)
			ctx := context.Background()

			h.bot.HandleUpdate(ctx, photoUpdate(7, tt.fileID, tt.fileID+"-u", tt.size))

			msgs := h.api.messages()
			last := msgs[len(msgs)-1]
			if last.kind != tt.wantKind || last.text != tt.wantText {
				t.Errorf("last message = %+v, want %s %q", last, tt.wantKind, tt.wantText)
			}
			for _, m := range msgs {
				if m.kind == "photo" {
					t.Error("no sketch should be sent")
				}
			}
			if n, _ := h.store.TotalImages(ctx); n != 0 {
				t.Errorf("total images = %d, want 0", n)
			}
		})
	}
}

func TestPhotoRateLimit(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.RateBurst = 1
		o.RateInterval = time.Hour
	})
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, photoUpdate(7, "photo", "a", 100))
	h.bot.HandleUpdate(ctx, photoUpdate(7, "photo", "b", 100))
	// Other users are unaffected.
	h.bot.HandleUpdate(ctx, photoUpdate(8, "photo", "c", 100))

	var slowDown, photos int
	for _, m := range h.api.messages() {
		if strings.HasPrefix(m.text, "🐢") {
			slowDown++
		}
		if m.kind == "photo" {
			photos++
		}
	}
	if slowDown != 1 || photos != 2 {
		t.Errorf("slowDown = %d, photos = %d; want 1 and 2", slowDown, photos)
	}
}

func TestRejections(t *testing.T) {
	msg := func(m tgbotapi.Message) tgbotapi.Update {
		m.From = &tgbotapi.User{ID: 3}
		m.Chat = &tgbotapi.Chat{ID: 3}
		return tgbotapi.Update{Message: &m}
	}
	tests := []struct {
		name      string
		update    tgbotapi.Update
		wantText  string
		wantParse string
	}{
		{"image document", msg(tgbotapi.Message{Document: &tgbotapi.Document{MimeType: "image/png"}}), documentRejectionText, tgbotapi.ModeMarkdown},
		{"pdf document", msg(tgbotapi.Message{Document: &tgbotapi.Document{MimeType: "application/pdf"}}), otherFileRejectionText, ""},
		{"video", msg(tgbotapi.Message{Video: &tgbotapi.Video{}}), otherFileRejectionText, ""},
		{"audio", msg(tgbotapi.Message{Audio: &tgbotapi.Audio{}}), otherFileRejectionText, ""},
		{"voice", msg(tgbotapi.Message{Voice: &tgbotapi.Voice{}}), otherFileRejectionText, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.bot.HandleUpdate(context.Background(), tt.update)
			msgs := h.api.messages()
			if len(msgs) != 1 || msgs[0].text != tt.wantText || msgs[0].parseMode != tt.wantParse {
				t.Errorf("messages = %+v", msgs)
			}
		})
	}

	// Plain text and empty updates get no reply.
	h := newHarness(t, nil)
	h.bot.HandleUpdate(context.Background(), msg(tgbotapi.Message{Text: "hello"}))
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{})
	if msgs := h.api.messages(); len(msgs) != 0 {
		t.Errorf("messages = %+v, want none", msgs)
	}
}

func TestRunPolling(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.bot.Run(ctx) }()

	h.api.updates <- commandUpdate(5, "/help")

	deadline := time.Now().Add(5 * time.Second)
	for len(h.api.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.api.messages()) != 1 {
		t.Errorf("messages = %+v", h.api.messages())
	}
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	if !h.api.stopped {
		t.Error("Run should stop receiving updates on cancel")
	}
	if _, ok := h.api.requests[0].(tgbotapi.DeleteWebhookConfig); !ok {
		t.Errorf("first request = %T, want DeleteWebhookConfig", h.api.requests[0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		after     time.Duration
	}{
		{"nil", nil, false, 0},
		{"429", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7}}, true, 7 * time.Second},
		{"500", &tgbotapi.Error{Code: 500}, true, 0},
		{"400", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, false, 0},
		{"403", &tgbotapi.Error{Code: 403}, false, 0},
		{"network", errors.New("connection reset by peer"), true, 0},
		{"cancelled", context.Canceled, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			if httputil.IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v", !tt.retryable, tt.retryable)
			}
			var re *httputil.RetryableError
			if errors.As(err, &re) && re.After != tt.after {
				t.Errorf("after = %v, want %v", re.After, tt.after)
			}
			var rl *apperrors.RateLimitedError
			if got := errors.As(err, &rl); got != (tt.name == "429") {
				t.Errorf("rate limited = %v", got)
			}
		})
	}
}

func TestClassifyHidesToken(t *testing.T) {
	transport := &url.Error{
		Op:  "Post",
		URL: "https://api.telegram.org/bot42:SECRETTOKEN/sendMessage",
		Err: errors.New("connection reset by peer"),
	}
	err := classify(transport)
	if strings.Contains(err.Error(), "SECRETTOKEN") {
		t.Errorf("classified error leaks the token: %v", err)
	}
	if !httputil.IsRetryable(err) {
		t.Error("transport failure should stay retryable")
	}
}

func TestMessageKind(t *testing.T) {
	tests := []struct {
		msg  tgbotapi.Message
		want string
	}{
		{*commandUpdate(1, "/start").Message, "command"},
		{*photoUpdate(1, "f", "u", 1).Message, "photo"},
		{tgbotapi.Message{Text: "hi"}, "text"},
		{tgbotapi.Message{}, "other"},
	}
	for _, tt := range tests {
		if got := messageKind(&tt.msg); got != tt.want {
			t.Errorf("messageKind = %q, want %q", got, tt.want)
		}
	}
}
