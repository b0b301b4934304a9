package observability

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// LogHooks implements every hook interface by writing debug-level records
// to a charmbracelet/log logger. Failures are logged at warn level.
type LogHooks struct {
	logger *log.Logger
}

// NewLogHooks returns hooks that log to l. A nil logger uses log.Default().
func NewLogHooks(l *log.Logger) *LogHooks {
	if l == nil {
		l = log.Default()
	}
	return &LogHooks{logger: l.WithPrefix("hooks")}
}

// Install registers h for all hook categories.
func (h *LogHooks) Install() {
	SetPipelineHooks(h)
	SetCacheHooks(h)
	SetBotHooks(h)
	SetHTTPHooks(h)
}

func (h *LogHooks) OnDecodeComplete(_ context.Context, format string, size int, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("decode failed", "size", size, "duration", d, "err", err)
		return
	}
	h.logger.Debug("decoded image", "format", format, "size", size, "duration", d)
}

func (h *LogHooks) OnSketchStart(_ context.Context, width, height int) {
	h.logger.Debug("sketch started", "width", width, "height", height)
}

func (h *LogHooks) OnSketchComplete(_ context.Context, width, height int, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("sketch failed", "width", width, "height", height, "duration", d, "err", err)
		return
	}
	h.logger.Debug("sketch complete", "width", width, "height", height, "duration", d)
}

func (h *LogHooks) OnEncodeComplete(_ context.Context, format string, size int, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("encode failed", "format", format, "err", err)
		return
	}
	h.logger.Debug("encoded image", "format", format, "size", size, "duration", d)
}

func (h *LogHooks) OnCacheHit(_ context.Context, keyType string) {
	h.logger.Debug("cache hit", "type", keyType)
}

func (h *LogHooks) OnCacheMiss(_ context.Context, keyType string) {
	h.logger.Debug("cache miss", "type", keyType)
}

func (h *LogHooks) OnCacheSet(_ context.Context, keyType string, size int) {
	h.logger.Debug("cache set", "type", keyType, "size", size)
}

func (h *LogHooks) OnUpdate(_ context.Context, kind string, userID int64) {
	h.logger.Debug("update", "kind", kind, "user", userID)
}

func (h *LogHooks) OnPhotoProcessed(_ context.Context, userID int64, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("photo failed", "user", userID, "duration", d, "err", err)
		return
	}
	h.logger.Debug("photo processed", "user", userID, "duration", d)
}

func (h *LogHooks) OnBroadcast(_ context.Context, sent, failed int, d time.Duration) {
	h.logger.Debug("broadcast", "sent", sent, "failed", failed, "duration", d)
}

func (h *LogHooks) OnRequest(_ context.Context, method, host, path string) {
	h.logger.Debug("http request", "method", method, "host", host, "path", path)
}

func (h *LogHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("http response", "method", method, "host", host, "path", path, "status", status, "duration", d)
}

func (h *LogHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Warn("http error", "method", method, "host", host, "path", path, "err", err)
}

var (
	_ PipelineHooks = (*LogHooks)(nil)
	_ CacheHooks    = (*LogHooks)(nil)
	_ BotHooks      = (*LogHooks)(nil)
	_ HTTPHooks     = (*LogHooks)(nil)
)
