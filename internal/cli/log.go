// Package cli implements the sketchbot command-line interface.
//
// The CLI runs the Telegram bot and its HTTP server, sketches local image
// files through the same cached pipeline the bot uses, and gives the admin
// a terminal view of the user statistics. It is built with cobra; logging
// goes through charmbracelet/log.
//
// # Commands
//
//   - serve: run the bot (polling or webhook) and the HTTP server
//   - sketch: convert a local image to a pencil sketch
//   - stats, users: usage statistics and the user list
//   - broadcast: send an admin message to every user
//   - cache, config: manage the sketch cache and show the effective config
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging; otherwise
// log.level from the config file applies. Loggers are passed through
// context.Context so long-running steps can report timings.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger returns a logger for terminal output: wall-clock timestamps
// with centiseconds ("14:32:01.45") and level filtering.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress times one step of a command and logs it when the step ends.
// Fields given to newProgress are repeated on the final line, e.g.
//
//	INFO sketched input=photo.jpg cached=false took=412ms
type progress struct {
	logger *log.Logger
	fields []any
	start  time.Time
}

func newProgress(l *log.Logger, fields ...any) *progress {
	return &progress{logger: l, fields: fields, start: time.Now()}
}

// done logs msg with the start fields, any extra fields, and the elapsed
// time rounded to the millisecond.
func (p *progress) done(msg string, fields ...any) {
	kv := make([]any, 0, len(p.fields)+len(fields)+2)
	kv = append(kv, p.fields...)
	kv = append(kv, fields...)
	kv = append(kv, "took", time.Since(p.start).Round(time.Millisecond))
	p.logger.Info(msg, kv...)
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// loggerFromContext returns the logger attached by withLogger, or
// log.Default() when there is none.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
