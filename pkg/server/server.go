// Package server exposes the bot over HTTP.
//
// Routes:
//
//	GET  /healthz            liveness and version
//	POST /webhook/{secret}   Telegram webhook ingress
//	POST /v1/sketch          sketch an uploaded image
//	GET  /v1/stats           user statistics (admin token)
//
// The webhook route is only mounted when a [Dispatcher] and a secret are
// configured; /v1/stats answers 403 until an admin token is set. /v1/sketch
// is throttled to Options.MaxConcurrent requests at a time.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sketchmaster/sketchbot/pkg/pipeline"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

// ShutdownTimeout bounds graceful shutdown after the serve context ends.
const ShutdownTimeout = 10 * time.Second

// Dispatcher receives webhook updates. *bot.Bot implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, u tgbotapi.Update)
}

// Options configures a Server.
type Options struct {
	Addr string

	// WebhookSecret is the last path segment of the webhook URL.
	WebhookSecret string

	// AdminToken guards /v1/stats. Empty disables the endpoint.
	AdminToken string

	MaxUploadBytes int64         // default 10 MiB
	RequestTimeout time.Duration // default 90s

	// MaxConcurrent bounds in-flight /v1/sketch requests (default NumCPU).
	// Up to MaxQueued more wait for a slot for at most RequestTimeout;
	// beyond that the server answers 429. MaxQueued defaults to
	// 4*MaxConcurrent; negative disables queueing.
	MaxConcurrent int
	MaxQueued     int

	// Pipeline holds the defaults for /v1/sketch; query parameters override
	// format and quality.
	Pipeline pipeline.Options

	Logger *log.Logger

	// Now overrides time.Now for the stats window.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 10 << 20
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 90 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = runtime.NumCPU()
	}
	switch {
	case o.MaxQueued == 0:
		o.MaxQueued = 4 * o.MaxConcurrent
	case o.MaxQueued < 0:
		o.MaxQueued = 0
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Server is the HTTP front end. Create it with New.
type Server struct {
	runner *pipeline.Runner
	store  users.Store
	bot    Dispatcher
	opts   Options
	logger *log.Logger
	router chi.Router
}

// New builds the router. store and bot may be nil; the routes that need
// them then report unavailability.
func New(runner *pipeline.Runner, store users.Store, bot Dispatcher, opts Options) *Server {
	opts.setDefaults()
	if runner == nil {
		runner = pipeline.NewRunner(nil, nil, opts.Logger)
	}
	s := &Server{
		runner: runner,
		store:  store,
		bot:    bot,
		opts:   opts,
		logger: opts.Logger.WithPrefix("http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	if s.bot != nil && s.opts.WebhookSecret != "" {
		r.Post("/webhook/{secret}", s.handleWebhook)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.With(middleware.ThrottleWithOpts(middleware.ThrottleOpts{
			Limit:          s.opts.MaxConcurrent,
			BacklogLimit:   s.opts.MaxQueued,
			BacklogTimeout: s.opts.RequestTimeout,
		})).Post("/sketch", s.handleSketch)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on Options.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, waiting up to ShutdownTimeout for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown", "error", err)
		srv.Close()
	}
	<-errc
	s.logger.Info("server stopped")
	return nil
}

// logRequests logs each request through charmbracelet/log.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", logPath(r),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"req", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

// logPath hides the webhook secret.
func logPath(r *http.Request) string {
	if len(r.URL.Path) > len("/webhook/") && r.URL.Path[:len("/webhook/")] == "/webhook/" {
		return "/webhook/<secret>"
	}
	return r.URL.Path
}
