package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sketchmaster/sketchbot/pkg/bot"
	"github.com/sketchmaster/sketchbot/pkg/config"
	"github.com/sketchmaster/sketchbot/pkg/observability"
	"github.com/sketchmaster/sketchbot/pkg/server"
)

// serveCommand creates the serve command, which runs the bot until
// interrupted.
func (c *CLI) serveCommand() *cobra.Command {
	var listen string
	var noServer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP server",
		Long: `Run the Telegram bot until interrupted.

In polling mode (the default) the bot long-polls Telegram; the HTTP server
runs only when enabled. In webhook mode the HTTP server receives the updates
and the webhook is registered with Telegram on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
				cfg.Server.Enabled = true
			}
			if noServer {
				if cfg.Bot.Mode == config.ModeWebhook {
					return fmt.Errorf("--no-server cannot be used in webhook mode")
				}
				cfg.Server.Enabled = false
			}
			return c.runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (enables the server)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the HTTP server (polling mode only)")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	for _, w := range cfg.Warnings() {
		c.Logger.Warn(w)
	}
	webhook := cfg.Bot.Mode == config.ModeWebhook
	if webhook {
		cfg.Server.Enabled = true
	}

	observability.NewLogHooks(c.Logger).Install()
	ctx = withLogger(ctx, c.Logger)

	runner, err := c.newRunner(ctx, cfg, false)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer runner.Close()

	store, err := c.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer store.Close()

	api, err := bot.NewAPI(cfg.Bot.Token, nil)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	c.Logger.Info("authorized", "bot", "@"+api.Self.UserName, "mode", cfg.Bot.Mode)

	b := bot.New(api, runner, store, c.botOptions(cfg))
	if err := b.RegisterCommands(ctx); err != nil {
		c.Logger.Warn("register commands failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		opts := server.Options{
			Addr:           cfg.Server.ListenAddr,
			AdminToken:     cfg.Server.AdminToken,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			RequestTimeout: cfg.RequestTimeout(),
			MaxConcurrent:  cfg.Server.MaxConcurrent,
			Pipeline:       cfg.PipelineOptions(),
			Logger:         c.Logger,
		}
		var d server.Dispatcher
		if webhook {
			d = b
			opts.WebhookSecret = cfg.Bot.WebhookSecret
		}
		srv := server.New(runner, store, d, opts)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if webhook {
		if err := b.SetWebhook(ctx, cfg.Bot.WebhookURL, cfg.Bot.WebhookSecret); err != nil {
			return err
		}
		printInfo("Receiving updates at %s", StyleLink.Render(cfg.Bot.WebhookURL+"/webhook/…"))
		g.Go(func() error {
			<-gctx.Done()
			b.Wait()
			return nil
		})
	} else {
		printInfo("Polling for updates (Ctrl+C to stop)")
		g.Go(func() error { return b.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	printSuccess("Stopped")
	return ctx.Err()
}
