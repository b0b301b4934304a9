package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/sketchmaster/sketchbot/pkg/bot"
	"github.com/sketchmaster/sketchbot/pkg/buildinfo"
	"github.com/sketchmaster/sketchbot/pkg/cache"
	"github.com/sketchmaster/sketchbot/pkg/config"
	"github.com/sketchmaster/sketchbot/pkg/pipeline"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "sketchbot"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Verbose pins the log level to debug, overriding log.level in the
	// config file.
	Verbose bool

	configPath string
	cfg        *config.Config
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Sketch Master turns photos into pencil sketches",
		Long: `Sketch Master is a Telegram bot that turns photos into pencil sketches.
The CLI runs the bot, sketches local files, and shows usage statistics.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: user config dir/sketchbot/config.toml)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.sketchCommand())
	root.AddCommand(c.statsCommand())
	root.AddCommand(c.usersCommand())
	root.AddCommand(c.broadcastCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Config and Factories
// =============================================================================

// loadConfig loads and validates the configuration once per process.
func (c *CLI) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !c.Verbose && cfg.Log.Level != "" {
		if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
			c.SetLogLevel(lvl)
		}
	}
	c.cfg = cfg
	return cfg, nil
}

// newRunner creates a pipeline runner backed by the configured cache.
func (c *CLI) newRunner(ctx context.Context, cfg *config.Config, noCache bool) (*pipeline.Runner, error) {
	cc, err := c.newCache(ctx, cfg, noCache)
	if err != nil {
		return nil, err
	}
	var keyer cache.Keyer
	if cfg.Cache.Backend == config.CacheRedis && cfg.Cache.Prefix != "" {
		keyer = cache.NewScopedKeyer(nil, cfg.Cache.Prefix)
	}
	return pipeline.NewRunner(cc, keyer, c.Logger), nil
}

func (c *CLI) newCache(ctx context.Context, cfg *config.Config, noCache bool) (cache.Cache, error) {
	if noCache || cfg.Cache.Backend == config.CacheNone {
		return cache.NewNullCache(), nil
	}
	if cfg.Cache.Backend == config.CacheRedis {
		return cache.NewRedisCache(ctx, cfg.Cache.RedisURL, "")
	}
	dir, err := c.fileCacheDir(cfg)
	if err != nil {
		c.Logger.Warn("no cache directory, caching disabled", "error", err)
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(dir)
}

// fileCacheDir is cache.dir, or the XDG cache directory.
func (c *CLI) fileCacheDir(cfg *config.Config) (string, error) {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	return cacheDir()
}

// openStore opens the configured user store.
func (c *CLI) openStore(ctx context.Context, cfg *config.Config) (users.Store, error) {
	opts := cfg.StorageOptions()
	c.Logger.Debug("opening user store", "backend", opts.Backend)
	return users.Open(ctx, opts)
}

// botOptions maps the bot section of the config onto bot.Options.
func (c *CLI) botOptions(cfg *config.Config) bot.Options {
	return bot.Options{
		AdminID:              cfg.Bot.AdminID,
		Workers:              cfg.Bot.Workers,
		ProcessTimeout:       cfg.ProcessTimeout(),
		RateInterval:         cfg.RateInterval(),
		RateBurst:            cfg.Bot.RateBurst,
		BroadcastRate:        cfg.Bot.BroadcastRate,
		BroadcastConcurrency: cfg.Bot.BroadcastConcurrency,
		MaxFileBytes:         cfg.Bot.MaxFileBytes,
		Pipeline:             cfg.PipelineOptions(),
		Logger:               c.Logger.WithPrefix("bot"),
	}
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/sketchbot/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
