// Package config loads sketchbot's configuration.
//
// Configuration comes from three layers, later ones winning:
//
//  1. [Default] values
//  2. A TOML file (default ~/.config/sketchbot/config.toml), or YAML when the
//     file name ends in .yaml or .yml
//  3. Environment variables: BOT_TOKEN, ADMIN_ID and the SKETCHBOT_* family
//     (see [EnvVars])
//
// A missing config file is not an error; the bot can run from environment
// variables alone.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/pipeline"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

// Config is the complete sketchbot configuration.
type Config struct {
	Bot      BotConfig      `toml:"bot" yaml:"bot"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Cache    CacheConfig    `toml:"cache" yaml:"cache"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Pipeline PipelineConfig `toml:"pipeline" yaml:"pipeline"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// BotConfig configures the Telegram side.
type BotConfig struct {
	Token   string `toml:"token" yaml:"token"`
	AdminID int64  `toml:"admin_id" yaml:"admin_id"`

	// Mode is "polling" (default) or "webhook".
	Mode          string `toml:"mode" yaml:"mode"`
	WebhookURL    string `toml:"webhook_url" yaml:"webhook_url"`
	WebhookSecret string `toml:"webhook_secret" yaml:"webhook_secret"`

	// Workers bounds how many photos are sketched at once.
	Workers        int    `toml:"workers" yaml:"workers"`
	ProcessTimeout string `toml:"process_timeout" yaml:"process_timeout"`

	// Each user may send RateBurst photos, then one per RateInterval.
	RateInterval string `toml:"rate_interval" yaml:"rate_interval"`
	RateBurst    int    `toml:"rate_burst" yaml:"rate_burst"`

	// BroadcastRate is the global messages-per-second cap for /broadcast.
	BroadcastRate        float64 `toml:"broadcast_rate" yaml:"broadcast_rate"`
	BroadcastConcurrency int     `toml:"broadcast_concurrency" yaml:"broadcast_concurrency"`

	// MaxFileBytes rejects photos larger than this before downloading.
	MaxFileBytes int64 `toml:"max_file_bytes" yaml:"max_file_bytes"`
}

// StorageConfig selects the user store.
type StorageConfig struct {
	// Backend is "file" (default), "redis", "mongo" or "sqlite".
	Backend       string `toml:"backend" yaml:"backend"`
	Path          string `toml:"path" yaml:"path"`
	RedisURL      string `toml:"redis_url" yaml:"redis_url"`
	MongoURI      string `toml:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database" yaml:"mongo_database"`
	Prefix        string `toml:"prefix" yaml:"prefix"`
}

// CacheConfig selects the sketch cache.
type CacheConfig struct {
	// Backend is "file" (default), "redis" or "none".
	Backend  string `toml:"backend" yaml:"backend"`
	Dir      string `toml:"dir" yaml:"dir"`
	RedisURL string `toml:"redis_url" yaml:"redis_url"`
	Prefix   string `toml:"prefix" yaml:"prefix"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	ListenAddr     string `toml:"listen_addr" yaml:"listen_addr"`
	AdminToken     string `toml:"admin_token" yaml:"admin_token"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" yaml:"max_upload_bytes"`
	RequestTimeout string `toml:"request_timeout" yaml:"request_timeout"`

	// MaxConcurrent bounds simultaneous /v1/sketch requests; 0 uses the
	// number of CPUs.
	MaxConcurrent int `toml:"max_concurrent" yaml:"max_concurrent"`
}

// PipelineConfig sets the default sketch output.
type PipelineConfig struct {
	Format       string `toml:"format" yaml:"format"`
	Quality      int    `toml:"quality" yaml:"quality"`
	MaxDimension int    `toml:"max_dimension" yaml:"max_dimension"`
	MaxPixels    int    `toml:"max_pixels" yaml:"max_pixels"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`
}

// Bot modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Mode:                 ModePolling,
			Workers:              4,
			ProcessTimeout:       "60s",
			RateInterval:         "3s",
			RateBurst:            2,
			BroadcastRate:        25,
			BroadcastConcurrency: 8,
			MaxFileBytes:         20 << 20,
		},
		Storage: StorageConfig{
			Backend:       users.BackendFile,
			Path:          users.DefaultFile,
			MongoDatabase: users.DefaultMongoDatabase,
			Prefix:        "sketchbot:",
		},
		Cache: CacheConfig{
			Backend: CacheFile,
			Prefix:  "sketchbot:",
		},
		Server: ServerConfig{
			ListenAddr:     ":8080",
			MaxUploadBytes: 10 << 20,
			RequestTimeout: "90s",
		},
		Pipeline: PipelineConfig{
			Format:       pipeline.DefaultFormat,
			Quality:      pipeline.DefaultQuality,
			MaxDimension: pipeline.DefaultMaxDimension,
			MaxPixels:    pipeline.DefaultMaxPixels,
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.config/sketchbot/config.toml (or the platform's
// equivalent user config directory).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(dir, "sketchbot", "config.toml"), nil
}

// Load reads the config file at path over the defaults, then applies
// environment overrides. An empty path uses [DefaultPath]. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "parse %s", path)
			}
		}
	}

	if err := cfg.applyEnvOverrides(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

// EnvVars lists the environment variables Load reads.
var EnvVars = []string{
	"BOT_TOKEN",
	"ADMIN_ID",
	"SKETCHBOT_STORAGE",
	"SKETCHBOT_REDIS_URL",
	"SKETCHBOT_MONGO_URI",
	"SKETCHBOT_LISTEN_ADDR",
	"SKETCHBOT_WEBHOOK_URL",
	"SKETCHBOT_ADMIN_TOKEN",
	"SKETCHBOT_LOG_LEVEL",
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides(getenv func(string) string) error {
	if token := getenv("BOT_TOKEN"); token != "" {
		c.Bot.Token = token
	}
	if id := getenv("ADMIN_ID"); id != "" {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "ADMIN_ID %q is not a number", id)
		}
		c.Bot.AdminID = n
	}

	if backend := getenv("SKETCHBOT_STORAGE"); backend != "" {
		c.Storage.Backend = backend
	}
	if url := getenv("SKETCHBOT_REDIS_URL"); url != "" {
		c.Storage.RedisURL = url
		c.Cache.RedisURL = url
	}
	if uri := getenv("SKETCHBOT_MONGO_URI"); uri != "" {
		c.Storage.MongoURI = uri
	}

	if addr := getenv("SKETCHBOT_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
		c.Server.Enabled = true
	}
	if url := getenv("SKETCHBOT_WEBHOOK_URL"); url != "" {
		c.Bot.WebhookURL = url
		c.Bot.Mode = ModeWebhook
	}
	if token := getenv("SKETCHBOT_ADMIN_TOKEN"); token != "" {
		c.Server.AdminToken = token
	}
	if level := getenv("SKETCHBOT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	return nil
}

// Validate checks the configuration for values that cannot work. It does
// not require a bot token; use [Config.RequireToken] for commands that talk
// to Telegram.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrCodeInvalidConfig, format, args...)
	}

	switch c.Bot.Mode {
	case ModePolling:
	case ModeWebhook:
		if err := apperrors.ValidateURL(c.Bot.WebhookURL); err != nil {
			return invalid("bot.webhook_url: %v", err)
		}
		if err := apperrors.ValidateWebhookSecret(c.Bot.WebhookSecret); err != nil {
			return invalid("bot.webhook_secret: %v", err)
		}
	default:
		return invalid("bot.mode %q must be polling or webhook", c.Bot.Mode)
	}
	if c.Bot.Workers < 1 {
		return invalid("bot.workers must be at least 1")
	}
	if c.Bot.RateBurst < 1 {
		return invalid("bot.rate_burst must be at least 1")
	}
	if c.Bot.BroadcastRate <= 0 || c.Bot.BroadcastConcurrency < 1 {
		return invalid("bot.broadcast_rate and bot.broadcast_concurrency must be positive")
	}
	for name, d := range map[string]string{
		"bot.process_timeout":    c.Bot.ProcessTimeout,
		"bot.rate_interval":      c.Bot.RateInterval,
		"server.request_timeout": c.Server.RequestTimeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return invalid("%s: %v", name, err)
		}
	}

	switch c.Storage.Backend {
	case users.BackendFile, users.BackendSQLite:
	case users.BackendRedis:
		if c.Storage.RedisURL == "" {
			return invalid("storage.redis_url is required for the redis backend")
		}
	case users.BackendMongo:
		if c.Storage.MongoURI == "" {
			return invalid("storage.mongo_uri is required for the mongo backend")
		}
	default:
		return invalid("storage.backend %q must be file, redis, mongo or sqlite", c.Storage.Backend)
	}

	switch c.Cache.Backend {
	case CacheFile, CacheNone:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return invalid("cache.redis_url is required for the redis cache")
		}
	default:
		return invalid("cache.backend %q must be file, redis or none", c.Cache.Backend)
	}

	opts := c.PipelineOptions()
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return invalid("pipeline: %v", err)
	}
	return nil
}

// RequireToken reports an error when no bot token is configured.
func (c *Config) RequireToken() error {
	if c.Bot.Token == "" {
		return apperrors.New(apperrors.ErrCodeInvalidConfig,
			"BOT_TOKEN is not set (export BOT_TOKEN or set bot.token in the config file)")
	}
	return nil
}

// Warnings returns non-fatal configuration problems.
func (c *Config) Warnings() []string {
	var w []string
	if c.Bot.AdminID == 0 {
		w = append(w, "ADMIN_ID not set: admin commands will not work")
	}
	if c.Bot.Mode == ModeWebhook && !c.Server.Enabled {
		w = append(w, "webhook mode needs the HTTP server; enabling it")
	}
	return w
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Bot.Token = mask(c.Bot.Token)
	cp.Bot.WebhookSecret = mask(c.Bot.WebhookSecret)
	cp.Server.AdminToken = mask(c.Server.AdminToken)
	cp.Storage.RedisURL = maskURL(c.Storage.RedisURL)
	cp.Storage.MongoURI = maskURL(c.Storage.MongoURI)
	cp.Cache.RedisURL = maskURL(c.Cache.RedisURL)
	return &cp
}

// WriteTOML encodes the configuration as TOML.
func (c *Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// ProcessTimeout returns bot.process_timeout, defaulting to 60s.
func (c *Config) ProcessTimeout() time.Duration {
	return parseDuration(c.Bot.ProcessTimeout, 60*time.Second)
}

// RateInterval returns bot.rate_interval, defaulting to 3s.
func (c *Config) RateInterval() time.Duration {
	return parseDuration(c.Bot.RateInterval, 3*time.Second)
}

// RequestTimeout returns server.request_timeout, defaulting to 90s.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Server.RequestTimeout, 90*time.Second)
}

// PipelineOptions returns the default options for sketch requests.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Format:       c.Pipeline.Format,
		Quality:      c.Pipeline.Quality,
		MaxDimension: c.Pipeline.MaxDimension,
		MaxPixels:    c.Pipeline.MaxPixels,
	}
}

// StorageOptions returns the options for [users.Open].
func (c *Config) StorageOptions() users.Options {
	opts := users.Options{
		Backend:  c.Storage.Backend,
		Path:     c.Storage.Path,
		Database: c.Storage.MongoDatabase,
		Prefix:   c.Storage.Prefix,
	}
	switch c.Storage.Backend {
	case users.BackendRedis:
		opts.URL = c.Storage.RedisURL
	case users.BackendMongo:
		opts.URL = c.Storage.MongoURI
	case users.BackendSQLite:
		if opts.Path == users.DefaultFile {
			opts.Path = users.DefaultSQLiteFile
		}
	}
	return opts
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskURL hides the password in a connection URL.
func maskURL(s string) string {
	at := strings.LastIndex(s, "@")
	scheme := strings.Index(s, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return s
	}
	creds := s[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return s[:scheme+3] + user + ":****" + s[at:]
	}
	return s
}
