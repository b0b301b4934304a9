package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sketchmaster/sketchbot/pkg/cache"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/observability"
	"github.com/sketchmaster/sketchbot/pkg/sketch"
)

// Runner encapsulates pipeline execution with caching.
// The bot, the API server and the CLI all use it.
//
// The Runner is stateless except for the cache and logger - it doesn't
// store pipeline results. Multiple goroutines can safely use the same
// Runner with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
	}
}

// Execute runs the complete decode → sketch → encode pipeline with caching.
//
// Errors carry a code from pkg/errors: DECODE_FAILED when data is not a
// supported image, TOO_LARGE when its header declares more than
// opts.MaxPixels pixels, PROCESSING_FAILED when the filter fails, ENCODE_FAILED
// when the output cannot be written. The context is checked between stages.
func (r *Runner) Execute(ctx context.Context, data []byte, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	hash := cache.Hash(data)
	key := r.Keyer.SketchKey(hash, opts.KeyOpts())
	cacheHooks := observability.Cache()

	if !opts.Refresh {
		if cached, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			cacheHooks.OnCacheHit(ctx, cache.KeyTypeSketch)
			res := &Result{Data: cached, InputHash: hash, CacheHit: true}
			if cfg, _, err := decodeConfig(cached); err == nil {
				res.Width, res.Height = cfg.Width, cfg.Height
			}
			opts.Logger.Debug("sketch cache hit", "hash", hash[:12])
			return res, nil
		} else if err != nil {
			opts.Logger.Warn("cache lookup failed", "error", err)
		}
		cacheHooks.OnCacheMiss(ctx, cache.KeyTypeSketch)
	}

	hooks := observability.Pipeline()

	// Stage 1: Decode
	decodeStart := time.Now()
	img, format, err := Decode(data, opts.MaxPixels)
	decodeTime := time.Since(decodeStart)
	hooks.OnDecodeComplete(ctx, format, len(data), decodeTime, err)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	opts.Logger.Debug("decoded image",
		"format", format,
		"size", img.Bounds().Size(),
		"duration", decodeTime)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stages 2 and 3
	result, err := r.Process(ctx, img, opts)
	if err != nil {
		return nil, err
	}
	result.InputHash = hash
	result.Stats.InputFormat = format
	result.Stats.InputBytes = len(data)
	result.Stats.DecodeTime = decodeTime

	_ = r.Cache.Set(ctx, key, result.Data, cache.TTLArtifact)
	cacheHooks.OnCacheSet(ctx, cache.KeyTypeSketch, len(result.Data))

	opts.Logger.Info("sketched image",
		"format", format,
		"width", result.Width,
		"height", result.Height,
		"output", opts.Describe(),
		"duration", result.Stats.Total())

	return result, nil
}

// Process runs the sketch and encode stages on an already decoded image.
// The image is downscaled to opts.MaxDimension first. Results are not cached.
func (r *Runner) Process(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	hooks := observability.Pipeline()

	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidImage, "image has no pixels")
	}

	// Stage 2: Sketch
	src := Fit(img, opts.MaxDimension)
	if src != img {
		opts.Logger.Debug("downscaled image",
			"from", img.Bounds().Size(),
			"to", src.Bounds().Size())
	}
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	sketchStart := time.Now()
	hooks.OnSketchStart(ctx, w, h)
	out, err := sketch.PencilSketch(src)
	sketchTime := time.Since(sketchStart)
	hooks.OnSketchComplete(ctx, w, h, sketchTime, err)
	if err != nil {
		code := apperrors.ErrCodeProcessing
		if errors.Is(err, sketch.ErrEmptyImage) {
			code = apperrors.ErrCodeInvalidImage
		}
		return nil, fmt.Errorf("sketch: %w", apperrors.Wrap(code, err, "sketch %dx%d image", w, h))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: Encode
	encodeStart := time.Now()
	data, err := Encode(out, opts.Format, opts.Quality)
	encodeTime := time.Since(encodeStart)
	hooks.OnEncodeComplete(ctx, opts.Format, len(data), encodeTime, err)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &Result{
		Image:  out,
		Data:   data,
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Stats: Stats{
			SketchTime: sketchTime,
			EncodeTime: encodeTime,
		},
	}, nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
