// Package pipeline provides the photo → sketch processing pipeline for sketchbot.
//
// This package implements the complete decode → sketch → encode pipeline
// used by the bot, the HTTP API and the CLI. Centralizing it keeps caching,
// size limits and output encoding identical across all entry points.
//
// # Architecture
//
// The pipeline consists of three stages:
//
//  1. Decode: check the declared size against MaxPixels, parse JPEG, PNG,
//     GIF, WebP, BMP or TIFF bytes, apply EXIF orientation and downscale
//     to MaxDimension
//  2. Sketch: run [sketch.PencilSketch]
//  3. Encode: write JPEG (quality 95 by default) or PNG
//
// Encoded results are cached by the SHA-256 of the input bytes and every
// option that changes the output.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	result, err := runner.Execute(ctx, photoBytes, pipeline.Options{})
//	if err != nil {
//	    return err
//	}
//	send(result.Data)
//
// Run the sketch stage on an image you already have:
//
//	result, err := runner.Process(ctx, img, pipeline.Options{Format: "png"})
package pipeline

import (
	"fmt"
	"image"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sketchmaster/sketchbot/pkg/cache"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/sketch"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI, API, and Bot
// =============================================================================

const (
	// DefaultFormat is the output encoding.
	DefaultFormat = FormatJPEG

	// DefaultQuality is the JPEG quality of the result.
	DefaultQuality = 95

	// DefaultMaxDimension bounds the longer side of the image before
	// sketching. Telegram photos are at most 2560px, and the blur cost grows
	// with area, so larger inputs are downscaled.
	DefaultMaxDimension = 2048

	// DefaultMaxPixels rejects images whose header declares more pixels
	// than this before any pixel data is decoded.
	DefaultMaxPixels = 50_000_000
)

// Format constants for output formats.
const (
	FormatJPEG = apperrors.FormatJPEG
	FormatPNG  = apperrors.FormatPNG
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for the sketch pipeline.
// This struct supports JSON serialization for API requests.
type Options struct {
	// Format is the output encoding: "jpeg" (default) or "png".
	Format string `json:"format,omitempty"`

	// Quality is the JPEG quality (1-100). Ignored for PNG.
	Quality int `json:"quality,omitempty"`

	// MaxDimension downscales images whose longer side exceeds it.
	// Negative disables downscaling; zero selects DefaultMaxDimension.
	MaxDimension int `json:"max_dimension,omitempty"`

	// MaxPixels rejects inputs whose declared width*height exceeds it.
	// Negative disables the check; zero selects DefaultMaxPixels.
	MaxPixels int `json:"max_pixels,omitempty"`

	// Refresh bypasses the cache lookup (the result is still stored).
	Refresh bool `json:"refresh,omitempty"`

	// Runtime options (not serialized)
	Logger *log.Logger `json:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// Image is the sketch. Nil when the result came from the cache.
	Image *image.Gray

	// Data is the encoded sketch.
	Data []byte

	// Width and Height are the dimensions of the sketch.
	Width, Height int

	// InputHash is the SHA-256 of the input bytes (empty for Process).
	InputHash string

	// Stats contains timing information.
	Stats Stats

	// CacheHit reports whether Data was served from the cache.
	CacheHit bool
}

// Stats contains pipeline execution statistics.
type Stats struct {
	InputFormat string
	InputBytes  int
	DecodeTime  time.Duration
	SketchTime  time.Duration
	EncodeTime  time.Duration
}

// Total returns the time spent in all stages.
func (s Stats) Total() time.Duration {
	return s.DecodeTime + s.SketchTime + s.EncodeTime
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults checks fields and applies defaults.
// This method is idempotent - calling it multiple times has the same effect as calling it once.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.Format == "jpg" {
		o.Format = FormatJPEG
	}
	if err := apperrors.ValidateFormat(o.Format); err != nil {
		return err
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if err := apperrors.ValidateQuality(o.Quality); err != nil {
		return err
	}
	if o.MaxDimension == 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.MaxPixels == 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	o.validated = true
	return nil
}

// KeyOpts returns cache key options for the encoded sketch.
func (o *Options) KeyOpts() cache.SketchKeyOpts {
	quality := o.Quality
	if o.Format == FormatPNG {
		quality = 0
	}
	return cache.SketchKeyOpts{
		Format:       o.Format,
		Quality:      quality,
		MaxDimension: max(o.MaxDimension, 0),
		Revision:     sketch.Revision,
	}
}

// ContentType returns the MIME type of the output format.
func (o *Options) ContentType() string {
	if o.Format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// Extension returns the file extension of the output format, with the dot.
func (o *Options) Extension() string {
	if o.Format == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// Describe summarizes the options for log lines.
func (o *Options) Describe() string {
	if o.Format == FormatPNG {
		return fmt.Sprintf("png max=%d", o.MaxDimension)
	}
	return fmt.Sprintf("jpeg q=%d max=%d", o.Quality, o.MaxDimension)
}
