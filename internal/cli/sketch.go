package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sketchmaster/sketchbot/pkg/pipeline"
)

// sketchOpts holds the command-line flags for the sketch command.
type sketchOpts struct {
	output  string // output path; "-" writes to stdout
	format  string // jpeg or png
	quality int    // JPEG quality
	maxSize int    // longest side before sketching; negative disables
	noCache bool
	refresh bool
}

// sketchCommand creates the sketch command for converting local files.
func (c *CLI) sketchCommand() *cobra.Command {
	var opts sketchOpts

	cmd := &cobra.Command{
		Use:   "sketch <input>",
		Short: "Convert an image file to a pencil sketch",
		Long: `Convert an image file to a pencil sketch using the same pipeline as the bot.

The input may be JPEG, PNG, GIF, WebP, BMP or TIFF; "-" reads stdin. The output
defaults to <input>_sketch.<ext> next to the input.`,
		Example: `  sketchbot sketch photo.jpg
  sketchbot sketch photo.png -f png -o out.png
  cat photo.jpg | sketchbot sketch - -o - > sketch.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			popts := cfg.PipelineOptions()
			if cmd.Flags().Changed("format") {
				popts.Format = strings.ToLower(opts.format)
			}
			if cmd.Flags().Changed("quality") {
				popts.Quality = opts.quality
			}
			if cmd.Flags().Changed("max-size") {
				popts.MaxDimension = opts.maxSize
			}
			popts.Refresh = opts.refresh
			if err := popts.ValidateAndSetDefaults(); err != nil {
				return err
			}

			runner, err := c.newRunner(cmd.Context(), cfg, opts.noCache)
			if err != nil {
				return err
			}
			defer runner.Close()

			return c.runSketch(withLogger(cmd.Context(), c.Logger), runner, args[0], opts.output, popts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (\"-\" for stdout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", pipeline.DefaultFormat, "output format: jpeg, png")
	cmd.Flags().IntVarP(&opts.quality, "quality", "q", pipeline.DefaultQuality, "JPEG quality (1-100)")
	cmd.Flags().IntVar(&opts.maxSize, "max-size", pipeline.DefaultMaxDimension, "downscale so the longest side fits (0 uses the default, negative keeps full size)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the sketch cache")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "recompute even if cached")

	return cmd
}

func (c *CLI) runSketch(ctx context.Context, runner *pipeline.Runner, input, output string, opts pipeline.Options) error {
	logger := loggerFromContext(ctx)

	data, err := readInput(input)
	if err != nil {
		return err
	}
	if output == "" {
		output = defaultOutputPath(input, opts.Extension())
	}

	prog := newProgress(logger, "input", displayName(input))
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Sketching %s...", displayName(input)))
	spinner.Start()
	res, err := runner.Execute(ctx, data, opts)
	spinner.Stop()
	if err != nil {
		return err
	}
	prog.done("sketched", "cached", res.CacheHit)

	if output == "-" {
		_, err := os.Stdout.Write(res.Data)
		return err
	}
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	printSuccess("Sketch saved")
	printFile(output)
	printSketchStats(res.Width, res.Height, res.Stats.Total(), res.CacheHit)
	return nil
}

func readInput(input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// defaultOutputPath derives "<dir>/<name>_sketch<ext>" from the input path.
func defaultOutputPath(input, ext string) string {
	if input == "-" {
		return "sketch" + ext
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_sketch" + ext
}

func displayName(input string) string {
	if input == "-" {
		return "stdin"
	}
	return filepath.Base(input)
}
