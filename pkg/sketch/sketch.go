package sketch

import (
	"errors"
	"fmt"
	"image"
)

// Revision identifies the filter's output. Bump it whenever a change to this
// package alters the pixels produced for the same input, so cached sketches
// are not served for the old algorithm.
const Revision = "1"

var (
	// ErrEmptyImage is returned for a nil image or one without pixels.
	ErrEmptyImage = errors.New("sketch: image has no pixels")

	// ErrProcessing is returned when a step fails. No partial image is returned.
	ErrProcessing = errors.New("sketch: processing failed")

	// ErrInvalidOptions is returned for negative contrast factors or sigmas.
	ErrInvalidOptions = errors.New("sketch: invalid options")
)

// Kernels used by the default filter.
var (
	// EdgeKernel is a 3x3 Laplacian. Its coefficients sum to zero, so it is
	// applied unnormalized.
	EdgeKernel = [9]float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}

	// SmoothMoreKernel is a strong 5x5 smoothing kernel (sum 100).
	SmoothMoreKernel = [25]float64{
		1, 1, 1, 1, 1,
		1, 5, 5, 5, 1,
		1, 5, 44, 5, 1,
		1, 5, 5, 5, 1,
		1, 1, 1, 1, 1,
	}

	// SmoothKernel is a light 3x3 smoothing kernel (sum 13).
	SmoothKernel = [9]float64{
		1, 1, 1,
		1, 5, 1,
		1, 1, 1,
	}
)

// Options holds the tunable constants of the filter.
type Options struct {
	// ContrastFactor scales intensities around the mean before edge
	// detection. 1 leaves the image unchanged.
	ContrastFactor float64

	// BlurSigma is the standard deviation of the Gaussian blur applied to
	// the inverted image. Larger values give softer shading.
	BlurSigma float64

	// EdgeKernel detects outlines. Applied without normalization.
	EdgeKernel [9]float64

	// EdgeSmoothKernel softens the inverted edge map. Normalized by its sum.
	EdgeSmoothKernel [25]float64

	// FinalSmoothKernel is applied to the composite. Normalized by its sum.
	FinalSmoothKernel [9]float64
}

// DefaultOptions returns the options used by [PencilSketch].
func DefaultOptions() Options {
	return Options{
		ContrastFactor:    1.2,
		BlurSigma:         15,
		EdgeKernel:        EdgeKernel,
		EdgeSmoothKernel:  SmoothMoreKernel,
		FinalSmoothKernel: SmoothKernel,
	}
}

// Validate reports whether the options can be applied.
func (o Options) Validate() error {
	if o.ContrastFactor < 0 {
		return fmt.Errorf("%w: contrast factor %g is negative", ErrInvalidOptions, o.ContrastFactor)
	}
	if o.BlurSigma < 0 {
		return fmt.Errorf("%w: blur sigma %g is negative", ErrInvalidOptions, o.BlurSigma)
	}
	return nil
}

// Filter applies a pencil sketch with configurable options.
// The zero Filter uses [DefaultOptions].
type Filter struct {
	Options Options
}

// PencilSketch converts img using [DefaultOptions].
//
// The result has the same width and height as img, with its origin at (0, 0).
func PencilSketch(img image.Image) (*image.Gray, error) {
	return Filter{Options: DefaultOptions()}.Apply(img)
}

// Apply converts img into a pencil sketch.
//
// It returns [ErrEmptyImage] for a nil or zero-sized image, and wraps
// [ErrProcessing] if any step fails.
func (f Filter) Apply(img image.Image) (out *image.Gray, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	opts := f.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrProcessing, r)
		}
	}()

	gray := Grayscale(img)
	enhanced := AdjustContrast(gray, opts.ContrastFactor)

	// Shading: dodge the original luminance with the blurred negative.
	blurred := Blur(Invert(enhanced), opts.BlurSigma)
	dodged := Dodge(gray, blurred)

	// Outlines: inverted edges, softened.
	edges := Invert(Convolve3x3(enhanced, opts.EdgeKernel, false))
	edges = Convolve5x5(edges, opts.EdgeSmoothKernel, true)

	out = Convolve3x3(Multiply(dodged, edges), opts.FinalSmoothKernel, true)
	if out.Bounds().Dx() != gray.Bounds().Dx() || out.Bounds().Dy() != gray.Bounds().Dy() {
		return nil, fmt.Errorf("%w: output is %v, want %v", ErrProcessing, out.Bounds().Size(), gray.Bounds().Size())
	}
	return out, nil
}
