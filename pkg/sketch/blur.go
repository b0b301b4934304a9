package sketch

import (
	"image"
	"math"
)

// Blur applies a separable Gaussian blur with standard deviation sigma.
// The kernel radius is ceil(3*sigma). Pixels outside the image take the value
// of the nearest edge pixel. A sigma of 0 returns a copy.
func Blur(src *image.Gray, sigma float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	if sigma <= 0 {
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[y*src.Stride:])
		}
		return dst
	}

	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2

	// Horizontal pass into a float buffer so rounding happens once.
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		out := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var sum float64
			for k, wt := range kernel {
				sum += wt * float64(row[clampIndex(x+k-radius, w)])
			}
			out[x] = sum
		}
	}

	// Vertical pass.
	col := make([]float64, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = tmp[y*w+x]
		}
		for y := 0; y < h; y++ {
			var sum float64
			for k, wt := range kernel {
				sum += wt * col[clampIndex(y+k-radius, h)]
			}
			dst.Pix[y*dst.Stride+x] = clampUint8(sum)
		}
	}
	return dst
}

// gaussianKernel returns a normalized 1D kernel of size 2*ceil(3*sigma)+1.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	twoSigmaSq := 2 * sigma * sigma

	var sum float64
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / twoSigmaSq)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
