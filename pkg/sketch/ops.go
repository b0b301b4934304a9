package sketch

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Grayscale converts img to 8-bit luminance (0.299 R + 0.587 G + 0.114 B).
// The result's origin is (0, 0).
func Grayscale(img image.Image) *image.Gray {
	return fromNRGBA(imaging.Grayscale(img))
}

// AdjustContrast scales every intensity away from the image's mean by factor
// and clamps to [0, 255]. The mean is rounded to the nearest integer and the
// scaled values are truncated.
func AdjustContrast(src *image.Gray, factor float64) *image.Gray {
	dst := image.NewGray(src.Rect)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return dst
	}

	var sum uint64
	for y := 0; y < h; y++ {
		for _, v := range src.Pix[y*src.Stride : y*src.Stride+w] {
			sum += uint64(v)
		}
	}
	mean := float64(int(float64(sum)/float64(w*h) + 0.5))

	var lut [256]uint8
	for i := range lut {
		v := mean + factor*(float64(i)-mean)
		switch {
		case v <= 0:
			lut[i] = 0
		case v >= 255:
			lut[i] = 255
		default:
			lut[i] = uint8(v)
		}
	}
	return mapPix(src, dst, func(v uint8) uint8 { return lut[v] })
}

// Invert returns 255 - v for every pixel.
func Invert(src *image.Gray) *image.Gray {
	return fromNRGBA(imaging.Invert(src))
}

// Dodge blends gray with blurred: gray*255 / (256 - blurred), capped at 255.
// Wherever blurred is 255 the result is 255 regardless of gray.
//
// Both images must have the same size.
func Dodge(gray, blurred *image.Gray) *image.Gray {
	return combine(gray, blurred, func(g, b uint8) uint8 {
		if b == 255 {
			return 255
		}
		v := uint32(g) * 255 / (256 - uint32(b))
		if v > 255 {
			return 255
		}
		return uint8(v)
	})
}

// Multiply returns a*b/255 (rounded) pixel-wise, so white is the identity
// and black absorbs.
//
// Both images must have the same size.
func Multiply(a, b *image.Gray) *image.Gray {
	return combine(a, b, func(x, y uint8) uint8 {
		return uint8((uint32(x)*uint32(y) + 127) / 255)
	})
}

// Convolve3x3 applies a 3x3 kernel with replicated edges. When normalize is
// true the kernel is divided by the sum of its coefficients. Results are
// rounded and clamped to [0, 255].
func Convolve3x3(src *image.Gray, kernel [9]float64, normalize bool) *image.Gray {
	return fromNRGBA(imaging.Convolve3x3(src, kernel, &imaging.ConvolveOptions{Normalize: normalize}))
}

// Convolve5x5 is the 5x5 counterpart of [Convolve3x3].
func Convolve5x5(src *image.Gray, kernel [25]float64, normalize bool) *image.Gray {
	return fromNRGBA(imaging.Convolve5x5(src, kernel, &imaging.ConvolveOptions{Normalize: normalize}))
}

// fromNRGBA keeps the red channel of a grayscale NRGBA image.
func fromNRGBA(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride:]
		d := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			d[x] = s[x*4]
		}
	}
	return dst
}

func mapPix(src, dst *image.Gray, fn func(uint8) uint8) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w]
		d := dst.Pix[y*dst.Stride:]
		for x, v := range s {
			d[x] = fn(v)
		}
	}
	return dst
}

func combine(a, b *image.Gray, fn func(x, y uint8) uint8) *image.Gray {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if b.Rect.Dx() != w || b.Rect.Dy() != h {
		panic(fmt.Sprintf("sketch: size mismatch %v vs %v", a.Rect.Size(), b.Rect.Size()))
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		pa := a.Pix[y*a.Stride : y*a.Stride+w]
		pb := b.Pix[y*b.Stride:]
		d := dst.Pix[y*dst.Stride:]
		for x, v := range pa {
			d[x] = fn(v, pb[x])
		}
	}
	return dst
}
