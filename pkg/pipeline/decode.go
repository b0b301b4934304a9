package pipeline

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
)

// Decode parses image bytes in any registered format and applies the EXIF
// orientation tag. It returns the image and the detected format name.
//
// The header is read first; if it declares more than maxPixels pixels the
// data is rejected with ErrCodeTooLarge without decoding. maxPixels <= 0
// disables the check.
func Decode(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", apperrors.New(apperrors.ErrCodeDecode, "empty image data")
	}

	cfg, format, err := decodeConfig(data)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.ErrCodeDecode, err, "unrecognized image data")
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, format, apperrors.New(apperrors.ErrCodeTooLarge,
			"%s image is %dx%d, more than %d pixels", format, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, apperrors.Wrap(apperrors.ErrCodeDecode, err, "decode %s", format)
	}
	if img.Bounds().Empty() {
		return nil, format, apperrors.New(apperrors.ErrCodeDecode, "%s image has no pixels", format)
	}
	return img, format, nil
}

// Fit downscales img so neither side exceeds maxDim, keeping the aspect
// ratio. Images that already fit, and maxDim <= 0, are returned unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

func decodeConfig(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}
