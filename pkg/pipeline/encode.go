package pipeline

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"

	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
)

// Encode writes img in the given format.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var f imaging.Format
	switch format {
	case FormatJPEG, "jpg":
		f = imaging.JPEG
	case FormatPNG:
		f = imaging.PNG
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidFormat, "unsupported output format %q", format)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeEncode, err, "encode %s", format)
	}
	return buf.Bytes(), nil
}
