package errors

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageLength is the Telegram limit for a text message, in characters.
const MaxMessageLength = 4096

// Image format names accepted by the encoder.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// ValidateFormat checks that format names a supported output encoding.
// Matching is case-sensitive; "jpg" is accepted as an alias for "jpeg".
func ValidateFormat(format string) error {
	switch format {
	case FormatJPEG, "jpg", FormatPNG:
		return nil
	}
	return New(ErrCodeInvalidFormat, "invalid format: %q (must be one of: jpeg, png)", format)
}

// ValidateQuality checks a JPEG quality setting.
func ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return New(ErrCodeInvalidInput, "quality must be between 1 and 100, got %d", quality)
	}
	return nil
}

// ValidateImageSize rejects payloads that are empty or larger than limit.
// A limit of 0 disables the upper bound.
func ValidateImageSize(size, limit int64) error {
	if size <= 0 {
		return New(ErrCodeInvalidImage, "image is empty")
	}
	if limit > 0 && size > limit {
		return New(ErrCodeTooLarge, "image too large (%d bytes, max %d)", size, limit)
	}
	return nil
}

// ValidateBroadcastMessage validates the text of an admin broadcast.
//
// The rules are:
//   - Not empty or whitespace only
//   - At most MaxMessageLength characters
//   - No control characters other than newline and tab
func ValidateBroadcastMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return New(ErrCodeInvalidMessage, "broadcast message cannot be empty")
	}

	if !utf8.ValidString(text) {
		return New(ErrCodeInvalidMessage, "broadcast message is not valid UTF-8")
	}

	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return New(ErrCodeInvalidMessage, "broadcast message too long (%d characters, max %d)", n, MaxMessageLength)
	}

	for _, r := range text {
		if r == '\n' || r == '\t' {
			continue
		}
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidMessage, "broadcast message contains invalid control characters")
		}
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	// Simple scheme validation without full URL parsing
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// ValidateWebhookSecret checks the path secret used for the Telegram webhook.
// Telegram only forwards [A-Za-z0-9_-], so anything else is rejected.
func ValidateWebhookSecret(secret string) error {
	if len(secret) < 8 {
		return New(ErrCodeInvalidConfig, "webhook secret must be at least 8 characters")
	}
	if len(secret) > 256 {
		return New(ErrCodeInvalidConfig, "webhook secret too long (max 256 characters)")
	}
	for _, r := range secret {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return New(ErrCodeInvalidConfig, "webhook secret contains invalid character %q", r)
		}
	}
	return nil
}
