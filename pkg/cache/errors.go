package cache

import (
	"errors"

	"github.com/sketchmaster/sketchbot/pkg/httputil"
)

// ErrNetwork is returned when a remote cache backend cannot be reached.
var ErrNetwork = errors.New("network error")

// Retryable marks err as transient so [httputil.Retry] will try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &httputil.RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with [Retryable].
func IsRetryable(err error) bool {
	return httputil.IsRetryable(err)
}
