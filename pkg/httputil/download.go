package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sketchmaster/sketchbot/pkg/buildinfo"
	"github.com/sketchmaster/sketchbot/pkg/observability"
)

// ErrTooLarge is returned by [Download] when the body exceeds the limit.
var ErrTooLarge = errors.New("response body too large")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Download fetches rawURL and returns the body. At most limit bytes are
// read; a larger body yields [ErrTooLarge]. A limit of 0 disables the check.
// A nil client uses [http.DefaultClient].
//
// Network errors and 5xx/429 responses are wrapped in [RetryableError].
func Download(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	hooks := observability.HTTP()
	host, path := req.URL.Host, redactPath(req.URL)
	hooks.OnRequest(ctx, req.Method, host, path)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		err = RedactError(err)
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Err: fmt.Errorf("GET %s%s: %w", host, path, err)}
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, URL: host + path}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RetryableError{Err: serr}
		}
		return nil, serr
	}

	if limit > 0 && resp.ContentLength > limit {
		return nil, ErrTooLarge
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &RetryableError{Err: RedactError(err)}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// redactPath strips Telegram bot tokens ("/bot<token>/" or
// "/file/bot<token>/") from a URL path.
func redactPath(u *url.URL) string {
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "bot") && strings.Contains(p, ":") {
			parts[i] = "bot<redacted>"
		}
	}
	return strings.Join(parts, "/")
}

var tokenPattern = regexp.MustCompile(`bot\d+:[\w-]+`)

// RedactError hides Telegram bot tokens in err's message. A *url.Error
// keeps its type with the URL rewritten; anything else is wrapped, so
// errors.Is and errors.As still see the original.
func RedactError(err error) error {
	if err == nil || !tokenPattern.MatchString(err.Error()) {
		return err
	}
	if ue, ok := err.(*url.Error); ok {
		c := *ue
		c.URL = tokenPattern.ReplaceAllString(ue.URL, "bot<redacted>")
		if !tokenPattern.MatchString(c.Error()) {
			return &c
		}
		err = &c
	}
	return &redactedError{err: err}
}

type redactedError struct{ err error }

func (e *redactedError) Error() string {
	return tokenPattern.ReplaceAllString(e.err.Error(), "bot<redacted>")
}

func (e *redactedError) Unwrap() error { return e.err }
