package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("image-bytes"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		case "/missing":
			http.NotFound(w, r)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		data, err := Download(ctx, srv.Client(), srv.URL+"/ok", 1024)
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if string(data) != "image-bytes" {
			t.Errorf("body = %q", data)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, err := Download(ctx, srv.Client(), srv.URL+"/big", 16)
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("no limit", func(t *testing.T) {
		data, err := Download(ctx, srv.Client(), srv.URL+"/big", 0)
		if err != nil || len(data) != 64 {
			t.Errorf("len=%d err=%v", len(data), err)
		}
	})

	t.Run("not found is permanent", func(t *testing.T) {
		_, err := Download(ctx, srv.Client(), srv.URL+"/missing", 0)
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
			t.Fatalf("err = %v, want 404 StatusError", err)
		}
		if IsRetryable(err) {
			t.Error("404 should not be retryable")
		}
	})

	t.Run("transport error hides token", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		base := dead.URL
		dead.Close()

		_, err := Download(ctx, nil, base+"/file/bot123456:SECRETTOKEN/photos/a.jpg", 0)
		if err == nil {
			t.Fatal("Download from a closed server should fail")
		}
		if strings.Contains(err.Error(), "SECRETTOKEN") {
			t.Errorf("error leaks the token: %v", err)
		}
		if !IsRetryable(err) {
			t.Errorf("err = %v, want retryable", err)
		}
		var ue *url.Error
		if !errors.As(err, &ue) {
			t.Errorf("err = %v, want a *url.Error in the chain", err)
		}
	})

	t.Run("5xx is retryable", func(t *testing.T) {
		_, err := Download(ctx, srv.Client(), srv.URL+"/down", 0)
		if !IsRetryable(err) {
			t.Errorf("err = %v, want retryable", err)
		}
	})
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.telegram.org/file/bot123:ABC/photos/file_1.jpg", "/file/bot<redacted>/photos/file_1.jpg"},
		{"https://api.telegram.org/bot123:ABC/getMe", "/bot<redacted>/getMe"},
		{"https://example.com/bots/list", "/bots/list"},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.in)
		if got := redactPath(u); got != tt.want {
			t.Errorf("redactPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactError(t *testing.T) {
	const secret = "bot123456:SECRET-tok_en"
	cause := errors.New("connection refused")
	urlErr := &url.Error{Op: "Post", URL: "https://api.telegram.org/" + secret + "/sendMessage", Err: cause}

	tests := []struct {
		name string
		err  error
	}{
		{"url error", urlErr},
		{"wrapped url error", fmt.Errorf("send: %w", urlErr)},
		{"plain", fmt.Errorf("GET /file/%s/a.jpg failed", secret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactError(tt.err)
			if strings.Contains(got.Error(), "SECRET") {
				t.Errorf("Error() = %q still contains the token", got)
			}
			if !strings.Contains(got.Error(), "bot<redacted>") {
				t.Errorf("Error() = %q, want a redaction marker", got)
			}
			if !errors.Is(got, tt.err) && !errors.Is(got, cause) {
				t.Error("redacted error should unwrap to the original")
			}
		})
	}

	if RedactError(nil) != nil {
		t.Error("RedactError(nil) should be nil")
	}
	if RedactError(cause) != cause {
		t.Error("errors without a token should be returned unchanged")
	}
}
