package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sketchmaster/sketchbot/pkg/buildinfo"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
	"github.com/sketchmaster/sketchbot/pkg/users"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.opts.WebhookSecret)) != 1 {
		http.NotFound(w, r)
		return
	}

	var u tgbotapi.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "invalid update"))
		return
	}
	// Telegram only needs the 200; the update is handled asynchronously.
	s.bot.Dispatch(r.Context(), u)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSketch(w http.ResponseWriter, r *http.Request) {
	opts := s.opts.Pipeline
	q := r.URL.Query()
	if f := q.Get("format"); f != "" {
		opts.Format = strings.ToLower(f)
	}
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "quality must be an integer"))
			return
		}
		opts.Quality = n
	}
	opts.Refresh = q.Get("refresh") == "true"
	if err := opts.ValidateAndSetDefaults(); err != nil {
		writeError(w, err)
		return
	}

	data, err := s.readImage(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.runner.Execute(r.Context(), data, opts)
	if err != nil {
		s.logger.Warn("sketch failed", "error", err)
		writeError(w, err)
		return
	}

	cacheStatus := "miss"
	if res.CacheHit {
		cacheStatus = "hit"
	}
	w.Header().Set("Content-Type", opts.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// readImage returns the upload: the "image" part of a multipart form, or
// the raw body.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.opts.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, uploadError(err, limit)
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "multipart field \"image\" is required")
		}
		defer f.Close()
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, uploadError(err, limit)
	}
	if err := apperrors.ValidateImageSize(int64(len(data)), limit); err != nil {
		return nil, err
	}
	return data, nil
}

func uploadError(err error, limit int64) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperrors.New(apperrors.ErrCodeTooLarge, "upload exceeds %d bytes", limit)
	}
	return apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "cannot read upload")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, apperrors.New(apperrors.ErrCodeForbidden, "admin token required"))
		return
	}
	if s.store == nil {
		writeError(w, apperrors.New(apperrors.ErrCodeInternal, "no user store configured"))
		return
	}
	st, err := users.Summarize(r.Context(), s.store, s.opts.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.AdminToken == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) == 1
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeInvalidFormat,
		apperrors.ErrCodeInvalidImage, apperrors.ErrCodeDecode:
		return http.StatusBadRequest
	case apperrors.ErrCodeProcessing:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: apperrors.UserMessage(err), Code: string(apperrors.GetCode(err))}
	if status == http.StatusInternalServerError {
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
