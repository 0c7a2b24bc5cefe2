package handbook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body.
const SignatureHeader = "X-Handbook-Signature"

const maxWebhookBody = 1 << 20

// VerifyWebhookSignature checks an HMAC-SHA256 signature of body, with or
// without the "sha256=" prefix, in constant time.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// EnvelopeSink accepts envelopes pushed by the backend.
type EnvelopeSink interface {
	HandleEnvelope(ctx context.Context, env Envelope) error
}

// WebhookReceiver accepts signed envelopes over HTTP, an alternative to a
// socket for server-side consumers. Verified envelopes go to the sink, and
// to subscribers when the receiver itself is used as an EventSource.
type WebhookReceiver struct {
	envelopeHub
	secret string
	sink   EnvelopeSink
	logger *slog.Logger
}

// NewWebhookReceiver creates a receiver. sink may be nil when the receiver
// is only used as an EventSource.
func NewWebhookReceiver(secret string, sink EnvelopeSink, logger *slog.Logger) (*WebhookReceiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookReceiver{secret: secret, sink: sink, logger: logger}, nil
}

// Handle verifies, decodes and delivers one webhook body. Events that fail
// to decode are rejected with 422 before anything is delivered. It returns
// the status code and response body for the caller to write.
func (w *WebhookReceiver) Handle(ctx context.Context, body []byte, signature string) (int, any) {
	if !VerifyWebhookSignature(body, signature, w.secret) {
		return http.StatusUnauthorized, map[string]string{"error": ErrInvalidSignature.Error()}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return http.StatusBadRequest, map[string]string{"error": "invalid JSON in webhook body"}
	}
	if env.Type == "" {
		return http.StatusBadRequest, map[string]string{"error": "missing type field"}
	}

	if _, err := DecodeEvent(env); err != nil {
		w.logger.Warn("webhook event rejected", slog.String("type", env.Type), slog.Any("error", err))
		return http.StatusUnprocessableEntity, map[string]string{"error": err.Error()}
	}

	w.dispatch(env)
	if w.sink != nil {
		if err := w.sink.HandleEnvelope(ctx, env); err != nil {
			if errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUnknownEvent) {
				return http.StatusUnprocessableEntity, map[string]string{"error": err.Error()}
			}
			return http.StatusInternalServerError, map[string]string{"error": err.Error()}
		}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// Router returns the receiver's HTTP routes:
//
//	POST /events   signed envelope
//	GET  /healthz  liveness
func (w *WebhookReceiver) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(w.logger))

	r.Post("/events", func(rw http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(rw, req.Body, maxWebhookBody))
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}
		status, data := w.Handle(req.Context(), body, req.Header.Get(SignatureHeader))
		writeJSON(rw, status, data)
	})
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(data)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("webhook request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
