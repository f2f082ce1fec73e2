// Package webhook receives Jira issue webhooks and hands them to the relay.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/h1v3-io/helpdesk/internal/relay"
)

// maxBody caps the accepted payload size.
const maxBody = 1 << 20

// Config holds webhook authentication settings. With neither field set,
// requests are accepted unauthenticated (for development).
type Config struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature header).
	Secret string
	// Token accepted as "Authorization: Bearer <token>" or "?token=<token>".
	// Jira Server cannot set headers, so the query form is the common one.
	Token string
}

// EventHandler processes a decoded payload. *relay.Relay implements it.
type EventHandler interface {
	Handle(ctx context.Context, p *relay.Payload) (relay.Outcome, error)
}

// Handler serves POST /webhook/jira.
type Handler struct {
	config  Config
	handler EventHandler
	logger  *slog.Logger
}

// New creates a new webhook handler.
func New(cfg Config, handler EventHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:  cfg,
		handler: handler,
		logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBody {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !h.authenticate(r, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload, err := relay.Decode(bytes.NewReader(body))
	if err != nil {
		h.logger.Warn("webhook payload rejected", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	outcome, err := h.handler.Handle(r.Context(), payload)
	if err != nil {
		h.logger.Error("webhook handler error",
			"key", payload.Issue.Key,
			"event", payload.WebhookEvent,
			"error", err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "outcome": outcome.String()})
}

func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.config.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature")
		if sig == "" {
			sig = r.Header.Get("X-Hub-Signature-256")
		}
		return verifyHMAC(body, h.config.Secret, sig)
	}

	if h.config.Token != "" {
		got := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			got = strings.TrimPrefix(auth, "Bearer ")
		}
		return subtle.ConstantTimeCompare([]byte(got), []byte(h.config.Token)) == 1
	}

	return true
}

var errNoSignature = errors.New("missing signature")

// verifyHMAC checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	expected, err := decodeSignature(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func decodeSignature(signature string) ([]byte, error) {
	if signature == "" {
		return nil, errNoSignature
	}
	return hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
