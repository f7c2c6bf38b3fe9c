// Package webhook accepts supervisor commands over signed HTTP requests, for
// tools that can call a URL but cannot host a chat bot.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/h1v3-io/frontdesk/internal/connector"
)

// maxBody bounds a request body.
const maxBody = 1 << 20

// Config maps endpoint names to their auth settings.
type Config struct {
	Endpoints map[string]EndpointConfig `json:"endpoints" yaml:"endpoints"`
}

// EndpointConfig holds per-endpoint auth. Secret wins over BearerToken; with
// neither set the endpoint is open (development only).
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Signature-256 header).
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	// BearerToken for Authorization header auth.
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
}

// Payload is the request body.
type Payload struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

// Response is the reply body.
type Response struct {
	Status string `json:"status"`
	Reply  string `json:"reply,omitempty"`
}

// Handler serves POST /api/webhook/{name}.
type Handler struct {
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
}

func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{config: cfg, handler: handler, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		name = extractName(r.URL.Path)
	}
	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, "unknown webhook endpoint: "+name, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !authenticate(r, endpoint, body) {
		h.logger.Warn("webhook auth failed", "endpoint", name, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	sender := p.SenderID
	if sender == "" {
		sender = name
	}

	reply, err := h.handler(r.Context(), connector.InboundMessage{
		Channel:  "webhook:" + name,
		SenderID: sender,
		ChatID:   name,
		Content:  p.Text,
	})
	if err != nil {
		h.logger.Error("webhook handler error", "endpoint", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{Status: "ok", Reply: reply})
}

func authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	switch {
	case endpoint.Secret != "":
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Hub-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	case endpoint.BearerToken != "":
		return r.Header.Get("Authorization") == "Bearer "+endpoint.BearerToken
	}
	return true
}

// verifyHMAC checks a "sha256=<hex>" HMAC-SHA256 signature.
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ComputeSignature signs body the way verifyHMAC expects. The SMS gateway
// notifier uses it for outbound requests.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
