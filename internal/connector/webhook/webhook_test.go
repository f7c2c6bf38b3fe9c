package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/h1v3-io/frontdesk/internal/connector"
)

type capturedMessage struct {
	mu   sync.Mutex
	msgs []connector.InboundMessage
	err  error
}

func (c *capturedMessage) handler(_ context.Context, msg connector.InboundMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	if c.err != nil {
		return "", c.err
	}
	return "got: " + msg.Content, nil
}

func (c *capturedMessage) last() connector.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[len(c.msgs)-1]
}

func newTestHandler(endpoints map[string]EndpointConfig) (*Handler, *capturedMessage) {
	cap := &capturedMessage{}
	h := New(Config{Endpoints: endpoints}, cap.handler, nil)
	return h, cap
}

func post(h http.Handler, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhook_CommandReply(t *testing.T) {
	h, cap := newTestHandler(map[string]EndpointConfig{"ops": {}})

	w := post(h, "/api/webhook/ops", `{"sender_id":"pager","text":"/pending"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	msg := cap.last()
	if msg.Channel != "webhook:ops" || msg.SenderID != "pager" || msg.ChatID != "ops" || msg.Content != "/pending" {
		t.Errorf("inbound = %+v", msg)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Reply != "got: /pending" {
		t.Errorf("response = %+v", resp)
	}
}

func TestWebhook_DefaultSender(t *testing.T) {
	h, cap := newTestHandler(map[string]EndpointConfig{"ops": {}})
	post(h, "/api/webhook/ops", `{"text":"/help"}`, nil)
	if cap.last().SenderID != "ops" {
		t.Errorf("sender = %q", cap.last().SenderID)
	}
}

func TestWebhook_BearerAuth(t *testing.T) {
	h, _ := newTestHandler(map[string]EndpointConfig{"ci": {BearerToken: "secret123"}})
	payload := `{"text":"/pending"}`

	if w := post(h, "/api/webhook/ci", payload, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without auth, got %d", w.Code)
	}
	if w := post(h, "/api/webhook/ci", payload, map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong auth, got %d", w.Code)
	}
	if w := post(h, "/api/webhook/ci", payload, map[string]string{"Authorization": "Bearer secret123"}); w.Code != http.StatusOK {
		t.Errorf("expected 200 with correct auth, got %d", w.Code)
	}
}

func TestWebhook_HMACAuth(t *testing.T) {
	secret := "webhook_secret_key"
	h, _ := newTestHandler(map[string]EndpointConfig{"desk": {Secret: secret}})

	payload := `{"text":"/answer 3f2a9c1e yes"}`
	sig := ComputeSignature([]byte(payload), secret)

	if w := post(h, "/api/webhook/desk", payload, map[string]string{"X-Signature-256": sig}); w.Code != http.StatusOK {
		t.Errorf("expected 200 with valid HMAC, got %d", w.Code)
	}
	if w := post(h, "/api/webhook/desk", payload, map[string]string{"X-Hub-Signature-256": sig}); w.Code != http.StatusOK {
		t.Errorf("expected 200 with hub header, got %d", w.Code)
	}
	if w := post(h, "/api/webhook/desk", payload, map[string]string{"X-Signature-256": "sha256=invalid"}); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid HMAC, got %d", w.Code)
	}
	if w := post(h, "/api/webhook/desk", payload, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without signature, got %d", w.Code)
	}
}

func TestWebhook_BadRequests(t *testing.T) {
	h, cap := newTestHandler(map[string]EndpointConfig{"test": {}})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown endpoint", "/api/webhook/unknown", `{"text":"hi"}`, http.StatusNotFound},
		{"empty text", "/api/webhook/test", `{"text":"  "}`, http.StatusBadRequest},
		{"invalid json", "/api/webhook/test", `not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := post(h, tt.path, tt.body, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/webhook/test", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}

	cap.err = errors.New("store down")
	if w := post(h, "/api/webhook/test", `{"text":"/pending"}`, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("handler failure status = %d", w.Code)
	}
}

func TestExtractName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/webhook/github", "github"},
		{"/api/webhook/ci/", "ci"},
		{"/webhook", "webhook"},
		{"/", ""},
	}
	for _, tt := range tests {
		if got := extractName(tt.path); got != tt.want {
			t.Errorf("extractName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestComputeSignature(t *testing.T) {
	sig := ComputeSignature([]byte("test body"), "secret")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature should start with sha256=: %q", sig)
	}
	if !verifyHMAC([]byte("test body"), "secret", sig) {
		t.Error("signature should verify")
	}
	if verifyHMAC([]byte("other body"), "secret", sig) {
		t.Error("signature should not verify a different body")
	}
}
