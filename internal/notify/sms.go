package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/h1v3-io/frontdesk/internal/connector/webhook"
)

// SMSConfig configures the outbound SMS gateway webhook.
type SMSConfig struct {
	URL    string `json:"url" yaml:"url"`
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
	// Supervisor is the phone number supervisor alerts go to; empty disables them.
	Supervisor string `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SMSGateway posts {to, body} to an SMS gateway, signing the body with the
// same X-Signature-256 scheme the inbound webhooks verify.
type SMSGateway struct {
	cfg    SMSConfig
	client *http.Client
	logger *slog.Logger
}

func NewSMSGateway(cfg SMSConfig, logger *slog.Logger) (*SMSGateway, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: sms gateway url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSGateway{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}, logger: logger}, nil
}

func (g *SMSGateway) NotifySupervisor(ctx context.Context, msg string) bool {
	if g.cfg.Supervisor == "" {
		return false
	}
	return g.send(ctx, g.cfg.Supervisor, msg)
}

func (g *SMSGateway) NotifyCustomer(ctx context.Context, contact, msg string) bool {
	if contact == "" || contact == "unknown" {
		return false
	}
	return g.send(ctx, contact, msg)
}

func (g *SMSGateway) send(ctx context.Context, to, body string) bool {
	payload, err := json.Marshal(smsPayload{To: to, Body: body})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		g.logger.Warn("sms request build failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", webhook.ComputeSignature(payload, g.cfg.Secret))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("sms send failed", "to", to, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Warn("sms gateway rejected message", "to", to, "status", resp.StatusCode, "body", string(b))
		return false
	}
	return true
}
