package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"gopkg.in/gomail.v2"
)

// MailConfig configures the SMTP notifier.
type MailConfig struct {
	Host       string   `json:"host" yaml:"host"`
	Port       int      `json:"port" yaml:"port"`
	User       string   `json:"user,omitempty" yaml:"user,omitempty"`
	Password   string   `json:"password,omitempty" yaml:"password,omitempty"`
	From       string   `json:"from" yaml:"from"`
	Supervisor []string `json:"supervisor" yaml:"supervisor"`
	Retries    int      `json:"retries,omitempty" yaml:"retries,omitempty"`
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier e-mails supervisor notifications. Customers are reached by
// e-mail only when their contact is an address.
type MailNotifier struct {
	sender  mailSender
	from    string
	to      []string
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func NewMailNotifier(cfg MailConfig, logger *slog.Logger) (*MailNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("notify: mail host and from are required")
	}
	if len(cfg.Supervisor) == 0 {
		return nil, fmt.Errorf("notify: at least one supervisor address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = 2
	}
	return newMailNotifier(gomail.NewDialer(cfg.Host, port, cfg.User, cfg.Password), cfg.From, cfg.Supervisor, retries, logger), nil
}

func newMailNotifier(s mailSender, from string, to []string, retries int, logger *slog.Logger) *MailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailNotifier{sender: s, from: from, to: to, retries: retries, backoff: 500 * time.Millisecond, logger: logger}
}

func (n *MailNotifier) NotifySupervisor(ctx context.Context, msg string) bool {
	return n.send(ctx, n.to, "New help request", msg)
}

func (n *MailNotifier) NotifyCustomer(ctx context.Context, contact, msg string) bool {
	if !looksLikeEmail(contact) {
		return false
	}
	return n.send(ctx, []string{contact}, "An answer to your question", msg)
}

func (n *MailNotifier) send(ctx context.Context, to []string, subject, body string) bool {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	backoff := n.backoff
	for attempt := 0; attempt <= n.retries; attempt++ {
		err := n.sender.DialAndSend(m)
		if err == nil {
			return true
		}
		n.logger.Warn("mail send failed", "attempt", attempt+1, "error", err)
		if attempt == n.retries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return false
}

func looksLikeEmail(s string) bool {
	_, err := mail.ParseAddress(s)
	return err == nil
}
