package config

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/frontdesk/internal/connector/telegram"
	"github.com/h1v3-io/frontdesk/internal/notify"
	"github.com/h1v3-io/frontdesk/internal/speech"
)

const validJSON = `{
  "data_dir": "/tmp/frontdesk-test",
  "business": {
    "name": "Corner Barber",
    "hours": "Tuesday-Saturday: 8am-6pm",
    "address": "9 Elm Road",
    "services": ["Haircut", "Shave"]
  },
  "escalation": {
    "timeout": 1800,
    "sweep_interval": "30s"
  },
  "bridge": {
    "url": "wss://telephony.example.com",
    "api_key": "key",
    "api_secret": "secret",
    "max_backoff": "2m"
  },
  "connectors": {
    "telegram": {
      "token": "123456:ABC",
      "allow_from": [100, 200],
      "chats": ["-1001"]
    }
  },
  "api": {
    "port": 9000,
    "key": "dashboard-key"
  }
}`

const validYAML = `
data_dir: /tmp/frontdesk-test
store:
  driver: memory
escalation:
  timeout: 2h
speech:
  api_key: sk-speech
  whisper_model: whisper-1
  voice: nova
  silence: 800ms
connectors:
  slack:
    bot_token: xoxb-1
    app_token: xapp-1
    channels: [C123]
  webhook:
    endpoints:
      crm:
        secret: s3cret
notify:
  sms:
    url: https://sms.example.com/send
    supervisor: "+15550000000"
audit:
  kafka:
    brokers: [localhost:9092]
    topic: frontdesk.audit
    batch_timeout: 500ms
log:
  level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.json", validJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Business.Name != "Corner Barber" || len(cfg.Business.Services) != 2 {
		t.Errorf("business = %+v", cfg.Business)
	}
	if got := cfg.Escalation.Sweeper(); got.Timeout != 30*time.Minute || got.Interval != 30*time.Second {
		t.Errorf("sweeper = %+v", got)
	}
	if cfg.Bridge == nil {
		t.Fatal("bridge is nil")
	}
	if b := cfg.Bridge.Bridge(); b.MaxBackoff != 2*time.Minute || b.InitialBackoff != 0 {
		t.Errorf("bridge = %+v", b)
	}
	if cfg.Connectors.Telegram == nil || len(cfg.Connectors.Telegram.AllowFrom) != 2 {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "/tmp/frontdesk-test/frontdesk.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 9000 || cfg.API.Key != "dashboard-key" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Log.Level != "info" || cfg.Log.BufferSize != 2000 {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Business.Name != "Elegant Touch Salon" {
		t.Errorf("expected default business, got %q", cfg.Business.Name)
	}
	if cfg.Escalation.Timeout.Std() != 2*time.Hour || cfg.Escalation.SweepInterval.Std() != time.Minute {
		t.Errorf("escalation = %+v", cfg.Escalation)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.Path != "" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Speech == nil || cfg.Speech.APIKey != "sk-speech" || cfg.Speech.WhisperModel != "whisper-1" {
		t.Fatalf("speech = %+v", cfg.Speech)
	}
	if cfg.Speech.VoiceOptions().Voice != "nova" || cfg.Speech.Language != "en" {
		t.Errorf("speech voice = %+v", cfg.Speech)
	}
	if cfg.Speech.Silence.Std() != 800*time.Millisecond {
		t.Errorf("silence = %v", cfg.Speech.Silence)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.Channels[0] != "C123" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
	if cfg.Connectors.Webhook.Endpoints["crm"].Secret != "s3cret" {
		t.Errorf("webhook = %+v", cfg.Connectors.Webhook)
	}
	if cfg.Notify.SMS.Supervisor != "+15550000000" {
		t.Errorf("sms = %+v", cfg.Notify.SMS)
	}
	if k := cfg.Audit.Kafka.Kafka(); k.BatchTimeout != 500*time.Millisecond || k.Topic != "frontdesk.audit" {
		t.Errorf("kafka = %+v", k)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	if _, err := Load(writeFile(t, "bad.json", "not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "data_dir: /tmp\nescalation:\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func validConfig() *Config {
	cfg := &Config{DataDir: "/data"}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad driver", func(c *Config) { c.Store.Driver = "dynamo" }, "store.driver"},
		{"negative timeout", func(c *Config) { c.Escalation.Timeout = -1 }, "escalation.timeout"},
		{"bridge without secret", func(c *Config) { c.Bridge = &BridgeConfig{URL: "wss://x", APIKey: "k"} }, "bridge.api_secret"},
		{"bridge backoff inverted", func(c *Config) {
			c.Bridge = &BridgeConfig{URL: "wss://x", APIKey: "k", APISecret: "s", InitialBackoff: Duration(time.Minute), MaxBackoff: Duration(time.Second)}
		}, "initial_backoff"},
		{"speech without key", func(c *Config) { c.Speech = &SpeechConfig{} }, "speech.api_key"},
		{"negative silence", func(c *Config) { c.Speech = &SpeechConfig{Config: speech.Config{APIKey: "k"}, Silence: -1} }, "speech.silence"},
		{"telegram without token", func(c *Config) { c.Connectors.Telegram = &telegram.Config{} }, "telegram.token"},
		{"mail without supervisor", func(c *Config) { c.Notify.Mail = &notify.MailConfig{Host: "smtp.example.com", From: "desk@example.com"} }, "notify.mail.supervisor"},
		{"kafka without topic", func(c *Config) { c.Audit.Kafka = &KafkaConfig{Brokers: []string{"b:9092"}} }, "audit.kafka.topic"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q error, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.API.Port = -1
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api.port") || !strings.Contains(err.Error(), "log.level") {
		t.Errorf("expected both errors, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FRONTDESK_DATA_DIR", "/env/data")
	t.Setenv("FRONTDESK_API_PORT", "9090")
	t.Setenv("FRONTDESK_BUSINESS_NAME", "Env Spa")
	t.Setenv("FRONTDESK_BUSINESS_SERVICES", "Massage, Facial")
	t.Setenv("FRONTDESK_ESCALATION_TIMEOUT", "900")
	t.Setenv("FRONTDESK_SWEEP_INTERVAL", "15s")
	t.Setenv("FRONTDESK_BRIDGE_URL", "wss://telephony.example.com")
	t.Setenv("FRONTDESK_BRIDGE_API_KEY", "k")
	t.Setenv("FRONTDESK_BRIDGE_API_SECRET", "s")
	t.Setenv("FRONTDESK_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("FRONTDESK_TELEGRAM_ALLOW_FROM", "100,200,300")
	t.Setenv("FRONTDESK_TELEGRAM_CHATS", "-1001")
	t.Setenv("FRONTDESK_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Store.Path != "/env/data/frontdesk.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if cfg.Business.Name != "Env Spa" || len(cfg.Business.Services) != 2 || cfg.Business.Services[1] != "Facial" {
		t.Errorf("business = %+v", cfg.Business)
	}
	if cfg.Business.Hours == "" {
		t.Error("hours should fall back to the default profile")
	}
	if got := cfg.Escalation.Sweeper(); got.Timeout != 15*time.Minute || got.Interval != 15*time.Second {
		t.Errorf("sweeper = %+v", got)
	}
	if cfg.Bridge == nil || cfg.Bridge.URL != "wss://telephony.example.com" {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if len(cfg.Connectors.Telegram.AllowFrom) != 3 || cfg.Connectors.Telegram.Chats[0] != "-1001" {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Audit.Kafka == nil || len(cfg.Audit.Kafka.Brokers) != 2 || cfg.Audit.Kafka.Topic != "frontdesk.audit" {
		t.Errorf("kafka = %+v", cfg.Audit.Kafka)
	}
}

func TestLoadFromEnv_BadValues(t *testing.T) {
	t.Setenv("FRONTDESK_ESCALATION_TIMEOUT", "later")
	t.Setenv("FRONTDESK_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("FRONTDESK_TELEGRAM_ALLOW_FROM", "100,abc")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"FRONTDESK_ESCALATION_TIMEOUT", "FRONTDESK_TELEGRAM_ALLOW_FROM"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDurationJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a": 1.5, "b": "1h30m"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A.Std() != 1500*time.Millisecond || v.B.Std() != 90*time.Minute {
		t.Errorf("got %v %v", v.A, v.B)
	}
	out, _ := json.Marshal(v.B)
	if string(out) != `"1h30m0s"` {
		t.Errorf("marshal = %s", out)
	}
	if err := json.Unmarshal([]byte(`{"a": true}`), &v); err == nil {
		t.Error("expected error for bool duration")
	}
}

func TestLoadRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Site-ID") != "site-1" {
			http.Error(w, "missing site id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte("data_dir: /ignored\nbusiness:\n  name: Remote Salon\n"))
	}))
	defer srv.Close()

	dataDir := filepath.Join(t.TempDir(), "data")
	cfg, err := LoadRemote(RemoteOptions{URL: srv.URL + "/config", APIKey: "test-key", SiteID: "site-1", DataDir: dataDir})
	if err != nil {
		t.Fatalf("LoadRemote: %v", err)
	}
	if cfg.Business.Name != "Remote Salon" {
		t.Errorf("business.name = %q", cfg.Business.Name)
	}
	if cfg.DataDir != dataDir || cfg.Store.Path != filepath.Join(dataDir, "frontdesk.db") {
		t.Errorf("data_dir = %q store.path = %q", cfg.DataDir, cfg.Store.Path)
	}
	if _, err := os.Stat(dataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestLoadRemote_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := LoadRemote(RemoteOptions{URL: srv.URL, DataDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Errorf("expected HTTP 403 error, got %v", err)
	}
}
