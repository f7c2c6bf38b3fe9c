// Package config loads frontdeskd settings from a JSON or YAML file, a
// remote config endpoint, or FRONTDESK_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/frontdesk/internal/api"
	"github.com/h1v3-io/frontdesk/internal/audit"
	"github.com/h1v3-io/frontdesk/internal/bridge"
	slack "github.com/h1v3-io/frontdesk/internal/connector/slack"
	"github.com/h1v3-io/frontdesk/internal/connector/telegram"
	"github.com/h1v3-io/frontdesk/internal/connector/webhook"
	"github.com/h1v3-io/frontdesk/internal/engine"
	"github.com/h1v3-io/frontdesk/internal/notify"
	"github.com/h1v3-io/frontdesk/internal/speech"
	"github.com/h1v3-io/frontdesk/internal/sweeper"
)

// Config is the top-level frontdesk configuration.
type Config struct {
	DataDir    string              `json:"data_dir" yaml:"data_dir"`
	Store      StoreConfig         `json:"store" yaml:"store"`
	Business   engine.BusinessInfo `json:"business" yaml:"business"`
	Escalation EscalationConfig    `json:"escalation" yaml:"escalation"`
	Bridge     *BridgeConfig       `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Speech     *SpeechConfig       `json:"speech,omitempty" yaml:"speech,omitempty"`
	Connectors ConnectorConfig     `json:"connectors" yaml:"connectors"`
	Notify     NotifyConfig        `json:"notify" yaml:"notify"`
	Audit      AuditConfig         `json:"audit" yaml:"audit"`
	API        api.Config          `json:"api" yaml:"api"`
	Log        LogConfig           `json:"log" yaml:"log"`
}

// StoreConfig selects the record store. Driver is "sqlite" (default) or
// "memory"; Path defaults to <data_dir>/frontdesk.db.
type StoreConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// EscalationConfig holds help request timing.
type EscalationConfig struct {
	Timeout       Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	SweepInterval Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`
}

// Sweeper converts to the sweeper's settings.
func (c EscalationConfig) Sweeper() sweeper.Config {
	return sweeper.Config{Timeout: c.Timeout.Std(), Interval: c.SweepInterval.Std()}
}

// BridgeConfig holds telephony transport settings.
type BridgeConfig struct {
	URL            string   `json:"url" yaml:"url"`
	APIKey         string   `json:"api_key" yaml:"api_key"`
	APISecret      string   `json:"api_secret" yaml:"api_secret"`
	Room           string   `json:"room,omitempty" yaml:"room,omitempty"`
	TokenTTL       Duration `json:"token_ttl,omitempty" yaml:"token_ttl,omitempty"`
	InitialBackoff Duration `json:"initial_backoff,omitempty" yaml:"initial_backoff,omitempty"`
	MaxBackoff     Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
}

// Bridge converts to the bridge's settings. Zero durations take the
// bridge defaults.
func (c BridgeConfig) Bridge() bridge.Config {
	return bridge.Config{
		URL:            c.URL,
		APIKey:         c.APIKey,
		APISecret:      c.APISecret,
		Room:           c.Room,
		TokenTTL:       c.TokenTTL.Std(),
		InitialBackoff: c.InitialBackoff.Std(),
		MaxBackoff:     c.MaxBackoff.Std(),
	}
}

// SpeechConfig holds speech-to-text and text-to-speech settings.
type SpeechConfig struct {
	speech.Config `yaml:",inline"`

	Voice    string  `json:"voice,omitempty" yaml:"voice,omitempty"`
	Speed    float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Language string  `json:"language,omitempty" yaml:"language,omitempty"`

	// Silence is the pause that ends a caller utterance.
	Silence Duration `json:"silence,omitempty" yaml:"silence,omitempty"`
}

// VoiceOptions returns the synthesis voice.
func (c SpeechConfig) VoiceOptions() speech.VoiceOptions {
	return speech.VoiceOptions{Voice: c.Voice, Speed: c.Speed}
}

// ConnectorConfig holds the supervisor chat connectors.
type ConnectorConfig struct {
	Slack    *slack.Config    `json:"slack,omitempty" yaml:"slack,omitempty"`
	Telegram *telegram.Config `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Webhook  *webhook.Config  `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// NotifyConfig holds the non-chat notification channels.
type NotifyConfig struct {
	Mail *notify.MailConfig `json:"mail,omitempty" yaml:"mail,omitempty"`
	SMS  *notify.SMSConfig  `json:"sms,omitempty" yaml:"sms,omitempty"`
}

// AuditConfig holds the audit trail sinks. Events are always logged.
type AuditConfig struct {
	Kafka *KafkaConfig `json:"kafka,omitempty" yaml:"kafka,omitempty"`
}

// KafkaConfig holds audit topic settings.
type KafkaConfig struct {
	Brokers      []string `json:"brokers" yaml:"brokers"`
	Topic        string   `json:"topic" yaml:"topic"`
	BatchTimeout Duration `json:"batch_timeout,omitempty" yaml:"batch_timeout,omitempty"`
	WriteTimeout Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
}

// Kafka converts to the audit sink's settings.
func (c KafkaConfig) Kafka() audit.KafkaConfig {
	return audit.KafkaConfig{
		Brokers:      c.Brokers,
		Topic:        c.Topic,
		BatchTimeout: c.BatchTimeout.Std(),
		WriteTimeout: c.WriteTimeout.Std(),
	}
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	BufferSize int    `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
}

// Load reads configuration from a file. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func parse(data []byte, asYAML bool) (*Config, error) {
	var cfg Config
	var err error
	if asYAML {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with the
// FRONTDESK_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir: getenv("FRONTDESK_DATA_DIR", "/data"),
		Store: StoreConfig{
			Driver: os.Getenv("FRONTDESK_STORE_DRIVER"),
			Path:   os.Getenv("FRONTDESK_DB_PATH"),
		},
		API: api.Config{
			Host: getenv("FRONTDESK_API_HOST", "0.0.0.0"),
			Port: getenvInt("FRONTDESK_API_PORT", 8080),
			Key:  os.Getenv("FRONTDESK_API_KEY"),
		},
		Log: LogConfig{Level: os.Getenv("FRONTDESK_LOG_LEVEL")},
	}
	if name := os.Getenv("FRONTDESK_BUSINESS_NAME"); name != "" {
		cfg.Business = engine.DefaultBusinessInfo()
		cfg.Business.Name = name
		cfg.Business.Hours = getenv("FRONTDESK_BUSINESS_HOURS", cfg.Business.Hours)
		cfg.Business.Address = getenv("FRONTDESK_BUSINESS_ADDRESS", cfg.Business.Address)
		if s := os.Getenv("FRONTDESK_BUSINESS_SERVICES"); s != "" {
			cfg.Business.Services = parseStringList(s)
		}
	}

	var errs []string
	var silence Duration
	durations := []struct {
		key string
		dst *Duration
	}{
		{"FRONTDESK_ESCALATION_TIMEOUT", &cfg.Escalation.Timeout},
		{"FRONTDESK_SWEEP_INTERVAL", &cfg.Escalation.SweepInterval},
		{"FRONTDESK_SILENCE", &silence},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", d.key, err))
				continue
			}
			*d.dst = parsed
		}
	}

	if url := os.Getenv("FRONTDESK_BRIDGE_URL"); url != "" {
		cfg.Bridge = &BridgeConfig{
			URL:       url,
			APIKey:    os.Getenv("FRONTDESK_BRIDGE_API_KEY"),
			APISecret: os.Getenv("FRONTDESK_BRIDGE_API_SECRET"),
			Room:      os.Getenv("FRONTDESK_BRIDGE_ROOM"),
		}
	}

	if key := os.Getenv("FRONTDESK_SPEECH_API_KEY"); key != "" {
		cfg.Speech = &SpeechConfig{
			Config: speech.Config{
				APIKey:     key,
				WhisperURL: os.Getenv("FRONTDESK_WHISPER_URL"),
				TTSURL:     os.Getenv("FRONTDESK_TTS_URL"),
			},
			Voice:    os.Getenv("FRONTDESK_VOICE"),
			Language: getenv("FRONTDESK_LANGUAGE", "en"),
			Silence:  silence,
		}
	}

	if token := os.Getenv("FRONTDESK_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &telegram.Config{
			Token: token,
			Chats: parseStringList(os.Getenv("FRONTDESK_TELEGRAM_CHATS")),
		}
		if ids := os.Getenv("FRONTDESK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				errs = append(errs, fmt.Sprintf("FRONTDESK_TELEGRAM_ALLOW_FROM: %v", err))
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}
	if token := os.Getenv("FRONTDESK_SLACK_BOT_TOKEN"); token != "" {
		cfg.Connectors.Slack = &slack.Config{
			BotToken: token,
			AppToken: os.Getenv("FRONTDESK_SLACK_APP_TOKEN"),
			Channels: parseStringList(os.Getenv("FRONTDESK_SLACK_CHANNELS")),
		}
	}
	if url := os.Getenv("FRONTDESK_SMS_URL"); url != "" {
		cfg.Notify.SMS = &notify.SMSConfig{
			URL:        url,
			Secret:     os.Getenv("FRONTDESK_SMS_SECRET"),
			Supervisor: os.Getenv("FRONTDESK_SMS_SUPERVISOR"),
		}
	}
	if brokers := os.Getenv("FRONTDESK_KAFKA_BROKERS"); brokers != "" {
		cfg.Audit.Kafka = &KafkaConfig{
			Brokers: parseStringList(brokers),
			Topic:   getenv("FRONTDESK_KAFKA_TOPIC", "frontdesk.audit"),
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: environment:\n  - %s", strings.Join(errs, "\n  - "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Business.Name == "" {
		c.Business = engine.DefaultBusinessInfo()
	}
	if c.Escalation.Timeout == 0 {
		c.Escalation.Timeout = Duration(sweeper.DefaultTimeout)
	}
	if c.Escalation.SweepInterval == 0 {
		c.Escalation.SweepInterval = Duration(sweeper.DefaultInterval)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" && c.DataDir != "" {
		c.Store.Path = filepath.Join(c.DataDir, "frontdesk.db")
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.BufferSize == 0 {
		c.Log.BufferSize = 2000
	}
	if c.Speech != nil {
		if c.Speech.Language == "" {
			c.Speech.Language = "en"
		}
		if c.Speech.Silence == 0 {
			c.Speech.Silence = Duration(engine.DefaultSilence)
		}
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path or data_dir is required for the sqlite store")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or memory", c.Store.Driver))
	}

	if c.Business.Name == "" {
		errs = append(errs, "business.name is required")
	}
	if c.Escalation.Timeout < 0 {
		errs = append(errs, "escalation.timeout must be positive")
	}
	if c.Escalation.SweepInterval < 0 {
		errs = append(errs, "escalation.sweep_interval must be positive")
	}

	if b := c.Bridge; b != nil {
		if b.URL == "" {
			errs = append(errs, "bridge.url is required")
		}
		if b.APIKey == "" || b.APISecret == "" {
			errs = append(errs, "bridge.api_key and bridge.api_secret are required")
		}
		if b.MaxBackoff > 0 && b.InitialBackoff > b.MaxBackoff {
			errs = append(errs, "bridge.initial_backoff must not exceed bridge.max_backoff")
		}
	}
	if c.Speech != nil {
		if c.Speech.APIKey == "" {
			errs = append(errs, "speech.api_key is required")
		}
		if c.Speech.Silence < 0 {
			errs = append(errs, "speech.silence must be positive")
		}
	}

	if s := c.Connectors.Slack; s != nil {
		if s.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if s.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}
	if t := c.Connectors.Telegram; t != nil && t.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if w := c.Connectors.Webhook; w != nil {
		for name := range w.Endpoints {
			if name == "" || strings.Contains(name, "/") {
				errs = append(errs, fmt.Sprintf("connectors.webhook.endpoints: invalid name %q", name))
			}
		}
	}

	if m := c.Notify.Mail; m != nil {
		if m.Host == "" || m.From == "" {
			errs = append(errs, "notify.mail.host and notify.mail.from are required")
		}
		if len(m.Supervisor) == 0 {
			errs = append(errs, "notify.mail.supervisor needs at least one address")
		}
	}
	if s := c.Notify.SMS; s != nil && s.URL == "" {
		errs = append(errs, "notify.sms.url is required")
	}
	if k := c.Audit.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			errs = append(errs, "audit.kafka.brokers is required")
		}
		if k.Topic == "" {
			errs = append(errs, "audit.kafka.topic is required")
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseStringList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	parts := parseStringList(s)
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}

// Duration is a time.Duration read from "90s"-style strings or from a bare
// number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration accepts Go duration syntax or a number of seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(x * float64(time.Second))
		return nil
	case string:
		parsed, err := ParseDuration(x)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	return fmt.Errorf("invalid duration %s", b)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := ParseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
