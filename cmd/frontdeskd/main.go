package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/h1v3-io/frontdesk/internal/api"
	"github.com/h1v3-io/frontdesk/internal/audit"
	"github.com/h1v3-io/frontdesk/internal/bridge"
	"github.com/h1v3-io/frontdesk/internal/calls"
	"github.com/h1v3-io/frontdesk/internal/config"
	"github.com/h1v3-io/frontdesk/internal/connector"
	slack "github.com/h1v3-io/frontdesk/internal/connector/slack"
	"github.com/h1v3-io/frontdesk/internal/connector/telegram"
	"github.com/h1v3-io/frontdesk/internal/connector/webhook"
	"github.com/h1v3-io/frontdesk/internal/engine"
	"github.com/h1v3-io/frontdesk/internal/escalation"
	"github.com/h1v3-io/frontdesk/internal/knowledge"
	"github.com/h1v3-io/frontdesk/internal/logbuf"
	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/internal/notify"
	"github.com/h1v3-io/frontdesk/internal/speech"
	"github.com/h1v3-io/frontdesk/internal/store"
	"github.com/h1v3-io/frontdesk/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (.json, .yaml or .yml)")
	configURL := flag.String("config-url", os.Getenv("FRONTDESK_CONFIG_URL"), "Config service URL")
	configKey := flag.String("config-key", os.Getenv("FRONTDESK_CONFIG_KEY"), "API key for the config service")
	siteID := flag.String("site-id", os.Getenv("FRONTDESK_SITE_ID"), "Site ID sent to the config service")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Load config (3 modes: file, remote, env)
	var cfg *config.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
	case *configURL != "":
		cfg, err = config.LoadRemote(config.RemoteOptions{
			URL:     *configURL,
			APIKey:  *configKey,
			SiteID:  *siteID,
			DataDir: os.Getenv("FRONTDESK_DATA_DIR"),
		})
	default:
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Set up logging
	logLevel := logbuf.ParseLevel(cfg.Log.Level)
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(cfg.Log.BufferSize)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("frontdeskd starting", "business", cfg.Business.Name, "store", cfg.Store.Driver)

	if err := run(cfg, logger, logBuf); err != nil {
		logger.Error("frontdeskd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("frontdeskd stopped")
}

func run(cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// 1. Record store
	var db store.Store
	switch cfg.Store.Driver {
	case "memory":
		db = store.NewMemoryStore()
		logger.Warn("using in-memory store; records are lost on exit")
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		sqlite, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
		}
		db = sqlite
	}
	defer db.Close()

	// 2. Audit trail: always logged, optionally published to Kafka
	auditSinks := audit.Multi{audit.NewLogSink(logger)}
	if cfg.Audit.Kafka != nil {
		ks, err := audit.NewKafkaSink(cfg.Audit.Kafka.Kafka(), logger.With("component", "audit-kafka"))
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		auditSinks = append(auditSinks, ks)
	}
	defer auditSinks.Close()

	// 3. Speech
	var transcriber speech.Transcriber
	var speechClient *speech.Client
	if cfg.Speech != nil {
		speechClient = speech.New(cfg.Speech.Config, logger.With("component", "speech"))
		transcriber = speechClient
	}

	// 4. Ledgers
	kc := knowledge.New(db, logger.With("component", "knowledge"))
	callLedger := calls.NewLedger(db, logger.With("component", "calls"))

	// The supervisor commands need the escalation ledger and the ledger
	// needs the chat notifiers, so commands are bound after construction.
	var commands *connector.Commands
	inbound := func(ctx context.Context, msg connector.InboundMessage) (string, error) {
		return commands.Handle(ctx, msg)
	}

	notifier := notify.NewMulti(m)
	var connectors []connector.Connector
	if sc := cfg.Connectors.Slack; sc != nil {
		conn, err := slack.New(*sc, inbound, logger.With("connector", "slack"))
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		connectors = append(connectors, conn)
		notifier.Add("slack", notify.NewChatNotifier(conn, conn.Channels(), logger.With("component", "notify")))
	}
	if tc := cfg.Connectors.Telegram; tc != nil {
		if tc.Language == "" && cfg.Speech != nil {
			tc.Language = cfg.Speech.Language
		}
		conn, err := telegram.New(*tc, inbound, transcriber, logger.With("connector", "telegram"))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		connectors = append(connectors, conn)
		notifier.Add("telegram", notify.NewChatNotifier(conn, conn.Chats(), logger.With("component", "notify")))
	}
	if mc := cfg.Notify.Mail; mc != nil {
		mail, err := notify.NewMailNotifier(*mc, logger.With("component", "notify-mail"))
		if err != nil {
			return err
		}
		notifier.Add("mail", mail)
	}
	if smsc := cfg.Notify.SMS; smsc != nil {
		sms, err := notify.NewSMSGateway(*smsc, logger.With("component", "notify-sms"))
		if err != nil {
			return err
		}
		notifier.Add("sms", sms)
	}
	if notifier.Len() == 0 {
		logger.Warn("no notification channel configured, notifications are only logged")
		notifier.Add("log", notify.NewLogNotifier(logger.With("component", "notify")))
	}

	escalations := escalation.NewLedger(db, kc, notifier, logger.With("component", "escalation"),
		escalation.WithCalls(callLedger),
		escalation.WithAudit(auditSinks),
		escalation.WithMetrics(m),
	)
	commands = connector.NewCommands(escalations, logger.With("component", "commands"))

	// 5. Telephony bridge and answering engine
	br := bridge.New(bridgeConfig(cfg), nil, callLedger, logger.With("component", "bridge"), m)

	opts := []engine.Option{engine.WithMetrics(m)}
	if speechClient != nil {
		opts = append(opts,
			engine.WithResponder(engine.NewSpeechResponder(speechClient, br, cfg.Speech.VoiceOptions(), logger.With("component", "responder"))),
			engine.WithTranscriber(transcriber, cfg.Speech.Language),
		)
	}
	eng := engine.New(cfg.Business, kc, callLedger, escalations, logger.With("component", "engine"), opts...)
	escalations.SetLiveDelivery(eng)

	var wg sync.WaitGroup
	goTracked := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			safeGo(logger, name, fn)
		}()
	}

	workerDone := make(chan struct{})
	var workerOpts []engine.WorkerOption
	if cfg.Speech != nil {
		workerOpts = append(workerOpts, engine.WithSilence(cfg.Speech.Silence.Std()))
	}
	worker := engine.NewWorker(eng, br.Events(), logger.With("component", "worker"), workerOpts...)
	go func() {
		defer close(workerDone)
		safeGo(logger, "engine-worker", func() { worker.Start(ctx) })
	}()

	bridgeDone := make(chan struct{})
	if cfg.Bridge != nil {
		go func() {
			defer close(bridgeDone)
			safeGo(logger, "bridge", func() { br.Run(ctx) })
		}()
	} else {
		close(bridgeDone)
		logger.Warn("no telephony bridge configured, only simulated calls are available")
	}

	// 6. Timeout sweeper
	sw, err := sweeper.New(escalations, cfg.Escalation.Sweeper(), logger.With("component", "sweeper"), m)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	goTracked("sweeper", func() { sw.Start(ctx) })

	// 7. Connectors
	for _, conn := range connectors {
		goTracked(conn.Name(), func() {
			if err := conn.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("connector stopped", "connector", conn.Name(), "error", err)
			}
		})
		logger.Info("connector started", "connector", conn.Name())
	}

	// 8. API server
	deps := api.Deps{
		Calls:       callLedger,
		Sessions:    br,
		Engine:      eng,
		Escalations: escalations,
		Sweeper:     sw,
		Knowledge:   kc,
		Logs:        logBuf,
		Metrics:     m.Handler(),
	}
	if wc := cfg.Connectors.Webhook; wc != nil {
		deps.Webhook = webhook.New(*wc, inbound, logger.With("connector", "webhook"))
	}
	apiSrv := api.NewServer(deps, cfg.API, logger.With("component", "api"))
	goTracked("api-server", func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server stopped", "error", err)
			cancel()
		}
	})

	// 9. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	cancel()

	// Calls still open are ended by the bridge before it closes the event
	// stream; the worker then drains what is left.
	<-bridgeDone
	br.Shutdown()
	<-workerDone

	for _, conn := range connectors {
		if err := conn.Stop(); err != nil {
			logger.Warn("connector stop failed", "connector", conn.Name(), "error", err)
		}
	}
	wg.Wait()
	escalations.Wait()
	return nil
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	if cfg.Bridge == nil {
		return bridge.Config{}
	}
	return cfg.Bridge.Bridge()
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
