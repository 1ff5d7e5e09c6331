package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbodonnell/flywheel-stats/pkg/api"
	"github.com/cbodonnell/flywheel-stats/pkg/broker"
	"github.com/cbodonnell/flywheel-stats/pkg/config"
	"github.com/cbodonnell/flywheel-stats/pkg/events"
	"github.com/cbodonnell/flywheel-stats/pkg/ledger"
	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/query"
	"github.com/cbodonnell/flywheel-stats/pkg/repositories"
	"github.com/cbodonnell/flywheel-stats/pkg/session"
	"github.com/cbodonnell/flywheel-stats/pkg/state"
	"github.com/cbodonnell/flywheel-stats/pkg/version"
	"github.com/cbodonnell/flywheel-stats/pkg/workers"
)

const eventChannelSize = 1000

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	logLevel := flag.String("log-level", "", "Log level, overrides the config file")
	port := flag.Int("port", 0, "API port, overrides the config file")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *port != 0 {
		cfg.WebServer.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting stats server version %s", version.Get())
	ctx := context.Background()

	settings, err := cfg.Settings()
	if err != nil {
		panic(fmt.Sprintf("Invalid tracking settings: %v", err))
	}

	repository, err := repositories.Open(ctx, cfg.Database.URL, cfg.Database.Migrations)
	if err != nil {
		if repositories.IsConnectionError(err) {
			panic(fmt.Sprintf("Database unreachable: %v", err))
		}
		panic(fmt.Sprintf("Failed to open repository: %v", err))
	}

	statsLedger := ledger.NewLedger(ledger.NewLedgerOptions{
		Repository:   repository,
		Shards:       cfg.Ledger.Shards,
		QueueSize:    cfg.Ledger.QueueSize,
		AdmitTimeout: cfg.Ledger.AdmitTimeoutDuration(),
		WriteTimeout: cfg.Ledger.WriteTimeoutDuration(),
		FlushBudget:  cfg.Ledger.FlushBudgetDuration(),
	})
	statsLedger.Start()

	tracker := session.NewTracker(statsLedger)
	presence := state.NewInMemoryPresenceManager()
	processor := events.NewProcessor(events.NewProcessorOptions{
		Ledger:   statsLedger,
		Sessions: tracker,
		Presence: presence,
		Settings: settings,
	})

	natsURL := cfg.Nats.URL
	var embedded *broker.EmbeddedServer
	if natsURL == "" {
		embedded, err = broker.NewEmbeddedServer(broker.NewEmbeddedServerOptions{
			Host:         cfg.Nats.Host,
			Port:         cfg.Nats.Port,
			StartTimeout: cfg.Nats.StartTimeoutDuration(),
		})
		if err != nil {
			panic(fmt.Sprintf("Failed to create embedded NATS server: %v", err))
		}
		if err := embedded.Start(); err != nil {
			panic(fmt.Sprintf("Failed to start embedded NATS server: %v", err))
		}
		natsURL = embedded.ClientURL()
	}
	nc, err := broker.Connect(natsURL, "flywheel-stats")
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to NATS at %s: %v", natsURL, err))
	}

	eventChan := make(chan events.Event, eventChannelSize)
	subscriber := broker.NewSubscriber(broker.NewSubscriberOptions{
		Conn:      nc,
		Subject:   cfg.Nats.Subject,
		EventChan: eventChan,
	})

	eventCtx, cancelEvents := context.WithCancel(ctx)
	eventWorker := workers.NewEventWorker(workers.NewEventWorkerOptions{
		Handler:   processor,
		EventChan: eventChan,
	})
	go eventWorker.Start(eventCtx)

	if err := subscriber.Start(); err != nil {
		panic(fmt.Sprintf("Failed to subscribe to events: %v", err))
	}

	statusSource := broker.NewStatusSource(broker.NewStatusSourceOptions{
		Conn:           nc,
		Subject:        cfg.Nats.Subject,
		Presence:       presence,
		RequestTimeout: cfg.Nats.RequestTimeoutDuration(),
	})
	snapshotCtx, cancelSnapshots := context.WithCancel(ctx)
	snapshotWorker := workers.NewSnapshotWorker(workers.NewSnapshotWorkerOptions{
		Source:   statusSource,
		Writer:   statsLedger,
		Settings: processor,
		Interval: settings.UpdateInterval(),
		Grace:    cfg.Tracking.ShutdownGraceDuration(),
	})
	go snapshotWorker.Start(snapshotCtx)

	server := api.NewAPIServer(api.NewAPIServerOptions{
		Port:    cfg.WebServer.Port,
		TLS:     tlsFromEnv(),
		Service: query.NewService(repository),
		CORS:    cfg.WebServer.CORS,
		APIKey:  cfg.WebServer.APIKey,
		Version: version.Get(),
	})
	go server.Start()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			log.Info("Received %s, shutting down", sig)
			break
		}
		reloadSettings(*configPath, processor)
	}
	signal.Stop(signals)

	grace := cfg.Tracking.ShutdownGraceDuration()
	stopCtx, cancelStop := context.WithTimeout(ctx, grace)
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop API server: %v", err)
	}
	cancelStop()

	if err := subscriber.Stop(); err != nil {
		log.Error("Failed to stop subscriber: %v", err)
	}
	cancelEvents()
	<-eventWorker.Done()

	cancelSnapshots()
	<-snapshotWorker.Done()

	log.Info("Flushing playtime of %d open sessions", tracker.Active())
	flushCtx, cancelFlush := context.WithTimeout(ctx, cfg.Ledger.FlushBudgetDuration())
	if failed := tracker.FlushAll(flushCtx, time.Now().UnixMilli()); failed > 0 {
		log.Error("Failed to flush playtime of %d sessions", failed)
	}
	cancelFlush()

	drainCtx, cancelDrain := context.WithTimeout(ctx, cfg.Ledger.FlushBudgetDuration())
	if err := statsLedger.Stop(drainCtx); err != nil {
		log.Error("Failed to drain ledger: %v", err)
	}
	cancelDrain()

	if err := repository.Close(ctx); err != nil {
		log.Error("Failed to close repository: %v", err)
	}
	if err := nc.Drain(); err != nil {
		log.Warn("Failed to drain NATS connection: %v", err)
	}
	nc.Close()
	if embedded != nil {
		embedded.Shutdown()
	}
	log.Info("Stats server stopped")
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg
}

// reloadSettings re-reads the tracking settings. Storage, transport and the
// update interval keep their startup values.
func reloadSettings(path string, processor *events.Processor) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("Failed to reload config: %v", err)
		return
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		log.Error("Ignoring invalid config: %v", err)
		return
	}
	settings, err := cfg.Settings()
	if err != nil {
		log.Error("Ignoring invalid tracking settings: %v", err)
		return
	}
	processor.SetSettings(settings)
	log.Info("Reloaded tracking settings from %s", path)
}

func tlsFromEnv() *api.TLSConfig {
	certFile := os.Getenv("STATS_API_TLS_CERT_FILE")
	keyFile := os.Getenv("STATS_API_TLS_KEY_FILE")
	if certFile == "" || keyFile == "" {
		return nil
	}
	return &api.TLSConfig{
		CertFile: certFile,
		KeyFile:  keyFile,
	}
}
