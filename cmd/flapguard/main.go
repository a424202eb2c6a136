package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flapguard/internal/api"
	"flapguard/internal/config"
	"flapguard/internal/decisions"
	"flapguard/internal/engine"
	"flapguard/internal/ingest"
	"flapguard/internal/logging"
	"flapguard/internal/metrics"
	"flapguard/internal/model"
	"flapguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	watch := flag.Bool("watch", false, "reload the config file when it changes")
	flag.Parse()

	if err := run(*configPath, *watch); err != nil {
		fmt.Fprintln(os.Stderr, "flapguard:", err)
		os.Exit(1)
	}
}

func run(configPath string, watch bool) error {
	path := config.ResolvePath(configPath)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	manager := config.ManagerFor(path, cfg)
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.NewStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	registry, err := engine.NewRegistry(cfg)
	if err != nil {
		return err
	}
	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	decisionStore := decisions.NewStore(cfg.Decisions.StoreLimit)
	eng := engine.NewEngine(cfg, logger, registry, metricsStore, decisionStore, store)
	if n, err := eng.Restore(ctx); err != nil {
		logger.Warn("restore policies failed", "err", err)
	} else if n > 0 {
		logger.Info("policies restored", "count", n)
	}

	messages := make(chan model.Message, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, messages)

	publishTopic := ""
	if cfg.Publish.Enabled {
		publishTopic = cfg.Publish.Topic
	}
	mqttClient, err := ingest.StartMQTT(ctx, cfg.Ingest.MQTT, publishTopic, messages, logger)
	if err != nil {
		return err
	}
	if mqttClient != nil && cfg.Publish.Enabled {
		eng.SetPublisher(mqttClient)
		logger.Info("publishing requests", "topic", publishTopic)
	}
	if err := ingest.StartNATS(ctx, cfg.Ingest.NATS, messages, logger); err != nil {
		return err
	}
	ingest.StartREST(ctx, cfg.Ingest.REST, messages, logger)
	ingest.StartFileTail(ctx, cfg.Ingest.FileTail, messages, logger)
	ingest.StartKafka(ctx, cfg.Ingest.Kafka, messages, logger)
	api.Start(ctx, manager, metricsStore, decisionStore, eng, logger, version)

	if watch && path != "" {
		go manager.Watch(3*time.Second, func(next *config.Config) {
			eng.UpdateConfig(next)
			logger.Info("config reloaded", "path", path)
		}, func(err error) {
			logger.Warn("config reload failed", "path", path, "err", err)
		}, ctx.Done())
	}

	logger.Info("flapguard started", "version", version)
	<-ctx.Done()
	logger.Info("flapguard stopping")
	return nil
}
