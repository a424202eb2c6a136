package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

func StartKafka(ctx context.Context, cfg config.KafkaConfig, out chan<- model.Message, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			msg, err := DecodeMessage(m.Value, "kafka")
			if err != nil {
				if logger != nil {
					logger.Warn("kafka message undecodable", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, msg, logger)
		}
	}()
}
