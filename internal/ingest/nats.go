package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

func StartNATS(ctx context.Context, cfg config.NATSConfig, out chan<- model.Message, logger *slog.Logger) error {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("nats ingest disabled")
		}
		return nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	sub, err := nc.Subscribe(cfg.Subject, func(m *nats.Msg) {
		msg, err := DecodeMessage(m.Data, "nats")
		if err != nil {
			if logger != nil {
				logger.Warn("nats message undecodable", "subject", m.Subject, "err", err)
			}
			return
		}
		SendNonBlocking(ctx, out, msg, logger)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}
	if logger != nil {
		logger.Info("nats ingest enabled", "url", cfg.URL, "subject", cfg.Subject)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		nc.Close()
	}()
	return nil
}
