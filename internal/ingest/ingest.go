package ingest

import (
	"context"
	"log/slog"
	"time"

	"flapguard/internal/metrics"
	"flapguard/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Message, msg model.Message, logger *slog.Logger) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.MessagesDropped.WithLabelValues("channel_full").Inc()
		if logger != nil {
			logger.Warn("message channel full, dropping message", "kind", msg.Kind, "source", msg.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
