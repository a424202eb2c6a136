package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

func StartFileTail(ctx context.Context, cfg config.FileTailConfig, out chan<- model.Message, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range cfg.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", cfg.StartAtEnd)
		}
		go tailFile(ctx, path, cfg.StartAtEnd, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, out chan<- model.Message, logger *slog.Logger) {
	var file *os.File
	var offset int64
	var pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			pending.Reset()
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			chunk, err := reader.ReadString('\n')
			offset += int64(len(chunk))
			pending.WriteString(chunk)
			if err != nil {
				if errors.Is(err, io.EOF) {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						if logger != nil {
							logger.Info("tail file truncated, reopening", "path", path)
						}
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := strings.TrimSpace(pending.String())
			pending.Reset()
			if line == "" {
				continue
			}
			msg, err := DecodeMessage([]byte(line), "file_tail")
			if err != nil {
				if logger != nil {
					logger.Warn("tail line undecodable", "path", path, "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, msg, logger)
		}
	}
}
