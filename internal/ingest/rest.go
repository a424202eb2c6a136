package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

type RESTServer struct {
	out    chan<- model.Message
	logger *slog.Logger
}

func NewRESTServer(out chan<- model.Message, logger *slog.Logger) *RESTServer {
	return &RESTServer{out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func StartREST(ctx context.Context, cfg config.RESTConfig, out chan<- model.Message, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", cfg.Addr)
	}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: NewRESTServer(out, logger).Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	msgs, failed, err := DecodeMessages(body, "rest")
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("rest ingest rejected body", "err", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	accepted := 0
	for _, msg := range msgs {
		if SendNonBlocking(r.Context(), s.out, msg, s.logger) {
			accepted++
		} else {
			failed++
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}
