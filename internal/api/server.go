package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flapguard/internal/config"
	"flapguard/internal/decisions"
	"flapguard/internal/device"
	"flapguard/internal/engine"
	"flapguard/internal/metrics"
	"flapguard/internal/model"
	"flapguard/internal/policy"
)

type EngineControl interface {
	Registry() *device.Registry
	Stats() engine.Stats
	Evaluate(ev *model.Event) (model.Decision, error)
	CurrentEvent(deviceID string) *model.Event
	SelectPolicy(ctx context.Context, deviceID, name string) (int64, error)
	PublishPolicy(ctx context.Context, p *policy.DeviceTransitPolicy) error
	Reset()
}

type Server struct {
	cfg       *config.Manager
	metrics   *metrics.Store
	decisions *decisions.Store
	engine    EngineControl
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
	Publish    bool         `json:"publish"`
	Engine     engine.Stats `json:"engine"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
	MQTT     bool `json:"mqtt"`
	NATS     bool `json:"nats"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type deviceResponse struct {
	device.Snapshot
	CurrentEvent *model.Event    `json:"current_event,omitempty"`
	LastDecision *model.Decision `json:"last_decision,omitempty"`
}

func NewServer(cfg *config.Manager, metricsStore *metrics.Store, decisionStore *decisions.Store, eng EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		metrics:   metricsStore,
		decisions: decisionStore,
		engine:    eng,
		logger:    logger,
		version:   version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/devices/", s.handleDevice)
	mux.HandleFunc("/decisions", s.handleDecisions)
	mux.Handle("/metrics/prometheus", promhttp.Handler())
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/", s.handleMetrics)
	mux.HandleFunc("/evaluate", s.handleEvaluate)
	mux.HandleFunc("/policies/", s.handlePolicy)
	mux.HandleFunc("/admin/clear", s.handleClear)
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, metricsStore *metrics.Store, decisionStore *decisions.Store, eng EngineControl, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, metricsStore, decisionStore, eng, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
			MQTT:     cfg.Ingest.MQTT.Enabled,
			NATS:     cfg.Ingest.NATS.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Publish: cfg.Publish.Enabled,
		Engine:  s.engine.Stats(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.engine.Registry().List()
	out := make([]device.Snapshot, 0, len(list))
	for _, d := range list {
		out = append(out, d.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/devices/"), "/")
	id, sub, _ := strings.Cut(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dev, ok := s.engine.Registry().Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		resp := deviceResponse{Snapshot: dev.Snapshot(), CurrentEvent: s.engine.CurrentEvent(id)}
		if s.decisions != nil {
			if d, ok := s.decisions.LatestFor(id); ok {
				resp.LastDecision = &d
			}
		}
		writeJSON(w, http.StatusOK, resp)
	case "policy":
		s.handleSelectPolicy(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleSelectPolicy(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id, err := s.engine.SelectPolicy(r.Context(), deviceID, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"device_id": deviceID,
		"policy_id": id,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Decision
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.decisions.Since(ts)
	} else {
		list = s.decisions.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": list,
		"count":     len(list),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		m, ok := s.metrics.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id":  path,
			"updated_at": m.UpdatedAt.Format(time.RFC3339Nano),
			"metrics":    m,
		})
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ev := model.ParseEvent(body, s.logger)
	if ev == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d, err := s.engine.Evaluate(ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/policies/"), "/")
	deviceID, rawID, ok := strings.Cut(path, "/")
	if !ok || deviceID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	policyID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	dev, ok := s.engine.Registry().Get(deviceID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	p := dev.Policy(policyID)
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, p.ToMap())
	case http.MethodPost:
		if err := s.engine.PublishPolicy(r.Context(), p); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.decisions.Clear()
		s.engine.Reset()
	case "decisions":
		s.decisions.Clear()
	case "metrics":
		s.metrics.Clear()
	case "events":
		s.engine.Reset()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownDevice), errors.Is(err, engine.ErrUnknownPolicy):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrPublishDisabled):
		status = http.StatusConflict
	default:
		if s.logger != nil {
			s.logger.Error("api request failed", "err", err)
		}
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
