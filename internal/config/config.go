package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"flapguard/internal/model"
)

const EnvPrefix = "FLAPGUARD_"

type Config struct {
	LogLevel   string                  `json:"log_level" yaml:"log_level"`
	LogFormat  string                  `json:"log_format" yaml:"log_format"`
	Ingest     IngestConfig            `json:"ingest" yaml:"ingest"`
	Evaluation EvaluationConfig        `json:"evaluation" yaml:"evaluation"`
	Devices    map[string]DeviceConfig `json:"devices" yaml:"devices"`
	Publish    PublishConfig           `json:"publish" yaml:"publish"`
	API        APIConfig               `json:"api" yaml:"api"`
	Storage    StorageConfig           `json:"storage" yaml:"storage"`
	Metrics    MetricsConfig           `json:"metrics" yaml:"metrics"`
	Decisions  DecisionsConfig         `json:"decisions" yaml:"decisions"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	NATS          NATSConfig     `json:"nats" yaml:"nats"`
	Parser        ParserConfig   `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Topic    string `json:"topic" yaml:"topic"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type ParserConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`
}

type EvaluationConfig struct {
	DefaultSettings model.DeviceSettings `json:"default_settings" yaml:"default_settings"`
	DedupeWindow    time.Duration        `json:"dedupe_window" yaml:"dedupe_window"`
}

type DeviceConfig struct {
	Settings *model.DeviceSettings `json:"settings,omitempty" yaml:"settings,omitempty"`
	TimeZone string                `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`
}

type PublishConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Topic   string `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type DecisionsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, Broker: "tcp://localhost:1883", ClientID: "flapguard", Topic: "flapguard/messages", QoS: 1},
			NATS:          NATSConfig{Enabled: false, URL: "nats://localhost:4222", Subject: "flapguard.messages"},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Evaluation: EvaluationConfig{
			DedupeWindow: 2 * time.Second,
		},
		Publish:   PublishConfig{Enabled: false, Topic: "flapguard/requests"},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:flapguard.db?_pragma=busy_timeout(5000)"},
		Metrics:   MetricsConfig{StoreLimit: 5000},
		Decisions: DecisionsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		applyDefaults(cfg)
		return cfg, Validate(cfg)
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "REST_ADDR"); v != "" {
		cfg.Ingest.REST.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_BROKER"); v != "" {
		cfg.Ingest.MQTT.Broker = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.Ingest.MQTT.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.Ingest.MQTT.Password = v
	}
	if v := os.Getenv(EnvPrefix + "NATS_URL"); v != "" {
		cfg.Ingest.NATS.URL = v
	}
	if v := os.Getenv(EnvPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Ingest.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.Enabled = enabled
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Decisions.StoreLimit <= 0 {
		cfg.Decisions.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.MQTT.ClientID == "" {
		cfg.Ingest.MQTT.ClientID = "flapguard"
	}
	if cfg.Evaluation.DedupeWindow < 0 {
		cfg.Evaluation.DedupeWindow = 0
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled && (cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "") {
		return errors.New("ingest.mqtt requires broker and topic")
	}
	if cfg.Ingest.MQTT.QoS > 2 {
		return fmt.Errorf("ingest.mqtt.qos must be 0, 1 or 2: %d", cfg.Ingest.MQTT.QoS)
	}
	if cfg.Ingest.NATS.Enabled && (cfg.Ingest.NATS.URL == "" || cfg.Ingest.NATS.Subject == "") {
		return errors.New("ingest.nats requires url and subject")
	}
	if cfg.Publish.Enabled {
		if !cfg.Ingest.MQTT.Enabled {
			return errors.New("publish requires ingest.mqtt to be enabled")
		}
		if cfg.Publish.Topic == "" {
			return errors.New("publish.topic required when publish.enabled is true")
		}
	}
	if _, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err != nil {
		return fmt.Errorf("ingest.parser.timezone: %w", err)
	}
	for id, dev := range cfg.Devices {
		if dev.TimeZone == "" {
			continue
		}
		if _, err := time.LoadLocation(dev.TimeZone); err != nil {
			return fmt.Errorf("devices.%s.time_zone: %w", id, err)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func ManagerFor(path string, cfg *Config) *Manager {
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
