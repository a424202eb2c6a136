package metrics

import (
	"sync"
	"time"

	"flapguard/internal/model"
)

type DeviceMetrics struct {
	DeviceID     string             `json:"device_id"`
	Locked       int                `json:"locked"`
	Unlocked     int                `json:"unlocked"`
	Unknown      int                `json:"unknown"`
	RemoteUnlock int                `json:"remote_unlock"`
	LastResult   model.PolicyResult `json:"last_result"`
	LastEventID  int64              `json:"last_event_id"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (m DeviceMetrics) Total() int {
	return m.Locked + m.Unlocked + m.Unknown
}

type Store struct {
	mu       sync.RWMutex
	byDevice map[string]*DeviceMetrics
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byDevice: make(map[string]*DeviceMetrics),
		limit:    limit,
	}
}

func (s *Store) Record(d model.Decision) {
	if d.DeviceID == "" {
		return
	}
	Decisions.WithLabelValues(d.DeviceID, d.Result.String()).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byDevice[d.DeviceID]
	if !ok {
		m = &DeviceMetrics{DeviceID: d.DeviceID}
		s.byDevice[d.DeviceID] = m
	}
	switch d.Result {
	case model.PolicyLocked:
		m.Locked++
	case model.PolicyUnlocked:
		m.Unlocked++
	default:
		m.Unknown++
	}
	if d.Remote {
		m.RemoteUnlock++
	}
	m.LastResult = d.Result
	m.LastEventID = d.EventID
	m.UpdatedAt = time.Now().UTC()
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(deviceID string) (DeviceMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byDevice[deviceID]
	if !ok {
		return DeviceMetrics{}, false
	}
	return *m, true
}

func (s *Store) GetAll() map[string]DeviceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]DeviceMetrics, len(s.byDevice))
	for id, m := range s.byDevice {
		out[id] = *m
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestDevice string
	var oldest time.Time
	for id, m := range s.byDevice {
		if oldestDevice == "" || m.UpdatedAt.Before(oldest) {
			oldestDevice = id
			oldest = m.UpdatedAt
		}
	}
	if oldestDevice != "" {
		delete(s.byDevice, oldestDevice)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice = make(map[string]*DeviceMetrics)
}
