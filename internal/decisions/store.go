package decisions

import (
	"sync"
	"time"

	"flapguard/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.Decision
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(d model.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, d)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = d
}

func (s *Store) List(limit int) []model.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Decision, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Decision, 0)
	for _, d := range s.buf {
		if !d.Timestamp.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) LatestFor(deviceID string) (model.Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].DeviceID == deviceID {
			return s.buf[i], true
		}
	}
	return model.Decision{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
