package decisions

import (
	"testing"
	"time"

	"flapguard/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	for i := int64(1); i <= 3; i++ {
		s.Add(model.Decision{EventID: i, DeviceID: "flap"})
	}
	got := s.List(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(got))
	}
	if got[0].EventID != 2 || got[1].EventID != 3 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if latest := s.List(1); len(latest) != 1 || latest[0].EventID != 3 {
		t.Fatalf("expected newest decision, got %+v", latest)
	}
}

func TestStoreSinceAndLatest(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2025, 10, 18, 8, 0, 0, 0, time.UTC)
	s.Add(model.Decision{EventID: 1, DeviceID: "a", Timestamp: base})
	s.Add(model.Decision{EventID: 2, DeviceID: "b", Timestamp: base.Add(time.Minute)})
	s.Add(model.Decision{EventID: 3, DeviceID: "a", Timestamp: base.Add(2 * time.Minute)})

	if got := s.Since(base.Add(time.Minute)); len(got) != 2 {
		t.Fatalf("expected 2 decisions since cutoff, got %d", len(got))
	}
	d, ok := s.LatestFor("a")
	if !ok || d.EventID != 3 {
		t.Fatalf("expected latest decision for a to be event 3, got %+v ok=%v", d, ok)
	}
	if _, ok := s.LatestFor("missing"); ok {
		t.Fatalf("expected no decision for unknown device")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
