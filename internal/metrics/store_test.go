package metrics

import (
	"testing"

	"flapguard/internal/model"
)

func TestStoreCountsResults(t *testing.T) {
	s := NewStore(10)
	s.Record(model.Decision{DeviceID: "flap", EventID: 1, Result: model.PolicyLocked})
	s.Record(model.Decision{DeviceID: "flap", EventID: 2, Result: model.PolicyUnlocked, Remote: true})
	s.Record(model.Decision{DeviceID: "flap", EventID: 3, Result: model.PolicyUnknown})
	s.Record(model.Decision{EventID: 4, Result: model.PolicyLocked})

	m, ok := s.Get("flap")
	if !ok {
		t.Fatalf("expected metrics for flap")
	}
	if m.Locked != 1 || m.Unlocked != 1 || m.Unknown != 1 || m.RemoteUnlock != 1 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.Total() != 3 || m.LastEventID != 3 || m.LastResult != model.PolicyUnknown {
		t.Fatalf("unexpected summary: %+v", m)
	}
	if len(s.GetAll()) != 1 {
		t.Fatalf("expected decisions without device to be ignored")
	}
}

func TestStoreEvictsWhenFull(t *testing.T) {
	s := NewStore(1)
	s.Record(model.Decision{DeviceID: "a", Result: model.PolicyLocked})
	s.Record(model.Decision{DeviceID: "b", Result: model.PolicyLocked})
	if got := len(s.GetAll()); got != 1 {
		t.Fatalf("expected 1 device after eviction, got %d", got)
	}
}
