package engine

import (
	"sync"

	"flapguard/internal/model"
)

type eventTracker struct {
	mu      sync.Mutex
	current map[string]*model.Event
}

func newEventTracker() *eventTracker {
	return &eventTracker{current: make(map[string]*model.Event)}
}

// apply folds ev into the device's current event. A different event id
// replaces the current event. The result is stored only when it changed
// something and accept returns true; apply returns a copy of it.
func (t *eventTracker) apply(ev *model.Event, accept func(*model.Event) bool) (*model.Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.current[ev.DeviceID]
	var next *model.Event
	if !ok || cur.EventID != ev.EventID {
		next = ev.Clone()
	} else {
		next = cur.Clone()
		if !next.Merge(ev) {
			return nil, false
		}
	}
	if accept != nil && !accept(next) {
		return nil, false
	}
	t.current[ev.DeviceID] = next
	return next.Clone(), true
}

func (t *eventTracker) drop(deviceID string, eventID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.current[deviceID]
	if !ok || cur.EventID != eventID {
		return false
	}
	delete(t.current, deviceID)
	return true
}

func (t *eventTracker) forget(deviceID string) {
	t.mu.Lock()
	delete(t.current, deviceID)
	t.mu.Unlock()
}

func (t *eventTracker) get(deviceID string) *model.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current[deviceID].Clone()
}

func (t *eventTracker) reset() {
	t.mu.Lock()
	t.current = make(map[string]*model.Event)
	t.mu.Unlock()
}
