package device

import (
	"sort"
	"sync"
	"time"

	"flapguard/internal/model"
)

type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	defaults  model.DeviceSettings
	location  *time.Location
	overrides map[string]Override
}

type Override struct {
	Settings *model.DeviceSettings
	Location *time.Location
}

func NewRegistry(defaults model.DeviceSettings, loc *time.Location, overrides map[string]Override) *Registry {
	if overrides == nil {
		overrides = make(map[string]Override)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		devices:   make(map[string]*Device),
		defaults:  defaults,
		location:  loc,
		overrides: overrides,
	}
}

func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

func (r *Registry) Ensure(id string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		return d, false
	}
	d := &Device{id: id}
	r.configure(d)
	r.devices[id] = d
	return d, true
}

func (r *Registry) Upsert(parsed *Device) (*Device, bool) {
	if parsed == nil {
		return nil, false
	}
	r.mu.Lock()
	existing, ok := r.devices[parsed.id]
	if !ok {
		r.configure(parsed)
		r.devices[parsed.id] = parsed
		r.mu.Unlock()
		return parsed, true
	}
	override := r.overrides[parsed.id]
	r.mu.Unlock()
	existing.ApplyUpdate(parsed)
	if override.Location != nil {
		existing.SetLocation(override.Location)
	}
	return existing, false
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// configure applies defaults and overrides. Callers hold r.mu.
func (r *Registry) configure(d *Device) {
	if d.location == nil {
		d.location = r.location
	}
	d.settings = r.defaults
	o, ok := r.overrides[d.id]
	if !ok {
		return
	}
	if o.Settings != nil {
		d.settings = *o.Settings
	}
	if o.Location != nil {
		d.location = o.Location
	}
}

func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.devices = make(map[string]*Device)
	r.mu.Unlock()
}
