package device

import (
	"log/slog"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"

	"flapguard/internal/model"
	"flapguard/internal/policy"
)

type Connectivity struct {
	Connected        bool      `json:"connected"`
	DisconnectReason string    `json:"disconnect_reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type Device struct {
	mu             sync.RWMutex
	id             string
	description    string
	location       *time.Location
	connectivity   *Connectivity
	activePolicyID *int64
	policies       map[int64]*policy.DeviceTransitPolicy
	settings       model.DeviceSettings
	listeners      []func()
}

func New(id string) *Device {
	return &Device{id: id, location: time.UTC}
}

type connectivityWire struct {
	Connected        *bool   `json:"connected"`
	DisconnectReason *string `json:"disconnectReason"`
	Timestamp        *int64  `json:"timestamp"`
}

type deviceWire struct {
	DeviceID              *string           `json:"deviceId"`
	Description           *string           `json:"description"`
	TimeZone              *string           `json:"timeZone"`
	DeviceTransitPolicyID *int64            `json:"deviceTransitPolicyId"`
	Connectivity          *connectivityWire `json:"connectivity"`
}

func Parse(data []byte, fallbackID string, logger *slog.Logger) *Device {
	if model.IsAbsent(data) && fallbackID == "" {
		return nil
	}
	var w deviceWire
	if !model.IsAbsent(data) && !model.DecodeLenient(data, &w, "device", logger) {
		return nil
	}
	id := fallbackID
	if w.DeviceID != nil && *w.DeviceID != "" {
		id = *w.DeviceID
	}
	if id == "" {
		return nil
	}
	d := New(id)
	d.location = nil
	if w.TimeZone != nil {
		loc, err := time.LoadLocation(*w.TimeZone)
		if err != nil {
			if logger != nil {
				logger.Warn("unable to parse time zone", "device_id", id, "time_zone", *w.TimeZone, "err", err)
			}
			loc = time.UTC
		}
		d.location = loc
	}
	if w.Description != nil {
		d.description = *w.Description
	}
	d.activePolicyID = w.DeviceTransitPolicyID
	if w.Connectivity != nil {
		c := &Connectivity{}
		if w.Connectivity.Connected != nil {
			c.Connected = *w.Connectivity.Connected
		}
		if w.Connectivity.DisconnectReason != nil {
			c.DisconnectReason = *w.Connectivity.DisconnectReason
		}
		if w.Connectivity.Timestamp != nil {
			c.Timestamp = time.UnixMilli(*w.Connectivity.Timestamp).UTC()
		}
		d.connectivity = c
	}
	return d
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) Description() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.description
}

func (d *Device) Location() *time.Location {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.location == nil {
		return time.UTC
	}
	return d.location
}

func (d *Device) SetLocation(loc *time.Location) {
	d.mu.Lock()
	d.location = loc
	d.mu.Unlock()
}

func (d *Device) Settings() model.DeviceSettings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

func (d *Device) SetSettings(s model.DeviceSettings) {
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
}

func (d *Device) Connectivity() *Connectivity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.connectivity == nil {
		return nil
	}
	c := *d.connectivity
	return &c
}

func (d *Device) ActivePolicyID() (int64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.activePolicyID == nil {
		return 0, false
	}
	return *d.activePolicyID, true
}

func (d *Device) SetActivePolicyID(id int64) {
	d.mu.Lock()
	d.activePolicyID = &id
	d.mu.Unlock()
	d.notify()
}

func (d *Device) ActivePolicy() *policy.DeviceTransitPolicy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.activePolicyID == nil || d.policies == nil {
		return nil
	}
	return d.policies[*d.activePolicyID]
}

func (d *Device) Policy(id int64) *policy.DeviceTransitPolicy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policies[id]
}

func (d *Device) Policies() []*policy.DeviceTransitPolicy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*policy.DeviceTransitPolicy, 0, len(d.policies))
	for _, p := range d.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertPolicy stores p under its id, replacing the previous object, then
// runs the policy listeners. Evaluations already holding the old object
// finish against it.
func (d *Device) UpsertPolicy(p *policy.DeviceTransitPolicy) {
	if p == nil {
		return
	}
	d.mu.Lock()
	next := make(map[int64]*policy.DeviceTransitPolicy, len(d.policies)+1)
	for id, existing := range d.policies {
		next[id] = existing
	}
	next[p.ID] = p
	d.policies = next
	d.mu.Unlock()
	d.notify()
}

func (d *Device) PolicyNames() []string {
	policies := d.Policies()
	names := make([]string, 0, len(policies))
	for _, p := range policies {
		if p.Name == "" {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

func (d *Device) PolicyIDByName(name string) (int64, bool) {
	for _, p := range d.Policies() {
		if p.Name == name {
			return p.ID, true
		}
	}
	return 0, false
}

func (d *Device) AddPolicyListener(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *Device) notify() {
	d.mu.RLock()
	listeners := append([]func(){}, d.listeners...)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (d *Device) ApplyUpdate(u *Device) bool {
	if u == nil || u.id != d.id {
		return false
	}
	u.mu.RLock()
	description, location, connectivity, active := u.description, u.location, u.connectivity, u.activePolicyID
	u.mu.RUnlock()

	d.mu.Lock()
	if description != "" {
		d.description = description
	}
	if location != nil {
		d.location = location
	}
	if connectivity != nil {
		c := *connectivity
		d.connectivity = &c
	}
	changed := false
	if active != nil && (d.activePolicyID == nil || *d.activePolicyID != *active) {
		id := *active
		d.activePolicyID = &id
		changed = true
	}
	d.mu.Unlock()
	if changed {
		d.notify()
	}
	return changed
}

func (d *Device) Evaluate(ev *model.Event) policy.Evaluation {
	return d.ActivePolicy().Evaluate(d, ev)
}

type Resolution struct {
	policy.Evaluation
	PolicyID *int64
	Unlocked bool
	// Known is false when no active policy could decide; the current lock
	// state must then be kept.
	Known    bool
	Remote   bool
}

func (d *Device) Resolve(ev *model.Event) Resolution {
	p := d.ActivePolicy()
	r := Resolution{Evaluation: p.Evaluate(d, ev)}
	if p != nil {
		id := p.ID
		r.PolicyID = &id
	}
	if ev.HasTrigger(model.TriggerRemote) {
		r.Unlocked, r.Known, r.Remote = true, true, true
		r.Reason = "remote unlock"
		return r
	}
	switch r.Result {
	case model.PolicyUnlocked:
		r.Unlocked, r.Known = true, true
	case model.PolicyLocked:
		r.Known = true
	}
	return r
}

func (d *Device) IsUnlockedByEvent(ev *model.Event) (unlocked, known bool) {
	r := d.Resolve(ev)
	return r.Unlocked, r.Known
}

func (d *Device) IsUnlockedInIdleState() (unlocked, known bool) {
	p := d.ActivePolicy()
	if p == nil || p.TransitPolicy == nil {
		return false, false
	}
	return !p.TransitPolicy.IdleLock, true
}

type Snapshot struct {
	DeviceID       string               `json:"device_id"`
	Description    string               `json:"description,omitempty"`
	TimeZone       string               `json:"time_zone"`
	Settings       model.DeviceSettings `json:"settings"`
	Connectivity   *Connectivity        `json:"connectivity,omitempty"`
	ActivePolicyID *int64               `json:"active_policy_id,omitempty"`
	ActivePolicy   string               `json:"active_policy,omitempty"`
	Policies       []string             `json:"policies"`
	IdleUnlocked   *bool                `json:"idle_unlocked,omitempty"`
}

func (d *Device) Snapshot() Snapshot {
	s := Snapshot{
		DeviceID:     d.id,
		Description:  d.Description(),
		TimeZone:     d.Location().String(),
		Settings:     d.Settings(),
		Connectivity: d.Connectivity(),
		Policies:     d.PolicyNames(),
	}
	if id, ok := d.ActivePolicyID(); ok {
		s.ActivePolicyID = &id
	}
	if p := d.ActivePolicy(); p != nil {
		s.ActivePolicy = p.Name
	}
	if unlocked, ok := d.IsUnlockedInIdleState(); ok {
		s.IdleUnlocked = &unlocked
	}
	return s
}
