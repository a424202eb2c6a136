package policy

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"flapguard/internal/model"
)

type TransitPolicy struct {
	Rules           []Rule
	IdleLock        bool
	IdleLockBattery bool
	UX              json.RawMessage
}

type transitWire struct {
	Rules           []json.RawMessage `json:"rules"`
	IdleLock        *bool             `json:"idleLock"`
	IdleLockBattery *bool             `json:"idleLockBattery"`
	UX              json.RawMessage   `json:"ux"`
}

func ParseTransitPolicy(data []byte, logger *slog.Logger) *TransitPolicy {
	if !rawPresent(data) {
		return nil
	}
	var w transitWire
	if !model.DecodeLenient(data, &w, "transit policy", logger) {
		return nil
	}
	tp := &TransitPolicy{}
	if w.IdleLock != nil {
		tp.IdleLock = *w.IdleLock
	}
	if w.IdleLockBattery != nil {
		tp.IdleLockBattery = *w.IdleLockBattery
	}
	if rawPresent(w.UX) {
		tp.UX = append(json.RawMessage(nil), w.UX...)
	}
	for i, raw := range w.Rules {
		if !rawPresent(raw) {
			continue
		}
		var rw ruleWire
		if !model.DecodeLenient(raw, &rw, "rule", logger) {
			if logger != nil {
				logger.Warn("skipping undecodable rule", "index", i)
			}
			continue
		}
		tp.Rules = append(tp.Rules, rw.toRule(logger))
	}
	return tp
}

func (p *TransitPolicy) ToMap() map[string]any {
	rules := make([]any, 0, len(p.Rules))
	for _, r := range p.Rules {
		rules = append(rules, r.ToMap())
	}
	data := map[string]any{
		"rules":           rules,
		"idleLock":        p.IdleLock,
		"idleLockBattery": p.IdleLockBattery,
	}
	if len(p.UX) > 0 {
		data["ux"] = p.UX
	}
	return data
}

type DeviceTransitPolicy struct {
	ID            int64
	DeviceID      string
	Name          string
	TransitPolicy *TransitPolicy
}

type deviceTransitWire struct {
	ID            *int64          `json:"deviceTransitPolicyId"`
	DeviceID      *string         `json:"deviceId"`
	Name          *string         `json:"name"`
	TransitPolicy json.RawMessage `json:"transitPolicy"`
}

func ParseDeviceTransitPolicy(data []byte, logger *slog.Logger) *DeviceTransitPolicy {
	if model.IsAbsent(data) {
		return nil
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		if logger != nil {
			logger.Warn("transit policy payload undecodable", "err", err)
		}
		return nil
	}
	if err := ValidateDeviceTransitPolicy(doc); err != nil && logger != nil {
		logger.Warn("transit policy payload failed schema validation")
		logger.Debug("transit policy validation details", "detail", ValidationDetail(err))
		logger.Debug("invalid transit policy payload", "payload", string(data))
	}
	var w deviceTransitWire
	if !model.DecodeLenient(data, &w, "transit policy", logger) {
		return nil
	}
	if w.ID == nil {
		return nil
	}
	p := &DeviceTransitPolicy{
		ID:            *w.ID,
		TransitPolicy: ParseTransitPolicy(w.TransitPolicy, logger),
	}
	if w.DeviceID != nil {
		p.DeviceID = *w.DeviceID
	}
	if w.Name != nil {
		p.Name = *w.Name
	}
	if logger != nil {
		logger.Debug("parsed device transit policy", "policy_id", p.ID, "name", p.Name)
	}
	return p
}

func (p *DeviceTransitPolicy) ToMap() map[string]any {
	data := map[string]any{
		"deviceTransitPolicyId": p.ID,
	}
	if p.DeviceID != "" {
		data["deviceId"] = p.DeviceID
	}
	if p.Name != "" {
		data["name"] = p.Name
	}
	if p.TransitPolicy != nil {
		data["transitPolicy"] = p.TransitPolicy.ToMap()
	}
	return data
}

func (p *DeviceTransitPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToMap())
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
