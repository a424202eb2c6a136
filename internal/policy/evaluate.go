package policy

import (
	"time"

	"flapguard/internal/model"
)

type DeviceContext interface {
	Settings() model.DeviceSettings
	Location() *time.Location
}

type Evaluation struct {
	Result    model.PolicyResult
	RuleIndex int
	Reason    string
}

// Evaluate applies the first enabled, unsuppressed rule whose criteria match
// the event. With no match the idle lock setting decides. Without a transit
// policy the result is unknown.
func (p *DeviceTransitPolicy) Evaluate(dev DeviceContext, ev *model.Event) Evaluation {
	if p == nil || p.TransitPolicy == nil {
		return Evaluation{Result: model.PolicyUnknown, RuleIndex: -1, Reason: "no transit policy set"}
	}
	if ev == nil {
		return Evaluation{Result: model.PolicyUnknown, RuleIndex: -1, Reason: "no event"}
	}
	var settings model.DeviceSettings
	loc := time.UTC
	if dev != nil {
		settings = dev.Settings()
		if l := dev.Location(); l != nil {
			loc = l
		}
	}
	tp := p.TransitPolicy
	for i, rule := range tp.Rules {
		if !rule.Enabled {
			continue
		}
		if settings.IgnoreFlapMotionRules && rule.Criteria.UsesFlapState() {
			continue
		}
		if settings.IgnoreMotionSensorRules && rule.Criteria.UsesMotionSensorState() {
			continue
		}
		if rule.Criteria == nil || !rule.Criteria.Matches(ev, loc) {
			continue
		}
		result := model.PolicyUnlocked
		if rule.Action.Locks() {
			result = model.PolicyLocked
		}
		return Evaluation{Result: result, RuleIndex: i, Reason: "matched " + rule.label(i)}
	}
	if tp.IdleLock {
		return Evaluation{Result: model.PolicyLocked, RuleIndex: -1, Reason: "no rule matched, idle lock"}
	}
	return Evaluation{Result: model.PolicyUnlocked, RuleIndex: -1, Reason: "no rule matched, idle unlock"}
}

func (p *DeviceTransitPolicy) DeterminePolicyResult(dev DeviceContext, ev *model.Event) model.PolicyResult {
	return p.Evaluate(dev, ev).Result
}
