package policy

import (
	"encoding/json"
	"log/slog"

	"flapguard/internal/model"
)

type RuleAction struct {
	Lock            *bool
	Sound           *model.SoundAction
	LockoutDuration *int
	Final           *bool
}

type actionWire struct {
	Lock            *bool   `json:"lock"`
	Sound           *string `json:"sound"`
	LockoutDuration *int    `json:"lockoutDuration"`
	Final           *bool   `json:"final"`
}

func ParseRuleAction(data []byte, logger *slog.Logger) *RuleAction {
	if !rawPresent(data) {
		return nil
	}
	var w actionWire
	if !model.DecodeLenient(data, &w, "rule action", logger) {
		return nil
	}
	a := &RuleAction{
		Lock:            w.Lock,
		LockoutDuration: w.LockoutDuration,
		Final:           w.Final,
	}
	if w.Sound != nil && *w.Sound != "" {
		s := model.ParseSoundAction(*w.Sound, logger)
		a.Sound = &s
	}
	return a
}

func (a *RuleAction) Locks() bool {
	return a != nil && a.Lock != nil && *a.Lock
}

func (a *RuleAction) ToMap() map[string]any {
	data := map[string]any{}
	if a == nil {
		return data
	}
	if a.Lock != nil {
		data["lock"] = *a.Lock
	}
	if a.Sound != nil {
		data["sound"] = string(*a.Sound)
	}
	if a.LockoutDuration != nil {
		data["lockoutDuration"] = *a.LockoutDuration
	}
	if a.Final != nil {
		data["final"] = *a.Final
	}
	return data
}

type Rule struct {
	Criteria    *RuleCriteria
	Action      *RuleAction
	Description string
	Enabled     bool
}

type ruleWire struct {
	Criteria    json.RawMessage `json:"criteria"`
	Action      json.RawMessage `json:"action"`
	Description *string         `json:"description"`
	Enabled     *bool           `json:"enabled"`
}

func (w *ruleWire) toRule(logger *slog.Logger) Rule {
	r := Rule{
		Criteria: ParseRuleCriteria(w.Criteria, logger),
		Action:   ParseRuleAction(w.Action, logger),
		Enabled:  true,
	}
	if w.Description != nil {
		r.Description = *w.Description
	}
	if w.Enabled != nil {
		r.Enabled = *w.Enabled
	}
	return r
}

func (r Rule) ToMap() map[string]any {
	data := map[string]any{
		"enabled": r.Enabled,
	}
	if r.Criteria != nil {
		data["criteria"] = r.Criteria.ToMap()
	}
	if r.Action != nil {
		data["action"] = r.Action.ToMap()
	}
	if r.Description != "" {
		data["description"] = r.Description
	}
	return data
}

func (r Rule) label(index int) string {
	if r.Description != "" {
		return r.Description
	}
	return "rule " + itoa(index+1)
}
