package policy

import (
	"encoding/json"
	"os"
	"reflect"
	"testing"
	"time"

	"flapguard/internal/model"
)

type testDevice struct {
	settings model.DeviceSettings
	loc      *time.Location
}

func (d testDevice) Settings() model.DeviceSettings {
	return d.settings
}

func (d testDevice) Location() *time.Location {
	return d.loc
}

func loadTestPolicies(t *testing.T) []*DeviceTransitPolicy {
	t.Helper()
	data, err := os.ReadFile("testdata/policies.json")
	if err != nil {
		t.Fatalf("read fixtures: %v", err)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode fixtures: %v", err)
	}
	out := make([]*DeviceTransitPolicy, 0, len(raw))
	for i, r := range raw {
		p := ParseDeviceTransitPolicy(r, nil)
		if p == nil {
			t.Fatalf("fixture %d did not parse", i)
		}
		out = append(out, p)
	}
	return out
}

func TestDeterminePolicyResultScenarios(t *testing.T) {
	policies := loadTestPolicies(t)
	trusting := testDevice{}
	ignoringFlap := testDevice{settings: model.DeviceSettings{IgnoreFlapMotionRules: true}}
	ev := testEvent(model.TriggerIndoorMotion, model.ClassificationClear, "000000000000000")

	cases := []struct {
		name   string
		dev    DeviceContext
		policy *DeviceTransitPolicy
		want   model.PolicyResult
	}{
		{"no rule matches, idle lock", trusting, policies[0], model.PolicyLocked},
		{"flap movement rule locks", trusting, policies[1], model.PolicyLocked},
		{"flap rules ignored, exit rule unlocks", ignoringFlap, policies[1], model.PolicyUnlocked},
	}
	for _, tc := range cases {
		if got := tc.policy.DeterminePolicyResult(tc.dev, ev); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateReasons(t *testing.T) {
	policies := loadTestPolicies(t)
	ev := testEvent(model.TriggerIndoorMotion, model.ClassificationClear, "000000000000000")

	got := policies[1].Evaluate(testDevice{settings: model.DeviceSettings{IgnoreFlapMotionRules: true}}, ev)
	if got.RuleIndex != 1 || got.Reason != "matched Exit Rule" {
		t.Fatalf("unexpected evaluation: %+v", got)
	}
	got = policies[0].Evaluate(testDevice{}, ev)
	if got.RuleIndex != -1 || got.Reason != "no rule matched, idle lock" {
		t.Fatalf("unexpected evaluation: %+v", got)
	}
}

func TestEvaluateWithoutPolicy(t *testing.T) {
	ev := testEvent(model.TriggerIndoorMotion, model.ClassificationClear)
	var p *DeviceTransitPolicy
	if got := p.DeterminePolicyResult(testDevice{}, ev); got != model.PolicyUnknown {
		t.Fatalf("nil policy: got %s", got)
	}
	empty := &DeviceTransitPolicy{ID: 3}
	if got := empty.Evaluate(testDevice{}, ev); got.Result != model.PolicyUnknown || got.Reason != "no transit policy set" {
		t.Fatalf("policy without transit policy: got %+v", got)
	}
}

func TestEvaluateSkipsDisabledAndSuppressedRules(t *testing.T) {
	p := ParseDeviceTransitPolicy([]byte(`{
		"deviceTransitPolicyId": 9,
		"deviceId": "flap",
		"transitPolicy": {
			"idleLock": false,
			"rules": [
				{"enabled": false, "criteria": {}, "action": {"lock": true}},
				{"criteria": {"motionSensorState": 1}, "action": {"lock": true}},
				{"action": {"lock": true}},
				{"criteria": {"eventTriggerSource": 0}, "action": {"lock": true}}
			]
		}
	}`), nil)
	if p == nil {
		t.Fatalf("policy did not parse")
	}
	ev := testEvent(model.TriggerOutdoorMotion, model.ClassificationClear)

	got := p.Evaluate(testDevice{}, ev)
	if got.Result != model.PolicyLocked || got.RuleIndex != 1 {
		t.Fatalf("expected motion rule to lock, got %+v", got)
	}
	got = p.Evaluate(testDevice{settings: model.DeviceSettings{IgnoreMotionSensorRules: true}}, ev)
	if got.Result != model.PolicyUnlocked || got.RuleIndex != -1 {
		t.Fatalf("expected idle unlock with motion rules ignored, got %+v", got)
	}
}

func TestEvaluateAbsentActionUnlocks(t *testing.T) {
	p := ParseDeviceTransitPolicy([]byte(`{"deviceTransitPolicyId": 1, "transitPolicy": {"idleLock": true, "rules": [{"criteria": {"eventTriggerSource": 3}}]}}`), nil)
	ev := testEvent(model.TriggerOutdoorMotion, model.ClassificationClear)
	if got := p.DeterminePolicyResult(testDevice{}, ev); got != model.PolicyUnlocked {
		t.Fatalf("got %s, want unlocked", got)
	}
}

func TestEvaluateTimeRangeInDeviceZone(t *testing.T) {
	p := ParseDeviceTransitPolicy([]byte(`{"deviceTransitPolicyId": 1, "transitPolicy": {"idleLock": false, "rules": [
		{"criteria": {"timeRange": "22:00-06:00"}, "action": {"lock": true}}
	]}}`), nil)
	ev := testEvent(model.TriggerOutdoorMotion, model.ClassificationClear)
	ev.Timestamp = time.Date(2025, 10, 18, 21, 30, 0, 0, time.UTC)

	if got := p.DeterminePolicyResult(testDevice{}, ev); got != model.PolicyUnlocked {
		t.Fatalf("21:30 UTC: got %s, want unlocked", got)
	}
	berlin := time.FixedZone("CEST", 2*60*60)
	if got := p.DeterminePolicyResult(testDevice{loc: berlin}, ev); got != model.PolicyLocked {
		t.Fatalf("23:30 local: got %s, want locked", got)
	}
}

func TestParseDeviceTransitPolicyFields(t *testing.T) {
	policies := loadTestPolicies(t)
	p := policies[1]
	if p.ID != 2 || p.DeviceID != "OC-000000000000" || p.Name != "Allow out but lock on movement" {
		t.Fatalf("unexpected header: %+v", p)
	}
	tp := p.TransitPolicy
	if tp == nil || !tp.IdleLock || !tp.IdleLockBattery || len(tp.Rules) != 2 {
		t.Fatalf("unexpected transit policy: %+v", tp)
	}
	first := tp.Rules[0]
	if !first.Enabled || first.Action.Final == nil || !*first.Action.Final || !first.Criteria.UsesFlapState() {
		t.Fatalf("unexpected first rule: %+v", first)
	}
	if first.Description != "Lock on Flap Movement" {
		t.Fatalf("unexpected description %q", first.Description)
	}
}

func TestParseDeviceTransitPolicyAbsent(t *testing.T) {
	for _, in := range []string{"", "null", "{}", "{broken", `{"name": "no id"}`} {
		if p := ParseDeviceTransitPolicy([]byte(in), nil); p != nil {
			t.Errorf("%q: expected nil, got %+v", in, p)
		}
	}
}

func TestParseDeviceTransitPolicyToleratesSchemaViolations(t *testing.T) {
	data := []byte(`{"deviceTransitPolicyId": 5, "name": "odd", "extra": true,
		"transitPolicy": {"idleLock": "yes", "rules": [{"criteria": {"eventTriggerSource": 3}, "action": {"lock": true, "sound": "kazoo"}}]}}`)
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := ValidateDeviceTransitPolicy(doc); err == nil {
		t.Fatalf("expected schema violation")
	} else if ValidationDetail(err) == "" {
		t.Fatalf("expected validation detail")
	}
	p := ParseDeviceTransitPolicy(data, nil)
	if p == nil || p.TransitPolicy == nil {
		t.Fatalf("expected policy despite violations")
	}
	if p.TransitPolicy.IdleLock {
		t.Fatalf("mistyped idleLock should stay false")
	}
	rule := p.TransitPolicy.Rules[0]
	if rule.Action.Sound == nil || *rule.Action.Sound != model.SoundUnknown {
		t.Fatalf("expected unknown sound, got %v", rule.Action.Sound)
	}
}

func TestValidateFixtures(t *testing.T) {
	data, err := os.ReadFile("testdata/policies.json")
	if err != nil {
		t.Fatalf("read fixtures: %v", err)
	}
	var docs []any
	if err := json.Unmarshal(data, &docs); err != nil {
		t.Fatalf("decode fixtures: %v", err)
	}
	for i, doc := range docs {
		if err := ValidateDeviceTransitPolicy(doc); err != nil {
			t.Errorf("fixture %d: %s", i, ValidationDetail(err))
		}
	}
}

func TestDeviceTransitPolicyRoundTrip(t *testing.T) {
	in := []byte(`{
		"deviceTransitPolicyId": 4,
		"deviceId": "flap",
		"name": "Night",
		"transitPolicy": {
			"idleLock": true,
			"idleLockBattery": false,
			"ux": {"onActivate": {"sound": "bell"}},
			"rules": [
				{"description": "Known cat", "enabled": true,
				 "criteria": {"rfidCode": ["900000000000001"], "eventTriggerSource": [2, 3], "timeRange": ["06:00-22:00"]},
				 "action": {"lock": false, "sound": "affirm", "lockoutDuration": 10}}
			]
		}
	}`)
	p := ParseDeviceTransitPolicy(in, nil)
	if p == nil {
		t.Fatalf("policy did not parse")
	}
	out, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var encoded map[string]any
	if err := json.Unmarshal(out, &encoded); err != nil {
		t.Fatalf("decode encoded: %v", err)
	}
	rule := encoded["transitPolicy"].(map[string]any)["rules"].([]any)[0].(map[string]any)
	criteria := rule["criteria"].(map[string]any)
	if criteria["rfidCode"] != "900000000000001" {
		t.Fatalf("expected single rfid code to collapse to a string, got %v", criteria["rfidCode"])
	}
	if criteria["timeRange"] != "06:00-22:00" {
		t.Fatalf("expected single time range to collapse, got %v", criteria["timeRange"])
	}

	if string(p.TransitPolicy.UX) != `{"onActivate": {"sound": "bell"}}` {
		t.Fatalf("ux should be kept verbatim, got %s", p.TransitPolicy.UX)
	}

	back := ParseDeviceTransitPolicy(out, nil)
	if string(back.TransitPolicy.UX) != `{"onActivate":{"sound":"bell"}}` {
		t.Fatalf("unexpected encoded ux %s", back.TransitPolicy.UX)
	}
	back.TransitPolicy.UX = p.TransitPolicy.UX
	if !reflect.DeepEqual(back, p) {
		t.Fatalf("round trip changed policy:\n%+v\n%+v", back, p)
	}
}
