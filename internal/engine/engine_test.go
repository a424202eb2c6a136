package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"flapguard/internal/config"
	"flapguard/internal/decisions"
	"flapguard/internal/metrics"
	"flapguard/internal/model"
	"flapguard/internal/storage"
)

const testPolicy = `{
	"deviceTransitPolicyId": 1,
	"deviceId": "OC-000000000000",
	"name": "Allow clean in",
	"transitPolicy": {
		"idleLock": true,
		"idleLockBattery": true,
		"rules": [
			{"description": "Contraband Rule", "criteria": {"eventTriggerSource": 3, "eventClassification": [2, 3]}, "action": {"lock": true}},
			{"description": "Entry Rule", "criteria": {"eventTriggerSource": 3, "rfidCode": "000000000000000"}, "action": {"lock": false}}
		]
	}
}`

const testDevice = `{"deviceId": "OC-000000000000", "description": "Kitchen", "deviceTransitPolicyId": 1}`

type recordingPublisher struct {
	requests []model.Request
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, req model.Request) error {
	if p.err != nil {
		return p.err
	}
	p.requests = append(p.requests, req)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Evaluation.DedupeWindow = 0
	return cfg
}

func newEngineForTest(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewEngine(cfg, nil, registry, metrics.NewStore(100), decisions.NewStore(100), nil)
}

func msg(kind model.MessageKind, data string) model.Message {
	return model.Message{Kind: kind, Data: json.RawMessage(data), Source: "test"}
}

func seed(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()
	eng.Handle(ctx, msg(model.KindDevice, testDevice))
	eng.Handle(ctx, msg(model.KindTransitPolicy, testPolicy))
}

func TestEventProducesDecision(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)

	out := eng.Handle(context.Background(), msg(model.KindEvent, `{
		"deviceId": "OC-000000000000", "eventId": 10, "timestamp": "2025-10-18T08:15:21Z",
		"eventTriggerSource": 3, "eventClassification": 1, "rfidCodes": ["000000000000000"]
	}`))
	if len(out) != 1 {
		t.Fatalf("expected one decision, got %d", len(out))
	}
	d := out[0]
	if d.Result != model.PolicyUnlocked || !d.Unlocked || !d.Known || d.Reason != "matched Entry Rule" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.PolicyID == nil || *d.PolicyID != 1 || d.ID == "" || d.Source != "test" {
		t.Fatalf("unexpected decision metadata: %+v", d)
	}
	if got := eng.decisions.List(0); len(got) != 1 || got[0].ID != d.ID {
		t.Fatalf("decision not recorded: %+v", got)
	}
	if m, ok := eng.metrics.Get("OC-000000000000"); !ok || m.Unlocked != 1 {
		t.Fatalf("metrics not recorded: %+v", m)
	}
}

func TestEventUpdatesMergeAndReevaluate(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)
	ctx := context.Background()

	out := eng.Handle(ctx, msg(model.KindEvent, `{"deviceId": "OC-000000000000", "eventId": 11, "eventTriggerSource": 3, "eventClassification": 1, "rfidCodes": ["000000000000000"]}`))
	if len(out) != 1 || out[0].Result != model.PolicyUnlocked {
		t.Fatalf("expected initial unlock, got %+v", out)
	}

	update := `{"deviceId": "OC-000000000000", "eventId": 11, "type": "update", "body": {"eventClassification": 3}}`
	out = eng.Handle(ctx, msg(model.KindEventUpdate, update))
	if len(out) != 1 || out[0].Result != model.PolicyLocked || out[0].Reason != "matched Contraband Rule" {
		t.Fatalf("expected contraband lock after update, got %+v", out)
	}
	cur := eng.CurrentEvent("OC-000000000000")
	if cur == nil || len(cur.RFIDCodes) != 1 || !cur.HasTrigger(model.TriggerOutdoorMotion) {
		t.Fatalf("update should keep earlier fields, got %+v", cur)
	}

	if out := eng.Handle(ctx, msg(model.KindDeviceEventUpdate, update)); len(out) != 0 {
		t.Fatalf("identical update should not produce another decision, got %+v", out)
	}

	eng.Handle(ctx, msg(model.KindEventUpdate, `{"deviceId": "OC-000000000000", "eventId": 11, "type": "delete"}`))
	if eng.CurrentEvent("OC-000000000000") != nil {
		t.Fatalf("delete should drop the current event")
	}
}

func TestDedupeWindowSuppressesRedelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.DedupeWindow = config.DefaultConfig().Evaluation.DedupeWindow
	eng := newEngineForTest(t, cfg)
	seed(t, eng)
	ctx := context.Background()
	first := `{"deviceId": "OC-000000000000", "eventId": 1, "eventTriggerSource": 2}`
	second := `{"deviceId": "OC-000000000000", "eventId": 2, "eventTriggerSource": 2}`

	if len(eng.Handle(ctx, msg(model.KindEvent, first))) != 1 {
		t.Fatalf("expected first decision")
	}
	if len(eng.Handle(ctx, msg(model.KindEvent, second))) != 1 {
		t.Fatalf("expected second decision")
	}
	if out := eng.Handle(ctx, msg(model.KindEvent, first)); len(out) != 0 {
		t.Fatalf("redelivered event inside window should be suppressed, got %+v", out)
	}
}

func TestRedeliveryKeepsCurrentEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.DedupeWindow = config.DefaultConfig().Evaluation.DedupeWindow
	eng := newEngineForTest(t, cfg)
	seed(t, eng)
	ctx := context.Background()
	first := `{"deviceId": "OC-000000000000", "eventId": 1, "eventTriggerSource": 2}`
	second := `{"deviceId": "OC-000000000000", "eventId": 2, "eventTriggerSource": 3, "rfidCodes": ["000000000000000"]}`

	eng.Handle(ctx, msg(model.KindEvent, first))
	out := eng.Handle(ctx, msg(model.KindEvent, second))
	if len(out) != 1 || out[0].Result != model.PolicyUnlocked {
		t.Fatalf("expected unlock for second event, got %+v", out)
	}
	if out := eng.Handle(ctx, msg(model.KindEvent, first)); len(out) != 0 {
		t.Fatalf("redelivered event should be suppressed, got %+v", out)
	}
	if cur := eng.CurrentEvent("OC-000000000000"); cur == nil || cur.EventID != 2 {
		t.Fatalf("suppressed redelivery replaced the current event: %+v", cur)
	}

	update := `{"deviceId": "OC-000000000000", "eventId": 2, "type": "update", "body": {"frameCount": 40}}`
	out = eng.Handle(ctx, msg(model.KindEventUpdate, update))
	if len(out) != 1 || out[0].Result != model.PolicyUnlocked || out[0].Reason != "matched Entry Rule" {
		t.Fatalf("update should merge into the second event, got %+v", out)
	}
	if !out[0].Complete {
		t.Fatalf("merged event should be complete")
	}
}

func TestRemoteUnlockAndUnknownPolicy(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	ctx := context.Background()

	out := eng.Handle(ctx, msg(model.KindEvent, `{"deviceId": "new-flap", "eventId": 1, "eventTriggerSource": 3}`))
	if len(out) != 1 || out[0].Known || out[0].Result != model.PolicyUnknown {
		t.Fatalf("expected unknown decision without policy, got %+v", out)
	}
	out = eng.Handle(ctx, msg(model.KindEvent, `{"deviceId": "new-flap", "eventId": 2, "eventTriggerSource": 1}`))
	if len(out) != 1 || !out[0].Unlocked || !out[0].Remote {
		t.Fatalf("expected remote unlock, got %+v", out)
	}
	if m, _ := eng.metrics.Get("new-flap"); m.RemoteUnlock != 1 || m.Unknown != 2 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestHandleDropsBadMessages(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	ctx := context.Background()
	for _, m := range []model.Message{
		msg("bogus", `{}`),
		msg(model.KindEvent, `not json`),
		msg(model.KindTransitPolicy, `{"deviceTransitPolicyId": 3}`),
		msg(model.KindDevice, `{"description": "no id"}`),
		msg(model.KindEvent, `{"eventId": 4}`),
	} {
		if out := eng.Handle(ctx, m); len(out) != 0 {
			t.Errorf("%s: expected no decisions, got %+v", m.Kind, out)
		}
	}
	if eng.Registry().Len() != 0 {
		t.Fatalf("bad messages must not register devices")
	}
	if eng.Stats().Messages != 5 {
		t.Fatalf("expected all messages counted, got %d", eng.Stats().Messages)
	}
}

func TestDeviceUpdateSwitchesActivePolicy(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)
	ctx := context.Background()
	eng.Handle(ctx, msg(model.KindTransitPolicy, `{"deviceTransitPolicyId": 2, "deviceId": "OC-000000000000", "name": "Open", "transitPolicy": {"idleLock": false, "rules": []}}`))
	eng.Handle(ctx, msg(model.KindDeviceUpdate, `{"deviceId": "OC-000000000000", "type": "update", "body": {"deviceTransitPolicyId": 2}}`))

	dev, ok := eng.Registry().Get("OC-000000000000")
	if !ok || dev.ActivePolicy() == nil || dev.ActivePolicy().Name != "Open" {
		t.Fatalf("expected policy 2 to be active")
	}
	if dev.Description() != "Kitchen" {
		t.Fatalf("device update must keep description, got %q", dev.Description())
	}
	eng.Handle(ctx, msg(model.KindDeviceUpdate, `{"deviceId": "OC-000000000000", "type": "delete"}`))
	if _, ok := eng.Registry().Get("OC-000000000000"); ok {
		t.Fatalf("delete update should remove the device")
	}
}

func TestEvaluateDoesNotRecord(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)
	ev := model.ParseEvent([]byte(`{"deviceId": "OC-000000000000", "eventId": 1, "eventTriggerSource": 3, "eventClassification": 2}`), nil)
	d, err := eng.Evaluate(ev)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Result != model.PolicyLocked {
		t.Fatalf("expected locked, got %s", d.Result)
	}
	if eng.decisions.Len() != 0 {
		t.Fatalf("evaluate must not record decisions")
	}
	ev.DeviceID = "missing"
	if _, err := eng.Evaluate(ev); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected unknown device error, got %v", err)
	}
}

func TestSelectPolicy(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)
	ctx := context.Background()
	eng.Handle(ctx, msg(model.KindTransitPolicy, `{"deviceTransitPolicyId": 2, "deviceId": "OC-000000000000", "name": "Open"}`))

	if _, err := eng.SelectPolicy(ctx, "OC-000000000000", "Missing"); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected unknown policy error, got %v", err)
	}
	id, err := eng.SelectPolicy(ctx, "OC-000000000000", "Open")
	if err != nil || id != 2 {
		t.Fatalf("select without publisher: id=%d err=%v", id, err)
	}
	dev, _ := eng.Registry().Get("OC-000000000000")
	if active, _ := dev.ActivePolicyID(); active != 2 {
		t.Fatalf("expected local activation, got %d", active)
	}

	pub := &recordingPublisher{}
	eng.SetPublisher(pub)
	if _, err := eng.SelectPolicy(ctx, "OC-000000000000", "Allow clean in"); err != nil {
		t.Fatalf("select with publisher: %v", err)
	}
	if len(pub.requests) != 1 || pub.requests[0].Type != model.RequestActivatePolicy {
		t.Fatalf("unexpected requests %+v", pub.requests)
	}
	if active, _ := dev.ActivePolicyID(); active != 2 {
		t.Fatalf("publishing must wait for the service to confirm, active=%d", active)
	}

	if err := eng.PublishPolicy(ctx, dev.Policy(1)); err != nil {
		t.Fatalf("publish policy: %v", err)
	}
	last := pub.requests[len(pub.requests)-1]
	if last.Type != model.RequestUpdatePolicy || last.Data["deviceTransitPolicyId"] != int64(1) {
		t.Fatalf("unexpected update request %+v", last)
	}

	pub.err = errors.New("broker down")
	if err := eng.ActivatePolicy(ctx, "OC-000000000000", 1); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestPublishPolicyDisabled(t *testing.T) {
	eng := newEngineForTest(t, testConfig())
	seed(t, eng)
	dev, _ := eng.Registry().Get("OC-000000000000")
	if err := eng.PublishPolicy(context.Background(), dev.Policy(1)); !errors.Is(err, ErrPublishDisabled) {
		t.Fatalf("expected publish disabled, got %v", err)
	}
}

func TestRestoreFromStorage(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	cfg := testConfig()
	registry, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	first := NewEngine(cfg, nil, registry, metrics.NewStore(10), decisions.NewStore(10), store)
	seed(t, first)
	first.Handle(ctx, msg(model.KindEvent, `{"deviceId": "OC-000000000000", "eventId": 1, "eventTriggerSource": 2}`))

	registry, err = NewRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	second := NewEngine(cfg, nil, registry, metrics.NewStore(10), decisions.NewStore(10), store)
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one restored policy, got %d", n)
	}
	dev, ok := second.Registry().Get("OC-000000000000")
	if !ok || dev.Policy(1) == nil || dev.Policy(1).Name != "Allow clean in" {
		t.Fatalf("policy not restored")
	}
}
