package policy

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"flapguard/internal/model"
)

func testEvent(trigger model.TriggerSource, class model.Classification, rfid ...string) *model.Event {
	if rfid == nil {
		rfid = []string{}
	}
	return &model.Event{
		DeviceID:       "OC-000000000000",
		EventID:        1,
		Timestamp:      time.Date(2025, 10, 18, 8, 15, 21, 0, time.UTC),
		TriggerSource:  &trigger,
		Classification: &class,
		RFIDCodes:      rfid,
	}
}

func TestParseRuleCriteriaScalarsAndLists(t *testing.T) {
	c := ParseRuleCriteria([]byte(`{
		"eventTriggerSource": 2,
		"eventClassification": [1, 2, 4],
		"rfidCode": ["123456789"],
		"timeRange": ["08:00-10:00"],
		"motionSensorState": 3,
		"flapState": 1
	}`), nil)
	if c == nil {
		t.Fatalf("expected criteria")
	}
	if !reflect.DeepEqual(c.TriggerSources, []model.TriggerSource{model.TriggerIndoorMotion}) {
		t.Fatalf("unexpected trigger sources: %v", c.TriggerSources)
	}
	wantClass := []model.Classification{model.ClassificationClear, model.ClassificationSuspicious, model.ClassificationHumanActivity}
	if !reflect.DeepEqual(c.Classifications, wantClass) {
		t.Fatalf("unexpected classifications: %v", c.Classifications)
	}
	if !reflect.DeepEqual(c.RFIDCodes, []string{"123456789"}) {
		t.Fatalf("unexpected rfid codes: %v", c.RFIDCodes)
	}
	if len(c.TimeRanges) != 1 || c.TimeRanges[0].String() != "08:00-10:00" {
		t.Fatalf("unexpected time ranges: %v", c.TimeRanges)
	}
	if !reflect.DeepEqual(c.MotionSensorStates, []model.MotionState{3}) {
		t.Fatalf("unexpected motion states: %v", c.MotionSensorStates)
	}
	if !reflect.DeepEqual(c.FlapStates, []model.FlapState{model.FlapOpenOutward}) {
		t.Fatalf("unexpected flap states: %v", c.FlapStates)
	}
}

func TestParseRuleCriteriaDropsBadValues(t *testing.T) {
	c := ParseRuleCriteria([]byte(`{"eventTriggerSource": ["x", 3], "timeRange": "bogus", "rfidCode": [1]}`), nil)
	if !reflect.DeepEqual(c.TriggerSources, []model.TriggerSource{model.TriggerOutdoorMotion}) {
		t.Fatalf("unexpected trigger sources: %v", c.TriggerSources)
	}
	if c.TimeRanges != nil || c.RFIDCodes != nil {
		t.Fatalf("expected malformed values to be dropped: %+v", c)
	}
	if ParseRuleCriteria(nil, nil) != nil || ParseRuleCriteria([]byte("null"), nil) != nil {
		t.Fatalf("expected nil criteria for absent input")
	}
}

func TestCriteriaMatches(t *testing.T) {
	ev := testEvent(model.TriggerIndoorMotion, model.ClassificationClear, "123456789")
	payloads := []struct {
		criteria string
		want     bool
	}{
		{`{"flapState": [1, 2]}`, true},
		{`{"eventTriggerSource": 2, "rfidCode": "123456789"}`, true},
		{`{"eventClassification": [2, 3], "eventTriggerSource": 3, "rfidCode": "123456789"}`, false},
		{`{"rfidCode": "123456789", "eventTriggerSource": 3}`, false},
		{`{"rfidCode": ["223456789", "323456789"], "eventTriggerSource": 3}`, false},
		{`{}`, true},
		{`{"timeRange": "08:00-09:00"}`, true},
		{`{"timeRange": ["22:00-02:00", "12:00-13:00"]}`, false},
	}
	for i, p := range payloads {
		c := ParseRuleCriteria([]byte(p.criteria), nil)
		if got := c.Matches(ev, time.UTC); got != p.want {
			t.Errorf("case %d %s: got %v, want %v", i, p.criteria, got, p.want)
		}
	}
}

func TestCriteriaMatchesMissingEventFields(t *testing.T) {
	ev := &model.Event{RFIDCodes: []string{}}
	if ParseRuleCriteria([]byte(`{"eventTriggerSource": 0}`), nil).Matches(ev, time.UTC) {
		t.Fatalf("event without trigger source must not match a trigger criterion")
	}
	if ParseRuleCriteria([]byte(`{"timeRange": "00:00-23:59"}`), nil).Matches(ev, time.UTC) {
		t.Fatalf("event without timestamp must not match a time criterion")
	}
	if !ParseRuleCriteria([]byte(`{"motionSensorState": 1}`), nil).Matches(ev, time.UTC) {
		t.Fatalf("sensor-only criteria should not constrain events")
	}
	var nilCriteria *RuleCriteria
	if nilCriteria.Matches(ev, time.UTC) {
		t.Fatalf("nil criteria must not match")
	}
}

func TestCriteriaToMapCompacts(t *testing.T) {
	c := ParseRuleCriteria([]byte(`{"rfidCode": ["abc"], "eventClassification": [2, 3], "timeRange": "22:00-02:00", "rfidTimeout": 30}`), nil)
	data, err := json.Marshal(c.ToMap())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"eventClassification":[2,3],"rfidCode":"abc","rfidTimeout":30,"timeRange":"22:00-02:00"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
	back := ParseRuleCriteria(data, nil)
	if !reflect.DeepEqual(back, c) {
		t.Fatalf("round trip changed criteria: %+v vs %+v", back, c)
	}
}

func TestCriteriaToMapDropsUnknownCodes(t *testing.T) {
	c := ParseRuleCriteria([]byte(`{"eventTriggerSource": [3, 42], "flapState": 99, "eventClassification": 2}`), nil)
	if len(c.TriggerSources) != 2 || len(c.FlapStates) != 1 {
		t.Fatalf("unknown codes should still decode, got %+v", c)
	}
	data, err := json.Marshal(c.ToMap())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"eventClassification":2,"eventTriggerSource":3}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}
