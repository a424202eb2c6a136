package policy

import (
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"flapguard/internal/model"
)

// RuleCriteria is a conjunction of optional multi-valued predicates. An empty
// field places no constraint on events.
//
// MotionSensorStates and FlapStates are carried for the device firmware. They
// are not matched here; a device can only suppress rules that use them.
// RFIDTimeout is advisory and never evaluated.
type RuleCriteria struct {
	TriggerSources     []model.TriggerSource
	Classifications    []model.Classification
	RFIDCodes          []string
	RFIDTimeout        *int
	TimeRanges         []TimeRange
	MotionSensorStates []model.MotionState
	FlapStates         []model.FlapState
}

type criteriaWire struct {
	EventTriggerSource  json.RawMessage `json:"eventTriggerSource"`
	EventClassification json.RawMessage `json:"eventClassification"`
	RFIDCode            json.RawMessage `json:"rfidCode"`
	RFIDTimeout         *int            `json:"rfidTimeout"`
	TimeRange           json.RawMessage `json:"timeRange"`
	MotionSensorState   json.RawMessage `json:"motionSensorState"`
	FlapState           json.RawMessage `json:"flapState"`
}

func (w *criteriaWire) toCriteria(logger *slog.Logger) *RuleCriteria {
	c := &RuleCriteria{RFIDTimeout: w.RFIDTimeout}
	for _, v := range decodeInts(w.EventTriggerSource, "eventTriggerSource", logger) {
		c.TriggerSources = append(c.TriggerSources, model.ParseTriggerSource(v, logger))
	}
	for _, v := range decodeInts(w.EventClassification, "eventClassification", logger) {
		c.Classifications = append(c.Classifications, model.ParseClassification(v, logger))
	}
	c.RFIDCodes = decodeStrings(w.RFIDCode, "rfidCode", logger)
	for _, v := range decodeStrings(w.TimeRange, "timeRange", logger) {
		tr, err := ParseTimeRange(v)
		if err != nil {
			if logger != nil {
				logger.Warn("dropping malformed time range", "value", v, "err", err)
			}
			continue
		}
		c.TimeRanges = append(c.TimeRanges, tr)
	}
	for _, v := range decodeInts(w.MotionSensorState, "motionSensorState", logger) {
		c.MotionSensorStates = append(c.MotionSensorStates, model.ParseMotionState(v, logger))
	}
	for _, v := range decodeInts(w.FlapState, "flapState", logger) {
		c.FlapStates = append(c.FlapStates, model.ParseFlapState(v, logger))
	}
	return c
}

func ParseRuleCriteria(data []byte, logger *slog.Logger) *RuleCriteria {
	if !rawPresent(data) {
		return nil
	}
	var w criteriaWire
	if !model.DecodeLenient(data, &w, "rule criteria", logger) {
		return nil
	}
	return w.toCriteria(logger)
}

func (c *RuleCriteria) Matches(ev *model.Event, loc *time.Location) bool {
	if c == nil || ev == nil {
		return false
	}
	if len(c.TriggerSources) > 0 {
		if ev.TriggerSource == nil || !slices.Contains(c.TriggerSources, *ev.TriggerSource) {
			return false
		}
	}
	if len(c.Classifications) > 0 {
		if ev.Classification == nil || !slices.Contains(c.Classifications, *ev.Classification) {
			return false
		}
	}
	if len(c.RFIDCodes) > 0 {
		found := false
		for _, code := range ev.RFIDCodes {
			if slices.Contains(c.RFIDCodes, code) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.TimeRanges) > 0 {
		if ev.Timestamp.IsZero() {
			return false
		}
		for _, tr := range c.TimeRanges {
			if tr.ContainsTimestamp(ev.Timestamp, loc) {
				return true
			}
		}
		return false
	}
	return true
}

func (c *RuleCriteria) UsesFlapState() bool {
	return c != nil && len(c.FlapStates) > 0
}

func (c *RuleCriteria) UsesMotionSensorState() bool {
	return c != nil && len(c.MotionSensorStates) > 0
}

func (c *RuleCriteria) ToMap() map[string]any {
	data := map[string]any{}
	if c == nil {
		return data
	}
	if len(c.RFIDCodes) > 0 {
		data["rfidCode"] = compact(c.RFIDCodes)
	}
	if len(c.TimeRanges) > 0 {
		ranges := make([]string, len(c.TimeRanges))
		for i, tr := range c.TimeRanges {
			ranges[i] = tr.String()
		}
		data["timeRange"] = compact(ranges)
	}
	if triggers := withoutUnknown(c.TriggerSources, model.TriggerUnknown); len(triggers) > 0 {
		data["eventTriggerSource"] = compact(triggers)
	}
	if len(c.Classifications) > 0 {
		data["eventClassification"] = compact(c.Classifications)
	}
	if c.RFIDTimeout != nil {
		data["rfidTimeout"] = *c.RFIDTimeout
	}
	if states := withoutUnknown(c.FlapStates, model.FlapUnknown); len(states) > 0 {
		data["flapState"] = compact(states)
	}
	if len(c.MotionSensorStates) > 0 {
		data["motionSensorState"] = compact(c.MotionSensorStates)
	}
	return data
}
