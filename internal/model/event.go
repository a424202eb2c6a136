package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

type Event struct {
	GlobalID         int64           `json:"global_id"`
	DeviceID         string          `json:"device_id"`
	EventID          int64           `json:"event_id"`
	Timestamp        time.Time       `json:"timestamp"`
	FrameCount       *int            `json:"frame_count,omitempty"`
	TriggerSource    *TriggerSource  `json:"event_trigger_source,omitempty"`
	Classification   *Classification `json:"event_classification,omitempty"`
	PosterFrameIndex *int            `json:"poster_frame_index,omitempty"`
	AccessToken      *string         `json:"access_token,omitempty"`
	RFIDCodes        []string        `json:"rfid_codes"`
}

type eventWire struct {
	GlobalID            *int64          `json:"globalId"`
	DeviceID            *string         `json:"deviceId"`
	EventID             *int64          `json:"eventId"`
	Timestamp           json.RawMessage `json:"timestamp"`
	FrameCount          *int            `json:"frameCount"`
	EventTriggerSource  *int            `json:"eventTriggerSource"`
	EventClassification *int            `json:"eventClassification"`
	PosterFrameIndex    *int            `json:"posterFrameIndex"`
	AccessToken         *string         `json:"accessToken"`
	RFIDCodes           []string        `json:"rfidCodes"`
}

func ParseEvent(data []byte, logger *slog.Logger) *Event {
	if IsAbsent(data) {
		return nil
	}
	var w eventWire
	if !DecodeLenient(data, &w, "event", logger) {
		return nil
	}
	ev := &Event{
		FrameCount:       w.FrameCount,
		PosterFrameIndex: w.PosterFrameIndex,
		AccessToken:      w.AccessToken,
		RFIDCodes:        w.RFIDCodes,
	}
	if w.GlobalID != nil {
		ev.GlobalID = *w.GlobalID
	}
	if w.DeviceID != nil {
		ev.DeviceID = *w.DeviceID
	}
	if w.EventID != nil {
		ev.EventID = *w.EventID
	}
	if len(w.Timestamp) > 0 && string(w.Timestamp) != "null" {
		ts, err := parseRawTimestamp(w.Timestamp)
		if err != nil {
			if logger != nil {
				logger.Warn("event timestamp unparsable", "event_id", ev.EventID, "err", err)
			}
		} else {
			ev.Timestamp = ts
		}
	}
	if w.EventTriggerSource != nil {
		t := ParseTriggerSource(*w.EventTriggerSource, logger)
		ev.TriggerSource = &t
	}
	if w.EventClassification != nil {
		c := ParseClassification(*w.EventClassification, logger)
		ev.Classification = &c
	}
	if ev.RFIDCodes == nil {
		ev.RFIDCodes = []string{}
	}
	return ev
}

func (e *Event) Complete() bool {
	return e != nil && e.FrameCount != nil
}

func (e *Event) HasTrigger(src TriggerSource) bool {
	return e != nil && e.TriggerSource != nil && *e.TriggerSource == src
}

// Merge folds the present fields of an update into e. It reports whether any
// field changed. Updates for a different event id are ignored.
func (e *Event) Merge(update *Event) bool {
	if e == nil || update == nil || update.EventID != e.EventID {
		return false
	}
	changed := false
	if update.GlobalID != 0 && update.GlobalID != e.GlobalID {
		e.GlobalID = update.GlobalID
		changed = true
	}
	if update.DeviceID != "" && update.DeviceID != e.DeviceID {
		e.DeviceID = update.DeviceID
		changed = true
	}
	if !update.Timestamp.IsZero() && !update.Timestamp.Equal(e.Timestamp) {
		e.Timestamp = update.Timestamp
		changed = true
	}
	if update.FrameCount != nil && !equalIntPtr(update.FrameCount, e.FrameCount) {
		e.FrameCount = update.FrameCount
		changed = true
	}
	if update.TriggerSource != nil && (e.TriggerSource == nil || *e.TriggerSource != *update.TriggerSource) {
		e.TriggerSource = update.TriggerSource
		changed = true
	}
	if update.Classification != nil && (e.Classification == nil || *e.Classification != *update.Classification) {
		e.Classification = update.Classification
		changed = true
	}
	if update.PosterFrameIndex != nil && !equalIntPtr(update.PosterFrameIndex, e.PosterFrameIndex) {
		e.PosterFrameIndex = update.PosterFrameIndex
		changed = true
	}
	if update.AccessToken != nil && (e.AccessToken == nil || *e.AccessToken != *update.AccessToken) {
		e.AccessToken = update.AccessToken
		changed = true
	}
	if len(update.RFIDCodes) > 0 && !equalStrings(update.RFIDCodes, e.RFIDCodes) {
		e.RFIDCodes = append([]string(nil), update.RFIDCodes...)
		changed = true
	}
	return changed
}

func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.RFIDCodes = append([]string{}, e.RFIDCodes...)
	return &out
}

type EventUpdate struct {
	DeviceID string
	EventID  int64
	Type     UpdateType
	Body     *Event
}

type eventUpdateWire struct {
	DeviceID *string         `json:"deviceId"`
	EventID  *int64          `json:"eventId"`
	Type     string          `json:"type"`
	Body     json.RawMessage `json:"body"`
}

func ParseEventUpdate(data []byte, logger *slog.Logger) *EventUpdate {
	if IsAbsent(data) {
		return nil
	}
	var w eventUpdateWire
	if !DecodeLenient(data, &w, "event update", logger) {
		return nil
	}
	if w.DeviceID == nil || w.EventID == nil {
		if logger != nil {
			logger.Warn("event update missing identifiers")
		}
		return nil
	}
	u := &EventUpdate{
		DeviceID: *w.DeviceID,
		EventID:  *w.EventID,
		Type:     ParseUpdateType(w.Type, logger),
		Body:     ParseEvent(w.Body, logger),
	}
	if u.Body == nil {
		u.Body = &Event{RFIDCodes: []string{}}
	}
	if u.Body.DeviceID == "" {
		u.Body.DeviceID = u.DeviceID
	}
	if u.Body.EventID == 0 {
		u.Body.EventID = u.EventID
	}
	return u
}

func IsAbsent(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

func DecodeLenient(data []byte, v any, what string, logger *slog.Logger) bool {
	err := json.Unmarshal(data, v)
	if err == nil {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		if logger != nil {
			logger.Warn(what+" payload has unexpected field type", "field", typeErr.Field, "err", err)
		}
		return true
	}
	if logger != nil {
		logger.Warn(what+" payload undecodable", "err", err)
	}
	return false
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
