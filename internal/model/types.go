package model

import (
	"encoding/json"
	"time"
)

type MessageKind string

const (
	KindEvent             MessageKind = "event"
	KindEventUpdate       MessageKind = "eventUpdate"
	KindDeviceEventUpdate MessageKind = "deviceEventUpdate"
	KindDevice            MessageKind = "device"
	KindDeviceUpdate      MessageKind = "deviceUpdate"
	KindTransitPolicy     MessageKind = "deviceTransitPolicy"
)

type Message struct {
	Kind       MessageKind     `json:"type"`
	Data       json.RawMessage `json:"data"`
	Source     string          `json:"source,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

type DeviceSettings struct {
	IgnoreFlapMotionRules   bool `json:"ignore_flap_motion_rules" yaml:"ignore_flap_motion_rules"`
	IgnoreMotionSensorRules bool `json:"ignore_motion_sensor_rules" yaml:"ignore_motion_sensor_rules"`
}

type Decision struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	DeviceID  string       `json:"device_id"`
	EventID   int64        `json:"event_id"`
	PolicyID  *int64       `json:"policy_id,omitempty"`
	Result    PolicyResult `json:"result"`
	Unlocked  bool         `json:"unlocked"`
	Known     bool         `json:"known"`
	Reason    string       `json:"reason"`
	Complete  bool         `json:"complete"`
	Remote    bool         `json:"remote,omitempty"`
	Source    string       `json:"source,omitempty"`
}

type RequestType string

const (
	RequestActivatePolicy RequestType = "activateDeviceTransitPolicy"
	RequestUpdatePolicy   RequestType = "updateDeviceTransitPolicy"
)

type Request struct {
	Type RequestType    `json:"type"`
	Data map[string]any `json:"data"`
}
