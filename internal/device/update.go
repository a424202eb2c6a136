package device

import (
	"encoding/json"
	"log/slog"

	"flapguard/internal/model"
)

type Update struct {
	DeviceID string
	Type     model.UpdateType
	Body     *Device
}

type updateWire struct {
	DeviceID *string         `json:"deviceId"`
	Type     string          `json:"type"`
	Body     json.RawMessage `json:"body"`
}

func ParseUpdate(data []byte, logger *slog.Logger) *Update {
	if model.IsAbsent(data) {
		return nil
	}
	var w updateWire
	if !model.DecodeLenient(data, &w, "device update", logger) {
		return nil
	}
	if w.DeviceID == nil || *w.DeviceID == "" {
		if logger != nil {
			logger.Warn("device update missing device id")
		}
		return nil
	}
	return &Update{
		DeviceID: *w.DeviceID,
		Type:     model.ParseUpdateType(w.Type, logger),
		Body:     Parse(w.Body, *w.DeviceID, logger),
	}
}
