package policy

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

func rawPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func splitRaw(raw json.RawMessage) []json.RawMessage {
	if !rawPresent(raw) {
		return nil
	}
	var list []json.RawMessage
	if bytes.TrimSpace(raw)[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		return list
	}
	return []json.RawMessage{raw}
}

func decodeInts(raw json.RawMessage, field string, logger *slog.Logger) []int {
	items := splitRaw(raw)
	if len(items) == 0 {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		var v int
		if err := json.Unmarshal(item, &v); err != nil {
			if logger != nil {
				logger.Warn("dropping non-integer criteria value", "field", field, "value", string(item))
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeStrings(raw json.RawMessage, field string, logger *slog.Logger) []string {
	items := splitRaw(raw)
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var v string
		if err := json.Unmarshal(item, &v); err != nil {
			if logger != nil {
				logger.Warn("dropping non-string criteria value", "field", field, "value", string(item))
			}
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compact[T any](values []T) any {
	if len(values) == 1 {
		return values[0]
	}
	out := make([]T, len(values))
	copy(out, values)
	return out
}

// withoutUnknown drops codes that decoded to the fallback value; the remote
// schema has no code for them.
func withoutUnknown[T comparable](values []T, unknown T) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		if v != unknown {
			out = append(out, v)
		}
	}
	return out
}
