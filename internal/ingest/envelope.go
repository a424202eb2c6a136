package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flapguard/internal/model"
)

var ErrInvalidEnvelope = errors.New("invalid message envelope")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func DecodeMessage(data []byte, source string) (model.Message, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return model.Message{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return model.Message{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return model.Message{
		Kind:       model.MessageKind(env.Type),
		Data:       env.Data,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func DecodeMessages(data []byte, source string) ([]model.Message, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("%w: empty body", ErrInvalidEnvelope)
	}
	if trimmed[0] != '[' {
		msg, err := DecodeMessage(trimmed, source)
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return nil, 0, err
			}
			return nil, 1, nil
		}
		return []model.Message{msg}, 0, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	out := make([]model.Message, 0, len(list))
	failed := 0
	for _, raw := range list {
		msg, err := DecodeMessage(raw, source)
		if err != nil {
			failed++
			continue
		}
		out = append(out, msg)
	}
	return out, failed, nil
}
