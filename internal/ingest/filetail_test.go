package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

func receive(t *testing.T, out <-chan model.Message) model.Message {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for message")
		return model.Message{}
	}
}

func TestFileTailReadsEnvelopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.ndjson")
	initial := "{\"type\": \"device\", \"data\": {\"deviceId\": \"a\"}}\n\nnot json\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.Message, 8)
	StartFileTail(ctx, config.FileTailConfig{Enabled: true, Files: []string{path}}, out, nil)

	if msg := receive(t, out); msg.Kind != model.KindDevice || msg.Source != "file_tail" {
		t.Fatalf("unexpected message %+v", msg)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(`{"type": "event", `); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := f.WriteString("\"data\": {\"eventId\": 2}}\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	msg := receive(t, out)
	if msg.Kind != model.KindEvent || string(msg.Data) != `{"eventId": 2}` {
		t.Fatalf("partial line not joined: %+v", msg)
	}
}
