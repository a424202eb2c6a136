package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"flapguard/internal/model"
)

type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}

func hashEvent(ev *model.Event) string {
	parts := []string{
		ev.DeviceID,
		strconv.FormatInt(ev.EventID, 10),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		optInt(ev.FrameCount),
		strings.Join(ev.RFIDCodes, ","),
	}
	if ev.TriggerSource != nil {
		parts = append(parts, "t"+strconv.Itoa(int(*ev.TriggerSource)))
	}
	if ev.Classification != nil {
		parts = append(parts, "c"+strconv.Itoa(int(*ev.Classification)))
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
