package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flapguard/internal/config"
	"flapguard/internal/model"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

type StoredPolicy struct {
	DeviceID  string
	PolicyID  int64
	Payload   []byte
	UpdatedAt time.Time
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDecision(ctx context.Context, d model.Decision) error
	SavePolicy(ctx context.Context, deviceID string, policyID int64, payload []byte) error
	LoadPolicies(ctx context.Context) ([]StoredPolicy, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// baseStore holds the statements shared by both drivers. bind renders the
// n-th (1-based) placeholder in the driver's syntax.
type baseStore struct {
	db   *sql.DB
	bind func(n int) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = b.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if b.db == nil {
		return nil
	}
	var policyID sql.NullInt64
	if d.PolicyID != nil {
		policyID = sql.NullInt64{Int64: *d.PolicyID, Valid: true}
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO decisions (id, ts, device_id, event_id, policy_id, result, unlocked, known, complete, reason, source, decision_json)
		VALUES (`+b.placeholders(12)+`)`,
		d.ID,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
		d.DeviceID,
		d.EventID,
		policyID,
		d.Result.String(),
		d.Unlocked,
		d.Known,
		d.Complete,
		d.Reason,
		d.Source,
		encodeJSON(d),
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	return nil
}

func (b *baseStore) SavePolicy(ctx context.Context, deviceID string, policyID int64, payload []byte) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO transit_policies (device_id, policy_id, payload, updated_at)
		VALUES (`+b.placeholders(4)+`)
		ON CONFLICT (device_id, policy_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		deviceID,
		policyID,
		string(payload),
		nowUTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save policy %s/%d: %w", deviceID, policyID, err)
	}
	return nil
}

func (b *baseStore) LoadPolicies(ctx context.Context) ([]StoredPolicy, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT device_id, policy_id, payload, updated_at FROM transit_policies ORDER BY device_id, policy_id`)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()
	var out []StoredPolicy
	for rows.Next() {
		var (
			p         StoredPolicy
			payload   string
			updatedAt string
		)
		if err := rows.Scan(&p.DeviceID, &p.PolicyID, &payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.Payload = []byte(payload)
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			p.UpdatedAt = ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
