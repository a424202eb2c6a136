package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:flapguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, bind: func(int) string { return "?" }}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			device_id TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			policy_id INTEGER,
			result TEXT NOT NULL,
			unlocked INTEGER NOT NULL,
			known INTEGER NOT NULL,
			complete INTEGER NOT NULL,
			reason TEXT NOT NULL,
			source TEXT,
			decision_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_device_ts ON decisions(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS transit_policies (
			device_id TEXT NOT NULL,
			policy_id INTEGER NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (device_id, policy_id)
		)`,
	})
}
