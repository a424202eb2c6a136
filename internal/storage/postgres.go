package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/flapguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: func(n int) string { return "$" + strconv.Itoa(n) }}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			ts TEXT NOT NULL,
			device_id TEXT NOT NULL,
			event_id BIGINT NOT NULL,
			policy_id BIGINT,
			result TEXT NOT NULL,
			unlocked BOOLEAN NOT NULL,
			known BOOLEAN NOT NULL,
			complete BOOLEAN NOT NULL,
			reason TEXT NOT NULL,
			source TEXT,
			decision_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_device_ts ON decisions(device_id, ts)`,
		`CREATE TABLE IF NOT EXISTS transit_policies (
			device_id TEXT NOT NULL,
			policy_id BIGINT NOT NULL,
			payload JSONB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (device_id, policy_id)
		)`,
	})
}
