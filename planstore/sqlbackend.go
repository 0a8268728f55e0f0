package planstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	libdb "github.com/contenox/planner/libdbexec"
)

//go:embed schema.sql
var Schema string

//go:embed schema_sqlite.sql
var SchemaSQLite string

type sqlBackend struct {
	db libdb.DBManager
}

// NewSQLBackend stores values in the kv table. The manager must have been
// opened with Schema (Postgres) or SchemaSQLite.
func NewSQLBackend(db libdb.DBManager) Backend {
	return &sqlBackend{db: db}
}

func (b *sqlBackend) Save(ctx context.Context, key string, value json.RawMessage) error {
	now := time.Now().UTC()
	_, err := b.db.WithoutTransaction().ExecContext(ctx, `
		INSERT INTO kv (key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		string(value),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

func (b *sqlBackend) Load(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := b.db.WithoutTransaction().QueryRowContext(ctx, `
		SELECT value
		FROM kv
		WHERE key = $1`,
		key,
	).Scan(&value)
	if errors.Is(err, libdb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}
