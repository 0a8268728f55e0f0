package libdbexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// NewPostgresDBManager opens a pool for dsn, pings it and applies schema
// when non-empty. schema must be idempotent (CREATE ... IF NOT EXISTS).
func NewPostgresDBManager(ctx context.Context, dsn string, schema string) (DBManager, error) {
	return open(ctx, "postgres", dsn, translatePostgresError, schema)
}

// translatePostgresError maps pq error codes onto the package sentinels.
func translatePostgresError(err error) error {
	if out, ok := translateCommon(err); ok {
		return out
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("libdb: unexpected database error: %w", err)
	}
	switch pqErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Message)
	case "55P03", "40P01", "40001":
		return fmt.Errorf("%w: %s", ErrLockNotAvailable, pqErr.Message)
	case "57014":
		return fmt.Errorf("%w: %s", ErrQueryCanceled, pqErr.Message)
	case "42P01":
		return fmt.Errorf("%w: %s", ErrUndefinedTable, pqErr.Message)
	}
	if pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
	}
	return fmt.Errorf("libdb: postgres error: code=%s message=%q: %w", pqErr.Code, pqErr.Message, err)
}
