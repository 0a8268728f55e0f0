// Package libdbexec wraps database/sql behind a small manager interface so
// stores can run with or without a transaction and get driver independent
// sentinel errors.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("libdb: not found")
	ErrTxFailed            = errors.New("libdb: transaction failed")
	ErrQueryCanceled       = errors.New("libdb: query canceled")
	ErrUniqueViolation     = errors.New("libdb: unique constraint violation")
	ErrConstraintViolation = errors.New("libdb: constraint violation")
	ErrLockNotAvailable    = errors.New("libdb: lock not available")
	ErrUndefinedTable      = errors.New("libdb: undefined table")
)

// QueryRower is the subset of *sql.Row the stores use.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec runs statements either on the pool or inside a transaction.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// CommitTx commits the transaction it was returned with.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back unless committed. Safe to defer unconditionally.
type ReleaseTx func() error

type DBManager interface {
	WithoutTransaction() Exec
	// WithTransaction starts a transaction. onRollback hooks run when the
	// transaction is released without a successful commit.
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// manager is the driver independent DBManager; translate maps driver errors
// onto the sentinels above.
type manager struct {
	db        *sql.DB
	translate func(error) error
}

// open connects, pings and runs the setup statements in order. Every
// statement must be idempotent.
func open(ctx context.Context, driver, dsn string, translate func(error) error, setup ...string) (*manager, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, translate(err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s connection failed: %w", driver, translate(err))
	}
	for _, stmt := range setup {
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize %s schema: %w", driver, translate(err))
		}
	}
	return &manager{db: db, translate: translate}, nil
}

func (m *manager) WithoutTransaction() Exec {
	return &execer{conn: m.db, translate: m.translate}
}

func (m *manager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, fmt.Errorf("%w: begin: %w", ErrTxFailed, m.translate(err))
	}

	committed := false
	commit := func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: context done before commit: %w", ErrTxFailed, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %w", ErrTxFailed, m.translate(err))
		}
		committed = true
		return nil
	}
	release := func() error {
		err := tx.Rollback()
		if !committed {
			for _, hook := range onRollback {
				if hook != nil {
					hook()
				}
			}
		}
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback: %w", ErrTxFailed, m.translate(err))
		}
		return nil
	}
	return &execer{conn: tx, translate: m.translate}, commit, release, nil
}

func (m *manager) Close() error {
	return m.db.Close()
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer struct {
	conn      conn
	translate func(error) error
}

func (e *execer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, e.translate(err)
	}
	return res, nil
}

func (e *execer) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	return &row{inner: e.conn.QueryRowContext(ctx, query, args...), translate: e.translate}
}

type row struct {
	inner     *sql.Row
	translate func(error) error
}

func (r *row) Scan(dest ...any) error {
	return r.translate(r.inner.Scan(dest...))
}

// translateCommon handles the errors every driver shares. ok is false when
// the driver specific translation should take over.
func translateCommon(err error) (error, bool) {
	switch {
	case err == nil:
		return nil, true
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err), true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err), true
	}
	return err, false
}
