package libdbexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// NewSQLiteDBManager opens the database file at path (or a "file:" URI),
// creating its parent directory, and applies schema. It backs the local
// planner store: checkpoints and templates in one file.
func NewSQLiteDBManager(ctx context.Context, path string, schema string) (DBManager, error) {
	if err := ensureSQLiteParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite parent dir: %w", err)
	}
	return open(ctx, "sqlite", path, translateSQLiteError, "PRAGMA foreign_keys = ON", schema)
}

// translateSQLiteError maps driver errors onto the package sentinels.
// modernc reports constraint failures only through the message text.
func translateSQLiteError(err error) error {
	if out, ok := translateCommon(err); ok {
		return out
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	case strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: %w", ErrLockNotAvailable, err)
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %w", ErrUndefinedTable, err)
	}
	return fmt.Errorf("libdb: sqlite error: %w", err)
}

// ensureSQLiteParentDir creates the directory holding path. In-memory
// databases are skipped; query parameters of file: URIs are ignored.
func ensureSQLiteParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory") {
		return nil
	}
	fsPath := path
	if rest, ok := strings.CutPrefix(fsPath, "file:"); ok {
		fsPath, _, _ = strings.Cut(rest, "?")
	}
	dir := filepath.Dir(fsPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
