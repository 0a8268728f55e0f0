package planstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	libdb "github.com/contenox/planner/libdbexec"
	libkv "github.com/contenox/planner/libkvstore"
	"github.com/contenox/planner/planstore"
	"github.com/stretchr/testify/require"
)

func TestUnit_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "planner.db"), planstore.SchemaSQLite)
	require.NoError(t, err)
	defer db.Close()

	runStoreContract(t, planstore.NewSQLBackend(db))
}

func TestSystem_PostgresStore(t *testing.T) {
	ctx := context.Background()
	dsn, _, cleanup, err := libdb.SetupLocalInstance(ctx, "planner", "planner", "planner")
	defer cleanup()
	require.NoError(t, err)

	db, err := libdb.NewPostgresDBManager(ctx, dsn, planstore.Schema)
	require.NoError(t, err)
	defer db.Close()

	runStoreContract(t, planstore.NewSQLBackend(db))
}

func TestSystem_ValkeyStore(t *testing.T) {
	ctx := context.Background()
	addr, _, cleanup, err := libkv.SetupLocalInstance(ctx)
	defer cleanup()
	require.NoError(t, err)

	kv, err := libkv.NewManager(libkv.Config{KVAddr: addr}, 5*time.Second)
	require.NoError(t, err)
	defer kv.Close()

	runStoreContract(t, planstore.NewKVBackend(kv, "test:"))
}
