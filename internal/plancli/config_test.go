package plancli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addPersistentFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func Test_withDefaults(t *testing.T) {
	t.Run("empty config gets every default", func(t *testing.T) {
		cfg, err := withDefaults(Config{}, "/tmp/p")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Store)
		assert.Equal(t, filepath.Join("/tmp/p", "planner.db"), cfg.DB)
		assert.Equal(t, "ollama", cfg.Advisor)
		assert.Equal(t, defaultModel, cfg.Model)
		assert.Equal(t, defaultOllama, cfg.Ollama)
		assert.Equal(t, "drain", cfg.FailurePolicy)
		require.NotNil(t, cfg.MaxRevisions)
		assert.Equal(t, 3, *cfg.MaxRevisions)
		require.NotNil(t, cfg.Explain)
		assert.True(t, *cfg.Explain)
		assert.Equal(t, "planner.plan", cfg.EventSubject)
		require.NoError(t, cfg.validate())
	})

	t.Run("explicit zero values survive", func(t *testing.T) {
		zero, off := 0, false
		cfg, err := withDefaults(Config{MaxRevisions: &zero, Explain: &off, Model: "llama3"}, "/tmp/p")
		require.NoError(t, err)
		assert.Equal(t, 0, *cfg.MaxRevisions)
		assert.False(t, *cfg.Explain)
		assert.Equal(t, "llama3", cfg.Model)
	})
}

func Test_applyFlags(t *testing.T) {
	cfg := Config{Store: "postgres", Model: "from-file", StepTimeout: "5m"}
	applyFlags(&cfg, testFlags(t, "--store", "memory", "--max-revisions", "0", "--step-timeout", "90s", "--trace"))

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "from-file", cfg.Model, "unset flags keep file values")
	require.NotNil(t, cfg.MaxRevisions)
	assert.Equal(t, 0, *cfg.MaxRevisions)
	require.NotNil(t, cfg.Tracing)
	assert.True(t, *cfg.Tracing)
	d, err := cfg.stepTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func Test_validate(t *testing.T) {
	negative := -1
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.Store = "mongo" }, "unknown store"},
		{"postgres without dsn", func(c *Config) { c.Store = "postgres" }, "postgres_dsn"},
		{"valkey without addr", func(c *Config) { c.Store = "valkey" }, "valkey_addr"},
		{"unknown advisor", func(c *Config) { c.Advisor = "claude" }, "unknown advisor"},
		{"bad step timeout", func(c *Config) { c.StepTimeout = "soon" }, "step_timeout"},
		{"bad failure policy", func(c *Config) { c.FailurePolicy = "panic" }, "panic"},
		{"negative revisions", func(c *Config) { c.MaxRevisions = &negative }, "max_revisions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t.TempDir())
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func Test_loadConfigFrom(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: memory\nmax_revisions: 1\nremote_agents: [summarize]\n"), 0o600))

	cfg, got, err := loadConfigFrom([]string{missing, path})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "memory", cfg.Store)
	require.NotNil(t, cfg.MaxRevisions)
	assert.Equal(t, 1, *cfg.MaxRevisions)
	assert.Equal(t, []string{"summarize"}, cfg.RemoteAgents)

	cfg, got, err = loadConfigFrom([]string{missing})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, Config{}, cfg)

	require.NoError(t, os.WriteFile(path, []byte("store: [\n"), 0o600))
	_, _, err = loadConfigFrom([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func Test_scaffoldConfigIsValid(t *testing.T) {
	dir := t.TempDir()
	created, err := runInit(dir, false)
	require.NoError(t, err)
	require.True(t, created)

	created, err = runInit(dir, false)
	require.NoError(t, err)
	assert.False(t, created, "existing config is kept without --force")

	path := filepath.Join(dir, configDirName, "config.yaml")
	cfg, _, err := loadConfigFrom([]string{path})
	require.NoError(t, err)
	cfg, err = withDefaults(cfg, filepath.Dir(path))
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "drain", cfg.FailurePolicy)
}

func Test_firstNonFlagIsReserved(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"empty", nil, false},
		{"plain request", []string{"fetch", "the", "weather"}, false},
		{"subcommand", []string{"template", "list"}, true},
		{"subcommand after valued flag", []string{"--store", "memory", "checkpoint", "list"}, true},
		{"subcommand after flag with equals", []string{"--store=memory", "agents"}, true},
		{"subcommand after bool flag", []string{"--trace", "watch"}, true},
		{"request after bool flag", []string{"--no-explain", "count", "links"}, false},
		{"value is not a subcommand", []string{"--model", "run"}, false},
		{"after double dash", []string{"--", "trace"}, true},
		{"double dash then request", []string{"--", "fetch", "init"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstNonFlagIsReserved(tt.args))
		})
	}
}
