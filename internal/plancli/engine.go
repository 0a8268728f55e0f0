package plancli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/contenox/planner/activitylog"
	"github.com/contenox/planner/agentregistry"
	libbus "github.com/contenox/planner/libbus"
	libdb "github.com/contenox/planner/libdbexec"
	libkv "github.com/contenox/planner/libkvstore"
	"github.com/contenox/planner/libtracker"
	"github.com/contenox/planner/localagents"
	"github.com/contenox/planner/planadvisor"
	"github.com/contenox/planner/planevents"
	"github.com/contenox/planner/planexec"
	"github.com/contenox/planner/planservice"
	"github.com/contenox/planner/planstore"
	"github.com/spf13/cobra"
)

// Engine is the wired planner: store, registry, advisor, executor and service.
type Engine struct {
	Service  planservice.Service
	Registry *agentregistry.Registry
	Bus      libbus.Messenger
	// Activity is set when a Valkey address is configured.
	Activity *activitylog.KVSink
	Tracker  libtracker.ActivityTracker

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}
	e.closers = nil
}

// BuildEngine connects every backend named in cfg. On error everything
// opened so far is closed again.
func BuildEngine(ctx context.Context, cfg Config) (_ *Engine, err error) {
	e := &Engine{}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	var kv libkv.KVManager
	if cfg.ValkeyAddr != "" {
		kv, err = libkv.NewManager(libkv.Config{KVAddr: cfg.ValkeyAddr, KVPassword: cfg.ValkeyPassword}, 5*time.Second)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, kv.Close)
		e.Activity = activitylog.NewKVSink(kv, activitylog.DefaultLogSize)
	}

	e.Tracker = buildTracker(cfg, e.Activity)

	backend, err := buildBackend(ctx, cfg, kv, e)
	if err != nil {
		return nil, err
	}
	store, err := planstore.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan store: %w", err)
	}

	if cfg.NATSURL != "" {
		e.Bus, err = libbus.NewPubSub(ctx, &libbus.Config{NATSURL: cfg.NATSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
	} else {
		e.Bus = libbus.NewInMem()
	}
	e.closers = append(e.closers, e.Bus.Close)

	e.Registry = agentregistry.New()
	webhookOpts := []localagents.WebhookOption{localagents.WithHTTPClient(http.DefaultClient)}
	for k, v := range cfg.WebhookHeaders {
		webhookOpts = append(webhookOpts, localagents.WithDefaultHeader(k, v))
	}
	if err := localagents.RegisterDefaults(e.Registry, e.Tracker, webhookOpts...); err != nil {
		return nil, err
	}
	for _, name := range cfg.RemoteAgents {
		// A remote agent never shadows a built-in one.
		if err := e.Registry.Register(name, agentregistry.NewRemoteCapability(e.Bus, name)); err != nil {
			slog.Warn("Skipping remote agent", "name", name, "error", err)
		}
	}

	completer, err := buildCompleter(cfg)
	if err != nil {
		return nil, err
	}
	advisor := planadvisor.New(completer,
		planadvisor.WithAgents(e.Registry.Names),
		planadvisor.WithTracker(e.Tracker),
	)

	stepTimeout, _ := cfg.stepTimeout()
	policy, _ := planexec.ParseFailurePolicy(cfg.FailurePolicy)
	executor := planexec.New(e.Registry,
		planexec.WithMaxInFlight(cfg.MaxInFlight),
		planexec.WithStepTimeout(stepTimeout),
		planexec.WithFailurePolicy(policy),
		planexec.WithTracker(e.Tracker),
	)

	svc := planservice.New(store, executor, advisor,
		planservice.WithMaxRevisions(*cfg.MaxRevisions),
		planservice.WithTracker(e.Tracker),
		planservice.WithExplanation(planadvisor.ExplainOptions{
			Detailed:       cfg.ExplainDetailed,
			IncludeOutputs: cfg.ExplainDetailed,
		}),
		planservice.WithObserver(planevents.NewBusObserver(e.Bus, cfg.EventSubject)),
	)
	e.Service = planservice.WithActivityTracker(svc, e.Tracker)
	return e, nil
}

func buildTracker(cfg Config, sink *activitylog.KVSink) libtracker.ActivityTracker {
	var chain libtracker.ChainedTracker
	if cfg.Tracing != nil && *cfg.Tracing {
		chain = append(chain, libtracker.NewLogActivityTracker(slog.Default()))
	}
	if sink != nil {
		chain = append(chain, sink)
	}
	switch len(chain) {
	case 0:
		return libtracker.NoopTracker{}
	case 1:
		return chain[0]
	}
	return chain
}

func buildBackend(ctx context.Context, cfg Config, kv libkv.KVManager, e *Engine) (planstore.Backend, error) {
	switch cfg.Store {
	case "memory":
		return planstore.NewMemoryBackend(), nil
	case "valkey":
		return planstore.NewKVBackend(kv, "planner:"), nil
	case "postgres":
		db, err := libdb.NewPostgresDBManager(ctx, cfg.PostgresDSN, planstore.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		return planstore.NewSQLBackend(db), nil
	default:
		dbPath, err := filepath.Abs(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("cannot create database directory: %w", err)
		}
		db, err := libdb.NewSQLiteDBManager(ctx, dbPath, planstore.SchemaSQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		return planstore.NewSQLBackend(db), nil
	}
}

func buildCompleter(cfg Config) (planadvisor.Completer, error) {
	if cfg.Advisor == "openai" {
		return planadvisor.NewOpenAICompleter(cfg.OpenAIBaseURL, cfg.openAIKey(), cfg.Model)
	}
	return planadvisor.NewOllamaCompleter(cfg.Ollama, cfg.Model, http.DefaultClient)
}

// withEngine resolves the config for cmd, builds the engine and runs fn
// under a signal aware context.
func withEngine(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, cfg Config, e *Engine) error) error {
	cfg, err := resolveConfig(cmd.Flags())
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return err
	}
	ctx, cancel := commandContext(timeout)
	defer cancel()

	e, err := BuildEngine(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start planner", "error", err)
		return err
	}
	defer e.Close()
	return fn(ctx, cfg, e)
}
