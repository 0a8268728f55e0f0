// config.go holds .planner config types, defaults and flag precedence.
package plancli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/contenox/planner/planevents"
	"github.com/contenox/planner/planexec"
	"github.com/contenox/planner/planservice"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds values from .planner/config.yaml. Flags override, defaults fill the rest.
type Config struct {
	Store          string `yaml:"store"`
	DB             string `yaml:"db"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	ValkeyAddr     string `yaml:"valkey_addr"`
	ValkeyPassword string `yaml:"valkey_password"`
	NATSURL        string `yaml:"nats_url"`

	Advisor             string `yaml:"advisor"` // ollama | openai
	Model               string `yaml:"model"`
	Ollama              string `yaml:"ollama"`
	OpenAIBaseURL       string `yaml:"openai_base_url"`
	OpenAIAPIKey        string `yaml:"openai_api_key,omitempty"`
	OpenAIAPIKeyFromEnv string `yaml:"openai_api_key_from_env,omitempty"`

	MaxRevisions  *int   `yaml:"max_revisions"`
	MaxInFlight   int    `yaml:"max_in_flight"`
	StepTimeout   string `yaml:"step_timeout"`
	FailurePolicy string `yaml:"failure_policy"`
	Tracing       *bool  `yaml:"tracing"`
	Explain       *bool  `yaml:"explain"`
	EventSubject  string `yaml:"event_subject"`

	// ExplainDetailed asks for a step by step walkthrough with step outputs.
	ExplainDetailed bool `yaml:"explain_detailed"`

	// RemoteAgents are capabilities served by other processes over the bus.
	RemoteAgents []string `yaml:"remote_agents"`
	// WebhookHeaders are sent with every webhook agent request.
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
}

func defaultConfig(dir string) Config {
	maxRevisions := planservice.DefaultMaxRevisions
	tracing, explain := false, true
	return Config{
		Store:               "sqlite",
		DB:                  filepath.Join(dir, "planner.db"),
		Advisor:             "ollama",
		Model:               defaultModel,
		Ollama:              defaultOllama,
		OpenAIAPIKeyFromEnv: "OPENAI_API_KEY",
		MaxRevisions:        &maxRevisions,
		FailurePolicy:       "drain",
		Tracing:             &tracing,
		Explain:             &explain,
		EventSubject:        planevents.DefaultSubject,
	}
}

// withDefaults fills every unset field of cfg from the defaults for dir.
// Pointer fields count as set once present, so "max_revisions: 0" survives.
func withDefaults(cfg Config, dir string) (Config, error) {
	if err := mergo.Merge(&cfg, defaultConfig(dir), mergo.WithoutDereference); err != nil {
		return Config{}, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cfg *Config, flags *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("store", &cfg.Store)
	str("db", &cfg.DB)
	str("postgres-dsn", &cfg.PostgresDSN)
	str("valkey-addr", &cfg.ValkeyAddr)
	str("nats-url", &cfg.NATSURL)
	str("advisor", &cfg.Advisor)
	str("model", &cfg.Model)
	str("ollama", &cfg.Ollama)
	str("openai-base-url", &cfg.OpenAIBaseURL)
	str("failure-policy", &cfg.FailurePolicy)
	str("event-subject", &cfg.EventSubject)

	if flags.Changed("max-revisions") {
		n, _ := flags.GetInt("max-revisions")
		cfg.MaxRevisions = &n
	}
	if flags.Changed("max-in-flight") {
		cfg.MaxInFlight, _ = flags.GetInt("max-in-flight")
	}
	if flags.Changed("step-timeout") {
		d, _ := flags.GetDuration("step-timeout")
		cfg.StepTimeout = d.String()
	}
	if flags.Changed("trace") {
		b, _ := flags.GetBool("trace")
		cfg.Tracing = &b
	}
}

func (c Config) validate() error {
	switch c.Store {
	case "sqlite", "postgres", "valkey", "memory":
	default:
		return fmt.Errorf("unknown store %q (want sqlite, postgres, valkey or memory)", c.Store)
	}
	if c.Store == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("store postgres requires postgres_dsn")
	}
	if c.Store == "valkey" && c.ValkeyAddr == "" {
		return fmt.Errorf("store valkey requires valkey_addr")
	}
	switch c.Advisor {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown advisor %q (want ollama or openai)", c.Advisor)
	}
	if _, err := c.stepTimeout(); err != nil {
		return err
	}
	if _, err := planexec.ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if c.MaxRevisions != nil && *c.MaxRevisions < 0 {
		return fmt.Errorf("max_revisions must not be negative")
	}
	return nil
}

func (c Config) stepTimeout() (time.Duration, error) {
	if c.StepTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StepTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid step_timeout %q: %w", c.StepTimeout, err)
	}
	return d, nil
}

func (c Config) openAIKey() string {
	if key := strings.TrimSpace(c.OpenAIAPIKey); key != "" {
		return key
	}
	if c.OpenAIAPIKeyFromEnv != "" {
		return os.Getenv(strings.TrimSpace(c.OpenAIAPIKeyFromEnv))
	}
	return ""
}

// configCandidates lists ./.planner/config.yaml then ~/.planner/config.yaml.
func configCandidates() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	try := []string{filepath.Join(cwd, configDirName, "config.yaml")}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, configDirName, "config.yaml"))
	}
	return try, nil
}

// loadConfigFrom reads the first existing file of paths.
// Returns (config, path, nil), or (empty, "", nil) when none exists.
func loadConfigFrom(paths []string) (Config, string, error) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, "", err
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, "", fmt.Errorf("%s: %w", p, err)
		}
		return cfg, p, nil
	}
	return Config{}, "", nil
}

// resolveConfig loads the config file, applies flags and defaults and validates the result.
func resolveConfig(flags *pflag.FlagSet) (Config, error) {
	paths, err := configCandidates()
	if err != nil {
		return Config{}, err
	}
	cfg, path, err := loadConfigFrom(paths)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	dir := filepath.Dir(paths[0])
	if path != "" {
		dir = filepath.Dir(path)
	}
	applyFlags(&cfg, flags)
	cfg, err = withDefaults(cfg, dir)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}
