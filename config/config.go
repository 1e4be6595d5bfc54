// Package config loads engine configuration from a YAML file and
// AGENTGRAPH_* environment variables.
//
// Precedence, highest first:
//   - environment variables (AGENTGRAPH_EXECUTOR_RETRIES=4)
//   - the config file
//   - the defaults in Default
//
// Example agentgraph.yaml:
//
//	log:
//	  level: debug
//	  format: console
//	executor:
//	  retries: 3
//	  text_budget:
//	    overall: 90s
//	    stall: 30s
//	store:
//	  driver: sqlite
//	  dsn: ./runs.db
//	secrets:
//	  backend: vault
//	  vault:
//	    address: https://vault.internal:8200
//
// Workflow definitions are separate files read by LoadWorkflow.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/agentgraph/graph"
	"github.com/dshills/agentgraph/graph/invoke"
	"github.com/dshills/agentgraph/graph/registry"
	"github.com/dshills/agentgraph/graph/secrets"
	"github.com/dshills/agentgraph/graph/store"
)

// EnvPrefix prefixes every environment override, e.g.
// AGENTGRAPH_EXECUTOR_RETRIES.
const EnvPrefix = "AGENTGRAPH"

// Config is the complete engine configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Health   HealthConfig   `mapstructure:"health"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Store    store.Config   `mapstructure:"store"`
	Secrets  secrets.Config `mapstructure:"secrets"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is a zap level name. Default: info.
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format string `mapstructure:"format"`
	// Output is a file path, "stdout" or "stderr".
	Output string `mapstructure:"output"`
}

// RunnerConfig configures the workflow runner.
type RunnerConfig struct {
	// MaxNodeInvocations caps invocations per run. Default:
	// graph.DefaultMaxNodeInvocations.
	MaxNodeInvocations int `mapstructure:"max_node_invocations"`
	// EventBuffer sizes the async progress emitter queue.
	EventBuffer int `mapstructure:"event_buffer"`
}

// BudgetConfig is an overall and stall timeout pair.
type BudgetConfig struct {
	Overall time.Duration `mapstructure:"overall"`
	Stall   time.Duration `mapstructure:"stall"`
}

func (b BudgetConfig) budget() invoke.Budget {
	return invoke.Budget{Overall: b.Overall, Stall: b.Stall}
}

// ExecutorConfig configures model invocation.
type ExecutorConfig struct {
	// Retries is the number of extra attempts after an empty response.
	Retries int `mapstructure:"retries"`

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration `mapstructure:"backoff"`

	TextBudget      BudgetConfig `mapstructure:"text_budget"`
	ReasoningBudget BudgetConfig `mapstructure:"reasoning_budget"`

	// FallbackModel replaces models inside a timeout penalty window.
	FallbackModel string `mapstructure:"fallback_model"`

	// DefaultModel is used for nodes that name no model.
	DefaultModel string `mapstructure:"default_model"`

	// MaxSteps bounds each node's tool-use loop.
	MaxSteps int `mapstructure:"max_steps"`

	// SaveOutputs persists every raw model output to the store.
	SaveOutputs bool `mapstructure:"save_outputs"`
}

// Options converts the config into executor options. DefaultModel,
// MaxSteps and SaveOutputs are agent options and are not included.
func (c ExecutorConfig) Options() []invoke.Option {
	opts := []invoke.Option{
		invoke.WithRetries(c.Retries),
		invoke.WithBackoff(c.Backoff),
		invoke.WithBudgets(c.TextBudget.budget(), c.ReasoningBudget.budget()),
	}
	if c.FallbackModel != "" {
		opts = append(opts, invoke.WithFallbackModel(c.FallbackModel))
	}
	return opts
}

// HealthConfig configures the timeout penalty window.
type HealthConfig struct {
	BasePenalty time.Duration `mapstructure:"base_penalty"`
	MaxPenalty  time.Duration `mapstructure:"max_penalty"`
}

// ModelHealth builds the tracker described by c.
func (c HealthConfig) ModelHealth() *invoke.ModelHealth {
	return invoke.NewModelHealth(c.BasePenalty, c.MaxPenalty)
}

// CatalogConfig overrides the built-in model catalog.
type CatalogConfig struct {
	Models []registry.Entry  `mapstructure:"models"`
	Tiers  map[string]string `mapstructure:"tiers"`
}

// Build returns the configured catalog, or the built-in one when no models
// are listed.
func (c CatalogConfig) Build() (*registry.Catalog, error) {
	if len(c.Models) == 0 {
		return registry.DefaultCatalog(), nil
	}
	return registry.NewCatalog(c.Models, c.Tiers)
}

// FeedbackConfig configures feedback synthesis.
type FeedbackConfig struct {
	// Model synthesizes feedback from several judges. Default: fast.
	Model string `mapstructure:"model"`

	// MaxChars bounds the feedback sent for synthesis.
	MaxChars int `mapstructure:"max_chars"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return &cfg
}

// Load reads configFile, or agentgraph.yaml from the usual places when
// configFile is empty, and applies environment overrides. A missing default
// file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agentgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/agentgraph")
		v.AddConfigPath("/etc/agentgraph")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Runner.MaxNodeInvocations < 1 {
		return fmt.Errorf("config: runner.max_node_invocations must be at least 1")
	}
	if c.Executor.Retries < 0 {
		return fmt.Errorf("config: executor.retries cannot be negative")
	}
	switch c.Store.Driver {
	case "", "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Secrets.Backend {
	case "", "static", "vault", "aws":
	default:
		return fmt.Errorf("config: unknown secrets.backend %q", c.Secrets.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("runner.max_node_invocations", graph.DefaultMaxNodeInvocations)
	v.SetDefault("runner.event_buffer", 256)

	v.SetDefault("executor.retries", invoke.DefaultRetries)
	v.SetDefault("executor.backoff", invoke.DefaultBackoff)
	v.SetDefault("executor.text_budget.overall", invoke.TextBudget.Overall)
	v.SetDefault("executor.text_budget.stall", invoke.TextBudget.Stall)
	v.SetDefault("executor.reasoning_budget.overall", invoke.ReasoningBudget.Overall)
	v.SetDefault("executor.reasoning_budget.stall", invoke.ReasoningBudget.Stall)
	v.SetDefault("executor.fallback_model", "fallback")
	v.SetDefault("executor.default_model", "balanced")
	v.SetDefault("executor.max_steps", 5)
	v.SetDefault("executor.save_outputs", false)

	v.SetDefault("health.base_penalty", 30*time.Second)
	v.SetDefault("health.max_penalty", 10*time.Minute)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("secrets.backend", "static")
	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.cache_ttl", 5*time.Minute)
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.namespace", "")
	v.SetDefault("secrets.vault.mount", "secret")
	v.SetDefault("secrets.vault.prefix", "agentgraph")
	v.SetDefault("secrets.vault.timeout", 10*time.Second)
	v.SetDefault("secrets.aws.region", "")
	v.SetDefault("secrets.aws.prefix", "agentgraph")

	v.SetDefault("feedback.model", "fast")
	v.SetDefault("feedback.max_chars", 12000)
}
