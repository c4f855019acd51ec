package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/continuous-claude/continuous-claude/internal/agent"
	"github.com/continuous-claude/continuous-claude/internal/completion"
	"github.com/continuous-claude/continuous-claude/internal/gitops"
	"github.com/continuous-claude/continuous-claude/internal/loop"
)

// Config is the validated run configuration. Values come from the
// config file, environment (CONTINUOUS_CLAUDE_*), and flags, in
// increasing precedence.
type Config struct {
	Prompt              string  `mapstructure:"prompt"`
	MaxRuns             int     `mapstructure:"max_runs"`
	MaxCost             float64 `mapstructure:"max_cost"`
	CompletionSignal    string  `mapstructure:"completion_signal"`
	CompletionThreshold int     `mapstructure:"completion_threshold"`
	AgentCommand        string  `mapstructure:"agent_command"`
	BranchPrefix        string  `mapstructure:"branch_prefix"`
	EnableCommits       bool    `mapstructure:"enable_commits"`
	OpenPR              bool    `mapstructure:"open_pr"`
	DryRun              bool    `mapstructure:"dry_run"`
	FailureTolerance    int     `mapstructure:"failure_tolerance"`
	HookScript          string  `mapstructure:"hook_script"`
	DataDir             string  `mapstructure:"data_dir"`
	ErrorLog            string  `mapstructure:"error_log"`
	LogLevel            string  `mapstructure:"log_level"`
	Report              string  `mapstructure:"report"`
}

// SetDefaults registers default values with viper.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("completion_signal", completion.DefaultSignal)
	v.SetDefault("completion_threshold", completion.DefaultThreshold)
	v.SetDefault("agent_command", agent.DefaultCommandTemplate)
	v.SetDefault("branch_prefix", gitops.DefaultBranchPrefix)
	v.SetDefault("failure_tolerance", loop.DefaultFailureTolerance)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_level", "INFO")
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".continuous-claude"
	}
	return filepath.Join(homeDir, ".continuous-claude")
}

// Load reads the config file (if present) and environment into v and
// unmarshals the result. Flag bindings are the caller's business.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultDataDir())
	v.SetEnvPrefix("CONTINUOUS_CLAUDE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return &cfg, nil
}

// Validate enforces the configuration contract before any iteration
// runs. Failing here is fatal; the loop never starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("a prompt is required")
	}
	if c.MaxRuns <= 0 && c.MaxCost <= 0 {
		return fmt.Errorf("set --max-runs and/or --max-cost; an unbounded run is refused")
	}
	if c.MaxRuns < 0 {
		return fmt.Errorf("max runs must not be negative")
	}
	if c.MaxCost < 0 {
		return fmt.Errorf("max cost must not be negative")
	}
	if c.CompletionThreshold <= 0 {
		return fmt.Errorf("completion threshold must be a positive integer, got %d", c.CompletionThreshold)
	}
	if c.CompletionSignal == "" {
		return fmt.Errorf("completion signal must not be empty")
	}
	if !strings.Contains(c.AgentCommand, agent.PromptPlaceholder) {
		return fmt.Errorf("agent command must contain the %s placeholder", agent.PromptPlaceholder)
	}
	return nil
}

// EnsureDataDir creates the data directory tree.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// DBPath is where session history is stored.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "continuous-claude.db")
}

// ErrorLogPath resolves the error log location, defaulting to the
// data directory.
func (c *Config) ErrorLogPath() string {
	if c.ErrorLog != "" {
		return c.ErrorLog
	}
	return filepath.Join(c.DataDir, "error.log")
}
