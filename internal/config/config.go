package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Analysis      AnalysisConfig      `toml:"analysis"`
	Classifier    ClassifierConfig    `toml:"classifier"`
	LLM           LLMConfig           `toml:"llm"`
	Sandbox       SandboxConfig       `toml:"sandbox"`
	Docs          DocsConfig          `toml:"docs"`
	Schema        SchemaHints         `toml:"schema"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Logging       LoggingConfig       `toml:"logging"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	OutputHome          string   `toml:"output_home"`
	LogHome             string   `toml:"log_home"`
	DatabasePath        string   `toml:"database_path"`
	PromptDir           string   `toml:"prompt_dir"`
	NumAnalyses         int      `toml:"num_analyses"`
	MaxParallelAnalyses int      `toml:"max_parallel_analyses"`
	RunTimeout          Duration `toml:"run_timeout"`
}

// AnalysisConfig holds the per-task retry budgets
type AnalysisConfig struct {
	MaxIterations     int      `toml:"max_iterations"`
	MaxFixAttempts    int      `toml:"max_fix_attempts"`
	SelfCritique      bool     `toml:"self_critique"`
	DocAssist         bool     `toml:"doc_assist"`
	ExecutionTimeout  Duration `toml:"execution_timeout"`
	GenerationTimeout Duration `toml:"generation_timeout"`
}

// ClassifierConfig tunes degenerate-output detection
type ClassifierConfig struct {
	MinOutputBytes int `toml:"min_output_bytes"`
}

// LLMConfig holds generation service settings
type LLMConfig struct {
	Provider       string   `toml:"provider"`
	Model          string   `toml:"model"`
	APIKeyEnv      string   `toml:"api_key_env"`
	BaseURL        string   `toml:"base_url"`
	MaxTokens      int      `toml:"max_tokens"`
	RequestTimeout Duration `toml:"request_timeout"`
	MaxRetries     int      `toml:"max_retries"`
}

// SandboxConfig selects and tunes the execution backend
type SandboxConfig struct {
	Backend        string   `toml:"backend"`
	Interpreter    string   `toml:"interpreter"`
	WorkDir        string   `toml:"work_dir"`
	InterruptGrace Duration `toml:"interrupt_grace"`
	MaxOutputBytes int      `toml:"max_output_bytes"`
}

// DocsConfig points at the local documentation used for repairs
type DocsConfig struct {
	Dir        string `toml:"dir"`
	MaxExcerpt int    `toml:"max_excerpt"`
}

// SchemaHints are optional econometric roles of dataset columns
type SchemaHints struct {
	Outcome   string `toml:"outcome"`
	Treatment string `toml:"treatment"`
	TimeVar   string `toml:"time_var"`
	UnitVar   string `toml:"unit_var"`
	ClusterSE string `toml:"cluster_se"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	LogPrompts bool   `toml:"log_prompts"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".aea-agent")
	return &Config{
		General: GeneralConfig{
			OutputHome:          filepath.Join(base, "analyses"),
			LogHome:             filepath.Join(base, "logs"),
			DatabasePath:        filepath.Join(base, "aea-agent.db"),
			NumAnalyses:         8,
			MaxParallelAnalyses: 2,
		},
		Analysis: AnalysisConfig{
			MaxIterations:     6,
			MaxFixAttempts:    3,
			SelfCritique:      true,
			DocAssist:         true,
			ExecutionTimeout:  Duration(10 * time.Minute),
			GenerationTimeout: Duration(5 * time.Minute),
		},
		Classifier: ClassifierConfig{
			MinOutputBytes: 16,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "o3-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			BaseURL:        "https://api.openai.com/v1",
			MaxTokens:      16000,
			RequestTimeout: Duration(5 * time.Minute),
			MaxRetries:     3,
		},
		Sandbox: SandboxConfig{
			Backend:        "python",
			Interpreter:    "python3",
			WorkDir:        filepath.Join(base, "sessions"),
			InterruptGrace: Duration(5 * time.Second),
			MaxOutputBytes: 64 * 1024,
		},
		Docs: DocsConfig{
			MaxExcerpt: 4000,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ExpandPaths()
	return cfg, nil
}

// ExpandPaths expands ~ in every path-valued setting
func (c *Config) ExpandPaths() {
	c.General.OutputHome = ExpandPath(c.General.OutputHome)
	c.General.LogHome = ExpandPath(c.General.LogHome)
	c.General.DatabasePath = ExpandPath(c.General.DatabasePath)
	c.General.PromptDir = ExpandPath(c.General.PromptDir)
	c.Sandbox.WorkDir = ExpandPath(c.Sandbox.WorkDir)
	c.Docs.Dir = ExpandPath(c.Docs.Dir)
}

// Validate checks the settings a run cannot proceed without
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("analysis.max_iterations must be >= 1, got %d", c.Analysis.MaxIterations))
	}
	if c.Analysis.MaxFixAttempts < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_fix_attempts must be >= 0, got %d", c.Analysis.MaxFixAttempts))
	}
	if c.Analysis.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("analysis.execution_timeout must be positive"))
	}
	if c.General.MaxParallelAnalyses < 1 {
		errs = append(errs, fmt.Errorf("general.max_parallel_analyses must be >= 1, got %d", c.General.MaxParallelAnalyses))
	}
	switch c.Sandbox.Backend {
	case "python", "yaegi":
	default:
		errs = append(errs, fmt.Errorf("sandbox.backend %q is not one of python, yaegi", c.Sandbox.Backend))
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai, gemini", c.LLM.Provider))
	}
	return errors.Join(errs...)
}

// Budgets freezes the analysis settings into the value handed to drivers
func (c *Config) Budgets() Budgets {
	return Budgets{
		MaxIterations:     c.Analysis.MaxIterations,
		MaxFixAttempts:    c.Analysis.MaxFixAttempts,
		SelfCritique:      c.Analysis.SelfCritique,
		DocAssist:         c.Analysis.DocAssist,
		ExecutionTimeout:  c.Analysis.ExecutionTimeout.Std(),
		GenerationTimeout: c.Analysis.GenerationTimeout.Std(),
		MaxParallel:       c.General.MaxParallelAnalyses,
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "aea-agent", "config.toml")
}
