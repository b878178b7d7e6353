package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

// BatchConfig is one scheduled analysis run
type BatchConfig struct {
	Name         string          `toml:"name"`
	Cron         string          `toml:"cron"`
	AnalysisName string          `toml:"analysis_name"`
	DataPath     string          `toml:"data_path"`
	PaperSummary string          `toml:"paper_summary"`
	Proposals    string          `toml:"proposals"`
	NumAnalyses  int             `toml:"num_analyses"`
	MaxDuration  config.Duration `toml:"max_duration"`
	Notify       bool            `toml:"notify_on_complete"`
}

// ScheduleConfig holds all batch configurations
type ScheduleConfig struct {
	Batches []BatchConfig `toml:"batch"`
}

// Validate checks the batch and fills defaults
func (c *BatchConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.DataPath == "" {
		return fmt.Errorf("batch %s: data_path is required", c.Name)
	}
	if c.AnalysisName == "" {
		c.AnalysisName = c.Name
	}
	if c.NumAnalyses < 0 {
		return fmt.Errorf("batch %s: num_analyses must be >= 0", c.Name)
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = config.Duration(4 * time.Hour) // Default
	}
	c.DataPath = config.ExpandPath(c.DataPath)
	c.PaperSummary = config.ExpandPath(c.PaperSummary)
	c.Proposals = config.ExpandPath(c.Proposals)
	return nil
}

// LoadScheduleConfig loads batch configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		if seen[cfg.Batches[i].Name] {
			return nil, fmt.Errorf("batch %d: duplicate name %q", i, cfg.Batches[i].Name)
		}
		seen[cfg.Batches[i].Name] = true
	}

	return &cfg, nil
}
