package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

func TestApplyFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addBudgetFlags(cmd.Flags())
	cmd.Flags().IntVar(&runNumAnalyses, "num-analyses", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{
		"--max-fix-attempts=0",
		"--no-self-critique",
		"--num-analyses=2",
		"--outcome=log_wage",
		"--model-name=o4-mini",
	}))

	cfg := config.Default()
	applyFlags(cmd.Flags(), cfg)

	b := cfg.Budgets()
	assert.Equal(t, 0, b.MaxFixAttempts)
	assert.False(t, b.SelfCritique)
	assert.Equal(t, 6, b.MaxIterations, "unset flags keep config values")
	assert.True(t, b.DocAssist, "unset flags keep config values")
	assert.Equal(t, 2, cfg.General.NumAnalyses)
	assert.Equal(t, "log_wage", cfg.Schema.Outcome)
	assert.Equal(t, "o4-mini", cfg.LLM.Model)
}

func TestCodeLanguage(t *testing.T) {
	assert.Equal(t, "go", codeLanguage("yaegi"))
	assert.Equal(t, "python", codeLanguage("python"))
}
