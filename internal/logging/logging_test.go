package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janani-sekar/AEAExtensions/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"console default", config.LoggingConfig{}, false},
		{"json debug", config.LoggingConfig{Format: "json", Level: "debug"}, false},
		{"bad format", config.LoggingConfig{Format: "xml"}, true},
		{"bad level", config.LoggingConfig{Level: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg, "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(config.LoggingConfig{Format: "json"}, dir)
	require.NoError(t, err)
	l.Info("hello")
	_ = l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "aea-agent.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNewFileOnly(t *testing.T) {
	l, err := NewFileOnly(config.LoggingConfig{}, "")
	require.NoError(t, err)
	l.Info("discarded")

	dir := t.TempDir()
	l, err = NewFileOnly(config.LoggingConfig{Format: "json"}, dir)
	require.NoError(t, err)
	l.Info("to file")
	_ = l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "aea-agent.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestPromptLogger_Record(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPromptLogger(dir, "run1")
	require.NoError(t, err)

	p.Record("generate_code", "prompt text", "print(1)", 2*time.Second, nil)
	p.Record("generate_fix", "fix it", "", time.Second, errors.New("rate limited"))
	require.NoError(t, p.Close())

	f, err := os.Open(filepath.Join(dir, "prompts-run1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "generate_code", lines[0]["stage"])
	assert.Equal(t, "rate limited", lines[1]["error"])
}

func TestPromptLogger_NilIsNoop(t *testing.T) {
	var p *PromptLogger
	p.Record("x", "y", "z", 0, nil)
	assert.NoError(t, p.Close())
}
