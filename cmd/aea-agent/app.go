package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/classifier"
	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/coordinator"
	"github.com/janani-sekar/AEAExtensions/internal/dataset"
	"github.com/janani-sekar/AEAExtensions/internal/docs"
	"github.com/janani-sekar/AEAExtensions/internal/driver"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
	"github.com/janani-sekar/AEAExtensions/internal/logging"
	"github.com/janani-sekar/AEAExtensions/internal/prompts"
	"github.com/janani-sekar/AEAExtensions/internal/sandbox"
	"github.com/janani-sekar/AEAExtensions/internal/store"
)

const schemaSampleRows = 500

// app holds what every command needs: configuration, logger and archive.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// openApp validates cfg and opens the logger and the archive. quiet keeps
// logs off the terminal.
func openApp(cfg *config.Config, quiet bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	build := logging.New
	if quiet {
		build = logging.NewFileOnly
	}
	logger, err := build(cfg.Logging, cfg.General.LogHome)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	st, err := store.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) Close() {
	a.store.Close()
	_ = a.logger.Sync()
}

// engine is the generation and execution machinery of one run.
type engine struct {
	coord     *coordinator.Coordinator
	assistant *llm.Assistant
	watcher   *prompts.Watcher
	promptLog *logging.PromptLogger
	docs      *docs.Index
}

func (a *app) newEngine(ctx context.Context, runID string) (*engine, error) {
	client, err := llm.NewClient(ctx, a.cfg.LLM, a.logger)
	if err != nil {
		return nil, fmt.Errorf("generation service: %w", err)
	}

	eng := &engine{}
	if a.cfg.Logging.LogPrompts {
		eng.promptLog, err = logging.NewPromptLogger(a.cfg.General.LogHome, runID)
		if err != nil {
			return nil, err
		}
	}

	loader := prompts.DefaultLoader(a.cfg.General.PromptDir)
	if w, err := prompts.NewWatcher(loader, a.logger); err != nil {
		a.logger.Warn("prompt hot-reload disabled", zap.Error(err))
	} else {
		w.Start(ctx)
		eng.watcher = w
	}

	eng.assistant = llm.NewAssistant(client, llm.AssistantConfig{
		Language:  codeLanguage(a.cfg.Sandbox.Backend),
		Prompts:   loader,
		PromptLog: eng.promptLog,
		Logger:    a.logger,
	})

	sb, err := sandbox.New(a.cfg.Sandbox, a.logger)
	if err != nil {
		eng.Close()
		return nil, err
	}
	idx, err := docs.NewIndex(a.cfg.Docs.Dir, a.cfg.Docs.MaxExcerpt)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("indexing documentation: %w", err)
	}
	eng.docs = idx
	if a.cfg.Docs.Dir != "" {
		a.logger.Info("documentation indexed", zap.String("dir", a.cfg.Docs.Dir), zap.Int("sections", idx.Len()))
	}

	eng.coord, err = coordinator.New(coordinator.Config{
		Budgets:      a.cfg.Budgets(),
		Sandbox:      sb,
		Capabilities: eng.assistant,
		Docs:         idx,
		Classifier:   classifier.New(a.cfg.Classifier.MinOutputBytes),
		Recorder:     a.store,
		Logger:       a.logger,
		EventBuffer:  256,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

func (e *engine) Close() {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	_ = e.promptLog.Close()
	if e.coord != nil {
		e.coord.Events().Close()
	}
	if e.docs != nil {
		_ = e.docs.Close()
	}
}

// brief describes the dataset and reads the paper summary.
func (a *app) brief(dataPath, paperPath string) (driver.Brief, error) {
	schema, err := dataset.Describe(dataPath, a.cfg.Schema, schemaSampleRows)
	if err != nil {
		return driver.Brief{}, err
	}
	for _, col := range schema.MissingHints() {
		a.logger.Warn("schema hint names a column the dataset lacks", zap.String("column", col))
	}

	var summary string
	if paperPath != "" {
		data, err := os.ReadFile(paperPath)
		if err != nil {
			return driver.Brief{}, fmt.Errorf("reading paper summary: %w", err)
		}
		summary = string(data)
	}
	return driver.Brief{
		Schema:       schema.String(),
		PaperSummary: summary,
		DataPath:     dataPath,
	}, nil
}

// stuckAfter is how long a task may go without an event before it is
// reported as stuck.
func (a *app) stuckAfter() time.Duration {
	b := a.cfg.Budgets()
	return 2 * (b.ExecutionTimeout + b.GenerationTimeout)
}

func codeLanguage(backend string) string {
	if backend == "yaegi" {
		return "go"
	}
	return "python"
}
