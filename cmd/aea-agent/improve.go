package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/coordinator"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var (
	improveFeedback string
	improveRun      string
)

func init() {
	improveCmd := &cobra.Command{
		Use:   "improve TASK_ID",
		Short: "Revise a finished analysis with your feedback",
		Long: `improve starts a new task seeded with an earlier task's proposal and final
code. The first unit is generated from that code and the feedback, then
runs through the usual repair and critique loop.`,
		Args: cobra.ExactArgs(1),
		RunE: runImprove,
	}
	f := improveCmd.Flags()
	f.StringVar(&improveFeedback, "feedback", "", "what to change")
	f.StringVar(&improveRun, "run", "", "run to take the task from (default: latest)")
	f.StringVar(&runPaperSummary, "paper-summary", "", "text file summarising the paper")
	addBudgetFlags(f)
	f.BoolVar(&runTUI, "tui", false, "show a live dashboard while the task runs")
	f.StringVar(&runServe, "serve", "", "serve the web API on this address while running")
	f.BoolVar(&runNotify, "notify", false, "send a notification when the task finishes")
	_ = improveCmd.MarkFlagRequired("feedback")
	rootCmd.AddCommand(improveCmd)
}

func runImprove(cmd *cobra.Command, args []string) error {
	id, err := domain.ParseTaskID(args[0])
	if err != nil {
		return err
	}
	if improveFeedback == "" {
		return errors.New("--feedback must not be empty")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)

	a, err := openApp(cfg, runTUI)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := runContext(cmd.Context(), cfg)
	defer stop()

	res, err := a.improve(ctx, id, improveRun, improveFeedback, config.ExpandPath(runPaperSummary),
		surface{tui: runTUI, serveAddr: runServe, notify: runNotify})
	if res != nil {
		printResult(os.Stdout, res, a.cfg.General.OutputHome)
	}
	return err
}

func (a *app) improve(ctx context.Context, id domain.TaskID, fromRun, feedback, paperSummary string, s surface) (*coordinator.Result, error) {
	var prior *domain.AnalysisTask
	var err error
	if fromRun != "" {
		prior, err = a.store.GetTask(ctx, fromRun, id.String())
	} else {
		prior, err = a.store.FindTask(ctx, id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	priorRun, err := a.store.GetRun(ctx, prior.RunID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", prior.RunID, err)
	}

	brief, err := a.brief(priorRun.DataPath, paperSummary)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	eng, err := a.newEngine(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	ordinal, err := a.store.NextOrdinal(ctx, id.Analysis)
	if err != nil {
		return nil, err
	}
	run := &domain.Run{
		ID:           runID,
		AnalysisName: id.Analysis,
		DataPath:     priorRun.DataPath,
		Model:        a.cfg.LLM.Model,
		Status:       domain.RunRunning,
		StartedAt:    time.Now(),
	}
	if err := a.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	return a.drive(ctx, eng, run, s, func(ctx context.Context) (*coordinator.Result, error) {
		task, err := eng.coord.Improve(ctx, runID, prior, feedback, ordinal, brief)
		if task == nil {
			return nil, err
		}
		tasks := []*domain.AnalysisTask{task}
		return &coordinator.Result{RunID: runID, Tasks: tasks, Summary: domain.Summarize(runID, tasks)}, err
	})
}
