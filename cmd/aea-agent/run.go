package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/coordinator"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/notify"
	"github.com/janani-sekar/AEAExtensions/internal/observer"
	"github.com/janani-sekar/AEAExtensions/tui"
	"github.com/janani-sekar/AEAExtensions/web/api"
)

var (
	runAnalysisName    string
	runDataPath        string
	runPaperSummary    string
	runProposals       string
	runNumAnalyses     int
	runMaxIterations   int
	runMaxFixAttempts  int
	runParallel        int
	runNoSelfCritique  bool
	runNoDocumentation bool
	runLogPrompts      bool
	runModelName       string
	runOutputHome      string
	runLogHome         string
	runPromptDir       string
	runOutcome         string
	runTreatment       string
	runTimeVar         string
	runUnitVar         string
	runClusterSE       string
	runTUI             bool
	runServe           string
	runNotify          bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Propose, generate and run analyses for a dataset",
		RunE:  runRun,
	}
	f := runCmd.Flags()
	f.StringVar(&runAnalysisName, "analysis-name", "", "name of this analysis series (default: dataset file name)")
	f.StringVar(&runDataPath, "data-path", "", "CSV or TSV dataset to analyse")
	f.StringVar(&runPaperSummary, "paper-summary", "", "text file summarising the paper")
	f.StringVar(&runProposals, "proposals", "", "YAML file of proposals (skips proposal generation)")
	f.IntVar(&runNumAnalyses, "num-analyses", 0, "number of analyses to propose")
	f.IntVar(&runParallel, "parallel", 0, "analyses to run at once")
	addBudgetFlags(f)
	f.BoolVar(&runTUI, "tui", false, "show a live dashboard while the run is in progress")
	f.StringVar(&runServe, "serve", "", "serve the web API on this address while running")
	f.BoolVar(&runNotify, "notify", false, "send a notification when the run finishes")
	rootCmd.AddCommand(runCmd)
}

// addBudgetFlags registers the flags shared by run and improve.
func addBudgetFlags(f *pflag.FlagSet) {
	f.IntVar(&runMaxIterations, "max-iterations", 0, "maximum critique iterations per analysis")
	f.IntVar(&runMaxFixAttempts, "max-fix-attempts", 0, "maximum repairs per code unit")
	f.BoolVar(&runNoSelfCritique, "no-self-critique", false, "accept the first successful result")
	f.BoolVar(&runNoDocumentation, "no-documentation", false, "do not consult documentation during repairs")
	f.BoolVar(&runLogPrompts, "log-prompts", false, "log every prompt and response")
	f.StringVar(&runModelName, "model-name", "", "generation model")
	f.StringVar(&runOutputHome, "output-home", "", "directory final code is written to")
	f.StringVar(&runLogHome, "log-home", "", "directory for log files")
	f.StringVar(&runPromptDir, "prompt-dir", "", "directory of prompt template overrides")
	f.StringVar(&runOutcome, "outcome", "", "outcome variable")
	f.StringVar(&runTreatment, "treatment", "", "treatment variable")
	f.StringVar(&runTimeVar, "time-var", "", "time variable")
	f.StringVar(&runUnitVar, "unit-var", "", "panel unit variable")
	f.StringVar(&runClusterSE, "cluster-se", "", "column to cluster standard errors by")
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(f *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if fl := f.Lookup(name); fl != nil && fl.Changed {
			apply()
		}
	}
	set("num-analyses", func() { cfg.General.NumAnalyses = runNumAnalyses })
	set("parallel", func() { cfg.General.MaxParallelAnalyses = runParallel })
	set("max-iterations", func() { cfg.Analysis.MaxIterations = runMaxIterations })
	set("max-fix-attempts", func() { cfg.Analysis.MaxFixAttempts = runMaxFixAttempts })
	set("no-self-critique", func() { cfg.Analysis.SelfCritique = !runNoSelfCritique })
	set("no-documentation", func() { cfg.Analysis.DocAssist = !runNoDocumentation })
	set("log-prompts", func() { cfg.Logging.LogPrompts = runLogPrompts })
	set("model-name", func() { cfg.LLM.Model = runModelName })
	set("output-home", func() { cfg.General.OutputHome = config.ExpandPath(runOutputHome) })
	set("log-home", func() { cfg.General.LogHome = config.ExpandPath(runLogHome) })
	set("prompt-dir", func() { cfg.General.PromptDir = config.ExpandPath(runPromptDir) })
	set("outcome", func() { cfg.Schema.Outcome = runOutcome })
	set("treatment", func() { cfg.Schema.Treatment = runTreatment })
	set("time-var", func() { cfg.Schema.TimeVar = runTimeVar })
	set("unit-var", func() { cfg.Schema.UnitVar = runUnitVar })
	set("cluster-se", func() { cfg.Schema.ClusterSE = runClusterSE })
}

// surface selects how a run is presented while in flight.
type surface struct {
	tui       bool
	serveAddr string
	notify    bool
}

// analyzeRequest is one run over a dataset.
type analyzeRequest struct {
	AnalysisName string
	DataPath     string
	PaperSummary string
	Proposals    string
	NumAnalyses  int
	Surface      surface
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)
	if runDataPath == "" {
		return errors.New("--data-path is required")
	}

	a, err := openApp(cfg, runTUI)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := runContext(cmd.Context(), cfg)
	defer stop()

	res, err := a.analyze(ctx, analyzeRequest{
		AnalysisName: runAnalysisName,
		DataPath:     config.ExpandPath(runDataPath),
		PaperSummary: config.ExpandPath(runPaperSummary),
		Proposals:    config.ExpandPath(runProposals),
		NumAnalyses:  cfg.General.NumAnalyses,
		Surface:      surface{tui: runTUI, serveAddr: runServe, notify: runNotify},
	})
	if res != nil {
		printResult(os.Stdout, res, a.cfg.General.OutputHome)
	}
	return err
}

// runContext cancels on SIGINT/SIGTERM and after general.run_timeout.
func runContext(parent context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if cfg.General.RunTimeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.General.RunTimeout.Std())
	return ctx, func() {
		cancel()
		stop()
	}
}

// analyze proposes analyses for a dataset and drives them all to verdicts.
func (a *app) analyze(ctx context.Context, req analyzeRequest) (*coordinator.Result, error) {
	name := req.AnalysisName
	if name == "" {
		name = analysisNameFor(req.DataPath)
	}
	if _, err := domain.ParseTaskID(name + "/A01"); err != nil {
		return nil, fmt.Errorf("invalid analysis name %q: use lowercase letters, digits, '-' and '_'", name)
	}

	brief, err := a.brief(req.DataPath, req.PaperSummary)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	eng, err := a.newEngine(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	var proposals []domain.Proposal
	if req.Proposals != "" {
		proposals, err = loadProposals(req.Proposals)
	} else {
		a.logger.Info("proposing analyses", zap.Int("count", req.NumAnalyses))
		proposals, err = eng.assistant.ProposeAnalyses(ctx, brief.PaperSummary, brief.Schema, req.NumAnalyses)
	}
	if err != nil {
		return nil, fmt.Errorf("proposals: %w", err)
	}
	if len(proposals) == 0 {
		return nil, errors.New("no analyses to run")
	}

	first, err := a.store.NextOrdinal(ctx, name)
	if err != nil {
		return nil, err
	}
	run := &domain.Run{
		ID:           runID,
		AnalysisName: name,
		DataPath:     req.DataPath,
		Model:        a.cfg.LLM.Model,
		Status:       domain.RunRunning,
		StartedAt:    time.Now(),
	}
	if err := a.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	return a.drive(ctx, eng, run, req.Surface, func(ctx context.Context) (*coordinator.Result, error) {
		return eng.coord.Run(ctx, coordinator.Request{
			RunID:        runID,
			AnalysisName: name,
			Proposals:    proposals,
			Brief:        brief,
			FirstOrdinal: first,
		})
	})
}

// drive runs work with the run's observers attached, then archives the run,
// exports final code and sends the notification.
func (a *app) drive(ctx context.Context, eng *engine, run *domain.Run, s surface, work func(context.Context) (*coordinator.Result, error)) (*coordinator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hub := eng.coord.Events()

	var bg sync.WaitGroup
	obs := observer.New(a.stuckAfter())
	obsCh, unsubObs := hub.Subscribe()
	defer unsubObs()
	logCh, unsubLog := hub.Subscribe()
	defer unsubLog()

	bg.Add(2)
	go func() {
		defer bg.Done()
		obs.Watch(ctx, obsCh)
	}()
	go func() {
		defer bg.Done()
		a.logEvents(ctx, logCh, obs)
	}()

	if s.serveAddr != "" {
		srv := api.NewServer(api.Options{
			Addr:      s.serveAddr,
			Store:     a.store,
			Canceller: eng.coord,
			Events:    hub,
			Observer:  obs,
			Logger:    a.logger,
		})
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := srv.Start(ctx); err != nil {
				a.logger.Error("web api stopped", zap.Error(err))
			}
		}()
	}

	var res *coordinator.Result
	var runErr error
	if s.tui {
		res, runErr = a.driveTUI(ctx, cancel, eng, run, work)
	} else {
		res, runErr = work(ctx)
	}
	cancel()
	bg.Wait()

	now := time.Now()
	run.FinishedAt = &now
	run.Status = domain.RunCompleted
	if runErr != nil {
		run.Status = domain.RunCancelled
	}
	if err := a.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Error("saving run", zap.Error(err))
	}

	m := obs.GetMetrics()
	a.logger.Info("run metrics",
		zap.String("run", run.ID),
		zap.Int("units_executed", m.UnitsExecuted),
		zap.Duration("avg_task_duration", m.AvgDuration),
		zap.Float64("avg_iterations", m.AvgIterations))

	if res == nil {
		return nil, runErr
	}
	for _, task := range res.Tasks {
		if _, err := exportFinalCode(a.cfg.General.OutputHome, task, eng.assistant.Language()); err != nil {
			a.logger.Error("exporting final code", zap.String("task", task.ID.String()), zap.Error(err))
		}
	}
	if s.notify {
		n := notify.ForRun(run.AnalysisName, res.Summary)
		if err := notify.New(a.cfg.Notifications).Send(context.WithoutCancel(ctx), n); err != nil {
			a.logger.Warn("sending notification", zap.Error(err))
		}
	}
	return res, runErr
}

// driveTUI runs work behind the dashboard. Quitting the dashboard cancels
// every unfinished task.
func (a *app) driveTUI(ctx context.Context, cancel context.CancelFunc, eng *engine, run *domain.Run, work func(context.Context) (*coordinator.Result, error)) (*coordinator.Result, error) {
	events, unsubscribe := eng.coord.Events().Subscribe()
	defer unsubscribe()

	model := tui.NewModel(tui.ModelConfig{
		RunID:     run.ID,
		Analysis:  run.AnalysisName,
		MaxActive: a.cfg.General.MaxParallelAnalyses,
		Events:    events,
		Canceller: eng.coord,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	var res *coordinator.Result
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = work(ctx)
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		a.logger.Warn("dashboard exited", zap.Error(err))
	}
	cancel()
	<-done
	return res, runErr
}

// logEvents logs task transitions and warns about stuck tasks.
func (a *app) logEvents(ctx context.Context, events <-chan domain.Event, obs *observer.Observer) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	warned := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range obs.Stuck() {
				if !warned[id] {
					warned[id] = true
					a.logger.Warn("task has made no progress", zap.String("task", id), zap.Duration("threshold", a.stuckAfter()))
				}
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			delete(warned, ev.TaskID)
			switch ev.Kind {
			case domain.EventUnitExecuted:
				a.logger.Debug("unit executed",
					zap.String("task", ev.TaskID),
					zap.String("outcome", string(ev.Outcome)),
					zap.Int("iteration", ev.Iteration),
					zap.Int("fix_attempt", ev.FixAttempt))
			case domain.EventTaskFinished:
				a.logger.Info("task finished",
					zap.String("task", ev.TaskID),
					zap.String("verdict", string(ev.Verdict)),
					zap.String("reason", ev.Message))
			case domain.EventRunStarted, domain.EventTaskStarted, domain.EventStateChanged, domain.EventRunFinished:
			}
		}
	}
}
