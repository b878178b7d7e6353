// Package coordinator runs many analysis tasks concurrently, each with its
// own driver loop and sandbox session.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/janani-sekar/AEAExtensions/internal/classifier"
	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/critique"
	"github.com/janani-sekar/AEAExtensions/internal/docs"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/driver"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
	"github.com/janani-sekar/AEAExtensions/internal/repair"
	"github.com/janani-sekar/AEAExtensions/internal/sandbox"
)

// Recorder persists finished tasks. SaveTask is called once per task, from
// the task's goroutine, after it reaches a verdict.
type Recorder interface {
	SaveTask(ctx context.Context, task *domain.AnalysisTask) error
}

// Config wires a Coordinator.
type Config struct {
	Budgets      config.Budgets
	Sandbox      sandbox.Sandbox
	Capabilities llm.Capabilities
	Docs         docs.Lookup
	Classifier   classifier.Classifier
	Recorder     Recorder
	Logger       *zap.Logger
	EventBuffer  int
}

// Coordinator owns the driver shared by all tasks, the registry of running
// tasks and the event hub.
type Coordinator struct {
	budgets  config.Budgets
	sandbox  sandbox.Sandbox
	driver   *driver.Driver
	recorder Recorder
	hub      *Hub
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Sandbox == nil {
		return nil, errors.New("coordinator needs a sandbox")
	}
	if cfg.Capabilities == nil {
		return nil, errors.New("coordinator needs generation capabilities")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Coordinator{
		budgets:  cfg.Budgets,
		sandbox:  cfg.Sandbox,
		recorder: cfg.Recorder,
		hub:      NewHub(cfg.EventBuffer),
		logger:   cfg.Logger,
		active:   make(map[string]context.CancelFunc),
	}
	d, err := driver.New(driver.Config{
		Budgets:    cfg.Budgets,
		Generator:  cfg.Capabilities,
		Repair:     repair.New(cfg.Capabilities, cfg.Docs, cfg.Budgets.DocAssist, cfg.Logger),
		Gate:       critique.New(cfg.Capabilities, cfg.Budgets.SelfCritique),
		Classifier: cfg.Classifier,
		Logger:     cfg.Logger,
		OnEvent:    c.hub.Publish,
	})
	if err != nil {
		return nil, err
	}
	c.driver = d
	return c, nil
}

// Events returns the hub progress events are published on.
func (c *Coordinator) Events() *Hub {
	return c.hub
}

// Budgets returns the limits every task of this coordinator runs under.
func (c *Coordinator) Budgets() config.Budgets {
	return c.budgets
}

// Request describes one batch of proposals.
type Request struct {
	RunID        string
	AnalysisName string
	Proposals    []domain.Proposal
	Brief        driver.Brief
	// FirstOrdinal numbers the first task; zero means 1.
	FirstOrdinal int
}

// Result is what Run returns: every task in proposal order with its verdict
// and full history.
type Result struct {
	RunID   string
	Tasks   []*domain.AnalysisTask
	Summary domain.RunSummary
}

// Run drives every proposal to a verdict, at most Budgets.MaxParallel at a
// time. It always returns a verdict for every task: failures, panics and
// cancellation are contained per task. The error is non-nil only when ctx
// was cancelled.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	first := req.FirstOrdinal
	if first <= 0 {
		first = 1
	}

	tasks := make([]*domain.AnalysisTask, len(req.Proposals))
	for i, p := range req.Proposals {
		tasks[i] = &domain.AnalysisTask{
			ID:       domain.TaskID{Analysis: req.AnalysisName, Ordinal: first + i},
			RunID:    runID,
			Proposal: p,
		}
	}

	log := c.logger.With(zap.String("run", runID))
	log.Info("run started",
		zap.Int("tasks", len(tasks)),
		zap.Int("parallel", c.budgets.Parallelism()))
	c.hub.Publish(domain.Event{Kind: domain.EventRunStarted, RunID: runID, Time: time.Now()})

	g := new(errgroup.Group)
	g.SetLimit(c.budgets.Parallelism())
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			c.runTask(ctx, task, req.Brief)
			return nil
		})
	}
	_ = g.Wait()

	summary := domain.Summarize(runID, tasks)
	log.Info("run finished",
		zap.Int("succeeded", summary.Succeeded()),
		zap.Int("total", summary.Total))
	c.hub.Publish(domain.Event{
		Kind:    domain.EventRunFinished,
		RunID:   runID,
		Message: fmt.Sprintf("%d/%d succeeded", summary.Succeeded(), summary.Total),
		Time:    time.Now(),
	})
	return &Result{RunID: runID, Tasks: tasks, Summary: summary}, ctx.Err()
}

// Improve runs a single feedback-driven task seeded with prior's proposal and
// final code.
func (c *Coordinator) Improve(ctx context.Context, runID string, prior *domain.AnalysisTask, feedback string, ordinal int, brief driver.Brief) (*domain.AnalysisTask, error) {
	if prior == nil || len(prior.History) == 0 {
		return nil, errors.New("prior task has no code to improve")
	}
	code, ok := prior.FinalCode()
	if !ok {
		code = prior.Current().Source
	}
	p := prior.Proposal
	p.Feedback = feedback
	p.PriorCode = code

	res, err := c.Run(ctx, Request{
		RunID:        runID,
		AnalysisName: prior.ID.Analysis,
		Proposals:    []domain.Proposal{p},
		Brief:        brief,
		FirstOrdinal: ordinal,
	})
	if res == nil || len(res.Tasks) == 0 {
		return nil, err
	}
	return res.Tasks[0], err
}

// Cancel stops one running task. It reports whether the task was running.
func (c *Coordinator) Cancel(taskID string) bool {
	c.mu.Lock()
	cancel, ok := c.active[taskID]
	c.mu.Unlock()
	if ok {
		c.logger.Info("cancelling task", zap.String("task", taskID))
		cancel()
	}
	return ok
}

// Active lists the IDs of running tasks in sorted order.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) runTask(ctx context.Context, task *domain.AnalysisTask, brief driver.Brief) {
	id := task.ID.String()
	taskCtx, cancel := context.WithCancel(ctx)
	c.register(id, cancel)
	defer c.unregister(id)
	defer cancel()
	defer c.record(ctx, task)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("task panicked", zap.String("task", id), zap.Any("panic", r), zap.Stack("stack"))
			c.abort(task, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := taskCtx.Err(); err != nil {
		c.abort(task, "cancelled before start")
		return
	}
	sess, err := c.sandbox.Open(taskCtx, id)
	if err != nil {
		c.logger.Error("opening sandbox session", zap.String("task", id), zap.Error(err))
		c.abort(task, "sandbox unavailable: "+err.Error())
		return
	}
	c.driver.Run(taskCtx, task, sess, brief)
}

func (c *Coordinator) abort(task *domain.AnalysisTask, reason string) {
	now := time.Now()
	task.Verdict = domain.VerdictAborted
	task.Reason = reason
	task.FinishedAt = &now
	c.hub.Publish(domain.Event{
		Kind:       domain.EventTaskFinished,
		RunID:      task.RunID,
		TaskID:     task.ID.String(),
		State:      domain.StateDone,
		Iteration:  task.Iteration,
		FixAttempt: task.FixAttempts,
		Verdict:    domain.VerdictAborted,
		Message:    reason,
		Time:       now,
	})
}

func (c *Coordinator) record(ctx context.Context, task *domain.AnalysisTask) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.SaveTask(context.WithoutCancel(ctx), task); err != nil {
		c.logger.Error("saving task", zap.String("task", task.ID.String()), zap.Error(err))
	}
}

func (c *Coordinator) register(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[id] = cancel
}

func (c *Coordinator) unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}
