// Package driver runs one analysis task through the
// propose/execute/repair/critique state machine until it reaches a verdict.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/classifier"
	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/critique"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
	"github.com/janani-sekar/AEAExtensions/internal/repair"
	"github.com/janani-sekar/AEAExtensions/internal/sandbox"
)

// Stage names the generation step that failed
type Stage string

const (
	StageInitial  Stage = "initial"
	StageRepair   Stage = "repair"
	StageRevision Stage = "revision"
)

// GenerationFailure wraps an error from the generation service together
// with the step that produced it. It is retryable: the driver records it as
// a failed unit and spends a fix attempt on another try.
type GenerationFailure struct {
	Stage Stage
	Err   error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Stage, e.Err)
}

func (e *GenerationFailure) Unwrap() error {
	return e.Err
}

// Brief is the per-run context every generation request carries.
type Brief struct {
	Schema       string
	PaperSummary string
	DataPath     string
}

// Config wires a Driver's collaborators
type Config struct {
	Budgets    config.Budgets
	Generator  llm.CodeGenerator
	Repair     *repair.Proposer
	Gate       *critique.Gate
	Classifier classifier.Classifier
	Logger     *zap.Logger
	// OnEvent receives progress events. It is called synchronously from the
	// driver goroutine and must not block.
	OnEvent func(domain.Event)
}

// Driver owns the control loop for one task at a time. A Driver holds no
// per-task state, so one value may serve many goroutines.
type Driver struct {
	budgets    config.Budgets
	gen        llm.CodeGenerator
	repair     *repair.Proposer
	gate       *critique.Gate
	classifier classifier.Classifier
	logger     *zap.Logger
	onEvent    func(domain.Event)
}

// New creates a Driver.
func New(cfg Config) (*Driver, error) {
	if err := cfg.Budgets.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budgets: %w", err)
	}
	if cfg.Generator == nil {
		return nil, errors.New("driver needs a code generator")
	}
	if cfg.Repair == nil {
		return nil, errors.New("driver needs a repair proposer")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Classifier.MinOutputBytes <= 0 {
		cfg.Classifier = classifier.New(0)
	}
	return &Driver{
		budgets:    cfg.Budgets,
		gen:        cfg.Generator,
		repair:     cfg.Repair,
		gate:       cfg.Gate,
		classifier: cfg.Classifier,
		logger:     cfg.Logger,
		onEvent:    cfg.OnEvent,
	}, nil
}

// Budgets returns the limits the driver enforces.
func (d *Driver) Budgets() config.Budgets {
	return d.budgets
}

// run is the mutable state of one Run call.
type run struct {
	task  *domain.AnalysisTask
	sess  sandbox.Session
	brief Brief
	state domain.DriverState
	log   *zap.Logger
	// retry re-issues the generation request that produced the current
	// unit; used when that request failed and left the unit without code.
	retry func(context.Context) (string, error)
}

// Run drives task to a verdict using sess, which it closes before returning.
// The returned task is the same pointer, now terminal.
func (d *Driver) Run(ctx context.Context, task *domain.AnalysisTask, sess sandbox.Session, brief Brief) *domain.AnalysisTask {
	defer func() {
		if err := sess.Close(); err != nil {
			d.logger.Warn("closing session", zap.String("task", task.ID.String()), zap.Error(err))
		}
	}()

	now := time.Now()
	task.StartedAt = &now
	r := &run{
		task:  task,
		sess:  sess,
		brief: brief,
		log:   d.logger.With(zap.String("task", task.ID.String())),
	}
	d.emit(r, domain.Event{Kind: domain.EventTaskStarted, Message: task.Proposal.Title})
	d.transition(r, domain.StateProposing)

	for r.state != domain.StateDone {
		if err := ctx.Err(); err != nil {
			d.finish(r, domain.VerdictAborted, "cancelled: "+err.Error())
			break
		}
		switch r.state {
		case domain.StateProposing:
			d.propose(ctx, r)
		case domain.StateExecuting:
			d.execute(ctx, r)
		case domain.StateRepairing:
			d.repairUnit(ctx, r)
		case domain.StateCritiquing:
			d.critique(ctx, r)
		case domain.StateDone:
		default:
			d.finish(r, domain.VerdictAborted, fmt.Sprintf("unknown driver state %q", r.state))
		}
	}
	return task
}

func (d *Driver) propose(ctx context.Context, r *run) {
	r.task.Iteration = 1
	r.task.FixAttempts = 0
	req := d.codeRequest(r, r.task.Proposal.PriorCode, "")
	r.retry = func(ctx context.Context) (string, error) {
		return d.gen.GenerateCode(ctx, req)
	}
	d.produce(ctx, r, StageInitial, domain.CodeUnit{Provenance: domain.ProvenanceInitial})
}

func (d *Driver) execute(ctx context.Context, r *run) {
	cur := r.task.Current()
	res, err := r.sess.Execute(ctx, cur.Source, d.budgets.ExecutionTimeout)
	if err != nil {
		if ctx.Err() != nil {
			d.finish(r, domain.VerdictAborted, "cancelled during execution")
			return
		}
		r.log.Error("sandbox failure", zap.Int("unit", cur.Seq), zap.Error(err))
		d.finish(r, domain.VerdictAborted, "sandbox failure: "+err.Error())
		return
	}

	res.Kind = d.classifier.Classify(res)
	cur.Result = &res
	r.log.Info("unit executed",
		zap.Int("unit", cur.Seq),
		zap.String("provenance", string(cur.Provenance)),
		zap.String("outcome", string(res.Kind)),
		zap.Duration("took", res.Duration))
	d.emit(r, domain.Event{Kind: domain.EventUnitExecuted, Outcome: res.Kind})

	switch res.Kind {
	case domain.OutcomeSuccess:
		if d.budgets.SelfCritique && d.gate.Enabled() {
			d.transition(r, domain.StateCritiquing)
			return
		}
		d.finish(r, domain.VerdictSucceeded, "")
	case domain.OutcomeTimeout:
		if !r.sess.Usable() {
			d.finish(r, domain.VerdictAborted, "session unusable after timeout")
			return
		}
		d.afterFailure(r)
	case domain.OutcomeRuntimeError, domain.OutcomeDegenerate:
		d.afterFailure(r)
	default:
		d.finish(r, domain.VerdictAborted, fmt.Sprintf("unclassifiable outcome %q", res.Kind))
	}
}

// afterFailure spends a fix attempt or ends the task when none remain.
func (d *Driver) afterFailure(r *run) {
	t := r.task
	if t.FixAttempts >= d.budgets.MaxFixAttempts {
		// a revision only follows a clean run, so the analysis did run
		if t.Iteration > 1 {
			d.finish(r, domain.VerdictFailedExhaustedIterations,
				fmt.Sprintf("revision in iteration %d could not be repaired", t.Iteration))
			return
		}
		d.finish(r, domain.VerdictFailedExhaustedFixes,
			fmt.Sprintf("%d fix attempts exhausted", d.budgets.MaxFixAttempts))
		return
	}
	t.FixAttempts++
	d.transition(r, domain.StateRepairing)
}

func (d *Driver) repairUnit(ctx context.Context, r *run) {
	failed := *r.task.Current()
	if failed.Source == "" && r.retry != nil {
		d.produce(ctx, r, StageRepair, domain.CodeUnit{Provenance: domain.ProvenanceRepair, Regenerated: true})
		return
	}

	result := *failed.Result
	r.retry = func(ctx context.Context) (string, error) {
		unit, err := d.repair.ProposeFix(ctx, failed, result)
		return unit.Source, err
	}
	d.produce(ctx, r, StageRepair, domain.CodeUnit{Provenance: domain.ProvenanceRepair})
}

func (d *Driver) critique(ctx context.Context, r *run) {
	cur := r.task.Current()
	review, err := d.gate.Review(ctx, r.task.Proposal, *cur)
	if err != nil {
		if ctx.Err() != nil {
			d.finish(r, domain.VerdictAborted, "cancelled during critique")
			return
		}
		r.log.Warn("critique unavailable", zap.Error(err))
		d.finish(r, domain.VerdictSucceededWithWarnings, "critique unavailable: "+err.Error())
		return
	}
	if review.Accept {
		d.finish(r, domain.VerdictSucceeded, "")
		return
	}
	if r.task.Iteration >= d.budgets.MaxIterations {
		d.finish(r, domain.VerdictSucceededWithWarnings,
			"critique still requested changes at the iteration limit: "+review.Guidance)
		return
	}

	r.task.Iteration++
	r.task.FixAttempts = 0
	req := d.codeRequest(r, cur.Source, review.Guidance)
	r.retry = func(ctx context.Context) (string, error) {
		return d.gen.GenerateCode(ctx, req)
	}
	d.produce(ctx, r, StageRevision, domain.CodeUnit{
		Provenance: domain.ProvenanceCritiqueRevision,
		Guidance:   review.Guidance,
	})
}

// produce calls r.retry under the generation timeout and appends the unit.
// A failed call still appends the unit, empty and carrying a synthetic
// runtime-error result, and goes through the normal failure accounting.
func (d *Driver) produce(ctx context.Context, r *run, stage Stage, unit domain.CodeUnit) {
	src, err := d.generate(ctx, r.retry)
	if err == nil {
		unit.Source = src
		r.task.Append(unit)
		d.transition(r, domain.StateExecuting)
		return
	}
	if ctx.Err() != nil {
		d.finish(r, domain.VerdictAborted, "cancelled during generation")
		return
	}

	gf := &GenerationFailure{Stage: stage, Err: err}
	r.log.Warn("generation failed", zap.String("stage", string(stage)), zap.Error(err))
	unit.Source = ""
	unit.Result = &domain.ExecutionResult{
		Kind:         domain.OutcomeRuntimeError,
		ErrorMessage: gf.Error(),
	}
	r.task.Append(unit)
	d.emit(r, domain.Event{Kind: domain.EventUnitExecuted, Outcome: domain.OutcomeRuntimeError, Message: gf.Error()})
	d.afterFailure(r)
}

func (d *Driver) generate(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	if d.budgets.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.budgets.GenerationTimeout)
		defer cancel()
	}
	src, err := call(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(src) == "" {
		return "", llm.ErrEmptyResponse
	}
	return src, nil
}

func (d *Driver) codeRequest(r *run, prior, guidance string) llm.CodeRequest {
	return llm.CodeRequest{
		Proposal:     r.task.Proposal,
		Schema:       r.brief.Schema,
		PaperSummary: r.brief.PaperSummary,
		DataPath:     r.brief.DataPath,
		PriorCode:    prior,
		Guidance:     guidance,
	}
}

func (d *Driver) transition(r *run, to domain.DriverState) {
	r.state = to
	r.log.Debug("state",
		zap.String("state", string(to)),
		zap.Int("iteration", r.task.Iteration),
		zap.Int("fix", r.task.FixAttempts))
	d.emit(r, domain.Event{Kind: domain.EventStateChanged, State: to})
}

func (d *Driver) finish(r *run, v domain.Verdict, reason string) {
	now := time.Now()
	r.task.Verdict = v
	r.task.Reason = reason
	r.task.FinishedAt = &now
	r.state = domain.StateDone
	r.log.Info("task finished",
		zap.String("verdict", string(v)),
		zap.String("reason", reason),
		zap.Int("iterations", r.task.Iteration),
		zap.Int("units", len(r.task.History)))
	d.emit(r, domain.Event{Kind: domain.EventTaskFinished, State: domain.StateDone, Verdict: v, Message: reason})
}

func (d *Driver) emit(r *run, ev domain.Event) {
	if d.onEvent == nil {
		return
	}
	ev.RunID = r.task.RunID
	ev.TaskID = r.task.ID.String()
	ev.Iteration = r.task.Iteration
	ev.FixAttempt = r.task.FixAttempts
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	d.onEvent(ev)
}
