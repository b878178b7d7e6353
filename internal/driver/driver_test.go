package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/critique"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
	"github.com/janani-sekar/AEAExtensions/internal/repair"
	"github.com/janani-sekar/AEAExtensions/internal/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type harness struct {
	gen    *fakeGenerator
	fixer  *fakeFixer
	critic *fakeCritic
	events *eventLog
	driver *Driver
}

func newHarness(t *testing.T, b config.Budgets, gen []reply, fixes []reply, critiques ...llm.Critique) *harness {
	t.Helper()
	h := &harness{
		gen:    &fakeGenerator{replies: gen},
		fixer:  &fakeFixer{replies: fixes},
		critic: &fakeCritic{replies: critiques},
		events: &eventLog{},
	}
	d, err := New(Config{
		Budgets:   b,
		Generator: h.gen,
		Repair:    repair.New(h.fixer, nil, b.DocAssist, nil),
		Gate:      critique.New(h.critic, b.SelfCritique),
		OnEvent:   h.events.record,
	})
	require.NoError(t, err)
	h.driver = d
	return h
}

func budgets(maxIter, maxFix int, selfCritique bool) config.Budgets {
	return config.Budgets{
		MaxIterations:    maxIter,
		MaxFixAttempts:   maxFix,
		SelfCritique:     selfCritique,
		ExecutionTimeout: time.Second,
	}
}

func newTask() *domain.AnalysisTask {
	return &domain.AnalysisTask{
		ID:       domain.TaskID{Analysis: "minimum-wage", Ordinal: 1},
		RunID:    "run-1",
		Proposal: domain.Proposal{Title: "DiD", Text: "Estimate the employment effect of the 1992 NJ minimum wage rise."},
	}
}

// unitView is the part of a CodeUnit the tests compare.
type unitView struct {
	Provenance  domain.Provenance
	Iteration   int
	FixAttempt  int
	Regenerated bool
	Outcome     domain.OutcomeKind
}

func view(task *domain.AnalysisTask) []unitView {
	out := make([]unitView, len(task.History))
	for i, u := range task.History {
		v := unitView{
			Provenance:  u.Provenance,
			Iteration:   u.Iteration,
			FixAttempt:  u.FixAttempt,
			Regenerated: u.Regenerated,
		}
		if u.Result != nil {
			v.Outcome = u.Result.Kind
		}
		out[i] = v
	}
	return out
}

func assertOrdered(t *testing.T, task *domain.AnalysisTask) {
	t.Helper()
	for i, u := range task.History {
		assert.Equal(t, i+1, u.Seq, "unit %d out of order", i)
	}
}

func TestRun_SuccessWithoutCritique(t *testing.T) {
	h := newHarness(t, budgets(6, 3, false), texts("print(fit.params)"), nil)
	sess := newSession(ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{Schema: "state, emp, post"})

	assert.Equal(t, domain.VerdictSucceeded, task.Verdict)
	assert.Equal(t, 1, task.Iteration)
	assert.Len(t, task.History, 1)
	assert.Zero(t, h.critic.calls(), "critic must not be consulted when self-critique is off")
	assert.Equal(t, 1, sess.closed)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.FinishedAt)
	assert.Equal(t, "state, emp, post", h.gen.reqs[0].Schema)
}

func TestRun_ZeroFixBudget(t *testing.T) {
	h := newHarness(t, budgets(6, 0, true), texts("df['wage']"), nil)
	sess := newSession(crash("KeyError: 'wage'"))

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictFailedExhaustedFixes, task.Verdict)
	assert.Len(t, task.History, 1)
	assert.Equal(t, 0, task.FixAttempts)
	assert.Zero(t, h.fixer.calls())
}

func TestRun_RepairThenReviseThenAccept(t *testing.T) {
	h := newHarness(t, budgets(2, 1, true),
		texts("initial", "revised"),
		texts("fixed"),
		llm.Critique{Decision: llm.DecisionRevise, Guidance: "cluster by state"},
		llm.Critique{Decision: llm.DecisionAccept},
	)
	sess := newSession(crash("NameError: name 'smf' is not defined"), ok(), ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	require.Equal(t, domain.VerdictSucceeded, task.Verdict, task.Reason)
	want := []unitView{
		{Provenance: domain.ProvenanceInitial, Iteration: 1, FixAttempt: 0, Outcome: domain.OutcomeRuntimeError},
		{Provenance: domain.ProvenanceRepair, Iteration: 1, FixAttempt: 1, Outcome: domain.OutcomeSuccess},
		{Provenance: domain.ProvenanceCritiqueRevision, Iteration: 2, FixAttempt: 0, Outcome: domain.OutcomeSuccess},
	}
	if diff := cmp.Diff(want, view(task)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, task.FixAttempts)
	assert.Equal(t, 2, task.Iteration)
	assertOrdered(t, task)

	assert.Equal(t, []string{"initial", "fixed", "revised"}, sess.executed)
	require.Len(t, h.gen.reqs, 2)
	assert.Equal(t, "fixed", h.gen.reqs[1].PriorCode)
	assert.Equal(t, "cluster by state", h.gen.reqs[1].Guidance)
	assert.Equal(t, "cluster by state", task.History[2].Guidance)
	assert.Contains(t, h.fixer.reqs[0].ErrorSignal, "NameError")
}

func TestRun_SandboxFailureMidRepair(t *testing.T) {
	h := newHarness(t, budgets(6, 3, true), texts("a"), texts("b", "c"))
	sess := newSession(crash("ValueError"), step{err: sandbox.ErrSessionUnusable})

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictAborted, task.Verdict)
	assert.Contains(t, task.Reason, "sandbox failure")
	assert.Equal(t, 1, h.gen.calls())
	assert.Equal(t, 1, h.fixer.calls(), "no generation after a sandbox failure")
	assert.Zero(t, h.critic.calls())
	require.Len(t, task.History, 2)
	assert.Nil(t, task.History[1].Result)
	assert.Equal(t, 1, sess.closed)
}

func TestRun_EmptyGeneration(t *testing.T) {
	t.Run("retry also empty", func(t *testing.T) {
		h := newHarness(t, budgets(6, 1, true), texts("", "  "), nil)
		sess := newSession()

		task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictFailedExhaustedFixes, task.Verdict)
		assert.Equal(t, 1, task.FixAttempts)
		want := []unitView{
			{Provenance: domain.ProvenanceInitial, Iteration: 1, Outcome: domain.OutcomeRuntimeError},
			{Provenance: domain.ProvenanceRepair, Iteration: 1, FixAttempt: 1, Regenerated: true, Outcome: domain.OutcomeRuntimeError},
		}
		if diff := cmp.Diff(want, view(task)); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}
		assert.Empty(t, sess.executed, "empty code is never executed")
		assert.Equal(t, 2, h.gen.calls())
		assert.Zero(t, h.fixer.calls())
	})

	t.Run("retry succeeds", func(t *testing.T) {
		h := newHarness(t, budgets(6, 1, false), []reply{{text: ""}, {text: "print(1.5, 'elasticity')"}}, nil)
		sess := newSession(ok())

		task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictSucceeded, task.Verdict)
		require.Len(t, task.History, 2)
		assert.True(t, task.History[1].Regenerated)
		assert.Equal(t, domain.ProvenanceRepair, task.History[1].Provenance)
		assert.Equal(t, []string{"print(1.5, 'elasticity')"}, sess.executed)
	})
}

func TestRun_GenerationErrorIsRetryable(t *testing.T) {
	h := newHarness(t, budgets(6, 2, false),
		[]reply{{err: llm.ErrRateLimited}, {text: "ok"}}, nil)
	sess := newSession(ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictSucceeded, task.Verdict)
	assert.Contains(t, task.History[0].Result.ErrorMessage, "initial generation failed")
	assert.Equal(t, 1, task.FixAttempts)
}

func TestRun_RegeneratesFailedFix(t *testing.T) {
	h := newHarness(t, budgets(6, 3, false), texts("a"),
		[]reply{{err: errors.New("503")}, {text: "b"}})
	sess := newSession(crash("TypeError"), ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	require.Equal(t, domain.VerdictSucceeded, task.Verdict)
	require.Equal(t, 2, h.fixer.calls())
	assert.Equal(t, h.fixer.reqs[0], h.fixer.reqs[1], "the fix request is re-issued unchanged")
	assert.Equal(t, 2, task.FixAttempts)
	assert.Equal(t, []string{"a", "b"}, sess.executed)
	assert.True(t, task.History[2].Regenerated)
}

func TestRun_ExhaustedIterations(t *testing.T) {
	h := newHarness(t, budgets(2, 1, true),
		texts("a", "b"),
		texts("c"),
		llm.Critique{Decision: llm.DecisionRevise, Guidance: "use logs"},
	)
	sess := newSession(ok(), crash("LinAlgError"), crash("LinAlgError"))

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictFailedExhaustedIterations, task.Verdict)
	assert.Equal(t, 2, task.Iteration)
	assert.Equal(t, 1, task.FixAttempts)
	assert.Len(t, task.History, 3)
}

func TestRun_RevisionUnrepairableBeforeFinalIteration(t *testing.T) {
	h := newHarness(t, budgets(3, 1, true),
		texts("a", "b"),
		texts("c"),
		llm.Critique{Decision: llm.DecisionRevise, Guidance: "use logs"},
	)
	sess := newSession(ok(), crash("E"), crash("E"))

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictFailedExhaustedIterations, task.Verdict, "iteration 1 ran cleanly")
	assert.Equal(t, 2, task.Iteration)
	assert.Equal(t, 1, task.FixAttempts)
	assert.Contains(t, task.Reason, "iteration 2")
}

func TestRun_NeverRanCleanly(t *testing.T) {
	h := newHarness(t, budgets(3, 1, true), texts("a"), texts("b"))
	sess := newSession(crash("E"), crash("E"))

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictFailedExhaustedFixes, task.Verdict)
	assert.Equal(t, 1, task.Iteration)
}

func TestRun_ReviseAtIterationLimit(t *testing.T) {
	h := newHarness(t, budgets(1, 3, true), texts("a"), nil,
		llm.Critique{Decision: llm.DecisionRevise, Guidance: "add robustness checks"})
	sess := newSession(ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictSucceededWithWarnings, task.Verdict)
	assert.Contains(t, task.Reason, "add robustness checks")
	assert.Equal(t, 1, h.gen.calls())
}

func TestRun_CritiqueFailure(t *testing.T) {
	h := newHarness(t, budgets(3, 3, true), texts("a"), nil)
	h.critic.errs = []error{errors.New("critic offline")}
	sess := newSession(ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictSucceededWithWarnings, task.Verdict)
	assert.Contains(t, task.Reason, "critic offline")
}

func TestRun_Degenerate(t *testing.T) {
	h := newHarness(t, budgets(6, 1, false), texts("df.head"), texts("print(df.describe())"))
	sess := newSession(degenerate(), ok())

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictSucceeded, task.Verdict)
	assert.Equal(t, domain.OutcomeDegenerate, task.History[0].Result.Kind)
	require.Len(t, h.fixer.reqs, 1)
	assert.Equal(t, domain.OutcomeDegenerate, h.fixer.reqs[0].Kind)
	assert.Contains(t, h.fixer.reqs[0].ErrorSignal, "no usable result")
}

func TestRun_Timeout(t *testing.T) {
	t.Run("session survives", func(t *testing.T) {
		h := newHarness(t, budgets(6, 1, false), texts("slow"), texts("fast"))
		sess := newSession(overrun(false), ok())

		task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictSucceeded, task.Verdict)
		assert.Equal(t, 1, task.FixAttempts, "a timeout counts against the fix budget")
		assert.Equal(t, domain.OutcomeTimeout, h.fixer.reqs[0].Kind)
	})

	t.Run("session retired", func(t *testing.T) {
		h := newHarness(t, budgets(6, 3, false), texts("slow"), texts("fast"))
		sess := newSession(overrun(true))

		task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictAborted, task.Verdict)
		assert.Zero(t, h.fixer.calls())
	})
}

func TestRun_GenerationTimeout(t *testing.T) {
	b := budgets(6, 0, false)
	b.GenerationTimeout = 20 * time.Millisecond
	h := newHarness(t, b, []reply{{block: true}}, nil)
	sess := newSession()

	task := h.driver.Run(context.Background(), newTask(), sess, Brief{})

	assert.Equal(t, domain.VerdictFailedExhaustedFixes, task.Verdict)
	require.Len(t, task.History, 1)
	assert.Contains(t, task.History[0].Result.ErrorMessage, "deadline exceeded")
}

func TestRun_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		h := newHarness(t, budgets(6, 3, true), texts("a"), nil)
		sess := newSession(ok())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		task := h.driver.Run(ctx, newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictAborted, task.Verdict)
		assert.Empty(t, task.History)
		assert.Zero(t, h.gen.calls())
		assert.Equal(t, 1, sess.closed)
	})

	t.Run("during generation", func(t *testing.T) {
		h := newHarness(t, budgets(6, 3, true), []reply{{block: true}}, nil)
		sess := newSession()
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		task := h.driver.Run(ctx, newTask(), sess, Brief{})

		assert.Equal(t, domain.VerdictAborted, task.Verdict)
		assert.Contains(t, task.Reason, "cancelled")
		assert.Equal(t, 1, sess.closed)
	})
}

func TestRun_Events(t *testing.T) {
	h := newHarness(t, budgets(6, 3, false), texts("a"), nil)
	h.driver.Run(context.Background(), newTask(), newSession(ok()), Brief{})

	want := []domain.EventKind{
		domain.EventTaskStarted,
		domain.EventStateChanged, // PROPOSING
		domain.EventStateChanged, // EXECUTING
		domain.EventUnitExecuted,
		domain.EventTaskFinished,
	}
	assert.Equal(t, want, h.events.kinds())

	last := h.events.events[len(h.events.events)-1]
	assert.Equal(t, domain.VerdictSucceeded, last.Verdict)
	assert.Equal(t, "minimum-wage/A01", last.TaskID)
	assert.Equal(t, "run-1", last.RunID)
}

func TestRun_ImprovementCarriesPriorCode(t *testing.T) {
	h := newHarness(t, budgets(6, 3, false), texts("improved"), nil)
	task := newTask()
	task.Proposal.Feedback = "add state fixed effects"
	task.Proposal.PriorCode = "old code"

	h.driver.Run(context.Background(), task, newSession(ok()), Brief{})

	require.Len(t, h.gen.reqs, 1)
	assert.Equal(t, "old code", h.gen.reqs[0].PriorCode)
	assert.Equal(t, "add state fixed effects", h.gen.reqs[0].Proposal.Feedback)
}

func TestNew_Validation(t *testing.T) {
	gen := &fakeGenerator{}
	rep := repair.New(&fakeFixer{}, nil, false, nil)

	_, err := New(Config{Budgets: budgets(0, 1, false), Generator: gen, Repair: rep})
	assert.Error(t, err)
	_, err = New(Config{Budgets: budgets(1, 1, false), Repair: rep})
	assert.Error(t, err)
	_, err = New(Config{Budgets: budgets(1, 1, false), Generator: gen})
	assert.Error(t, err)
	d, err := New(Config{Budgets: budgets(1, 1, false), Generator: gen, Repair: rep})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Budgets().MaxIterations)
}

func TestGenerationFailure_Unwrap(t *testing.T) {
	err := error(&GenerationFailure{Stage: StageRepair, Err: llm.ErrEmptyResponse})
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
	var gf *GenerationFailure
	require.True(t, errors.As(err, &gf))
	assert.Equal(t, StageRepair, gf.Stage)
	assert.Equal(t, "repair generation failed: "+llm.ErrEmptyResponse.Error(), err.Error())
}
