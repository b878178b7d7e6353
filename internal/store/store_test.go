package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveRun(t *testing.T, s *Store, id string, started time.Time) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:           id,
		AnalysisName: "card-krueger",
		DataPath:     "/data/njmin.csv",
		Model:        "o3-mini",
		Status:       domain.RunRunning,
		StartedAt:    started,
	}
	if err := s.SaveRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	return run
}

func sampleTask(runID string, ordinal int) *domain.AnalysisTask {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Minute)
	task := &domain.AnalysisTask{
		ID:       domain.TaskID{Analysis: "card-krueger", Ordinal: ordinal},
		RunID:    runID,
		Proposal: domain.Proposal{Title: "DiD", Text: "Difference in differences on FTE employment"},
	}
	task.StartedAt = &started
	task.Iteration = 1
	task.Append(domain.CodeUnit{
		Source:     "import pandas as pd\ndf = pd.read_csv('njmin.csv')\ndf['fte']",
		Provenance: domain.ProvenanceInitial,
		CreatedAt:  started,
		Result: &domain.ExecutionResult{
			Kind:         domain.OutcomeRuntimeError,
			ErrorMessage: "KeyError: 'fte'",
			Traceback:    "Traceback...\nKeyError: 'fte'",
			Duration:     1500 * time.Millisecond,
		},
	})
	task.FixAttempts = 1
	task.Append(domain.CodeUnit{
		Source:     "print(model.summary())",
		Provenance: domain.ProvenanceRepair,
		CreatedAt:  started.Add(time.Minute),
		Result: &domain.ExecutionResult{
			Kind:      domain.OutcomeSuccess,
			Output:    "coef 2.75 (1.34)",
			Artifacts: []domain.Artifact{{Path: "/tmp/s/figure_1.png", MediaType: "image/png", Size: 2048}},
			Duration:  2 * time.Second,
		},
	})
	task.Verdict = domain.VerdictSucceeded
	task.FinishedAt = &finished
	return task
}

func TestStore_SaveAndGetTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveRun(t, s, "r1", time.Now())

	task := sampleTask("r1", 1)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "r1", "card-krueger/A01")
	if err != nil {
		t.Fatal(err)
	}

	opts := cmp.Options{
		cmpopts.EquateApproxTime(time.Second),
	}
	if diff := cmp.Diff(task, got, opts); diff != "" {
		t.Errorf("task round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SaveTaskReplacesHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveRun(t, s, "r1", time.Now())

	task := sampleTask("r1", 1)
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	task.History = task.History[:1]
	task.Verdict = domain.VerdictFailedExhaustedFixes
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "r1", "card-krueger/A01")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 1 {
		t.Errorf("History length = %d, want 1", len(got.History))
	}
	if got.Verdict != domain.VerdictFailedExhaustedFixes {
		t.Errorf("Verdict = %q", got.Verdict)
	}
}

func TestStore_UnexecutedUnitHasNoResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	saveRun(t, s, "r1", time.Now())

	task := &domain.AnalysisTask{
		ID:       domain.TaskID{Analysis: "card-krueger", Ordinal: 2},
		RunID:    "r1",
		Proposal: domain.Proposal{Text: "placebo"},
		Verdict:  domain.VerdictAborted,
		Reason:   "sandbox failure",
	}
	task.Append(domain.CodeUnit{Source: "x = 1", Provenance: domain.ProvenanceInitial})
	if err := s.SaveTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "r1", "card-krueger/A02")
	if err != nil {
		t.Fatal(err)
	}
	if got.History[0].Result != nil {
		t.Errorf("Result = %+v, want nil", got.History[0].Result)
	}
	if got.StartedAt != nil {
		t.Error("StartedAt should stay nil")
	}
}

func TestStore_Runs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	saveRun(t, s, "old", base)
	newest := saveRun(t, s, "new", base.Add(time.Hour))

	done := base.Add(2 * time.Hour)
	newest.Status = domain.RunCompleted
	newest.FinishedAt = &done
	if err := s.SaveRun(ctx, newest); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Fatalf("ListRuns order = %v", runs)
	}
	if runs[0].Status != domain.RunCompleted || runs[0].FinishedAt == nil {
		t.Errorf("updated run = %+v", runs[0])
	}

	limited, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("ListRuns(1) returned %d runs", len(limited))
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListFindAndOrdinals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	saveRun(t, s, "r1", base)
	saveRun(t, s, "r2", base.Add(time.Hour))

	for _, task := range []*domain.AnalysisTask{sampleTask("r1", 1), sampleTask("r1", 2), sampleTask("r2", 1)} {
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := s.ListTasks(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ID.Ordinal != 1 || tasks[1].ID.Ordinal != 2 {
		t.Errorf("ListTasks = %v", tasks)
	}
	if len(tasks[0].History) != 0 {
		t.Error("ListTasks should not load histories")
	}

	found, err := s.FindTask(ctx, "card-krueger/A01")
	if err != nil {
		t.Fatal(err)
	}
	if found.RunID != "r2" {
		t.Errorf("FindTask picked run %q, want the latest run r2", found.RunID)
	}
	if len(found.History) != 2 {
		t.Errorf("FindTask history = %d units, want 2", len(found.History))
	}
	if _, err := s.FindTask(ctx, "card-krueger/A09"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindTask(missing) error = %v", err)
	}

	next, err := s.NextOrdinal(ctx, "card-krueger")
	if err != nil {
		t.Fatal(err)
	}
	if next != 3 {
		t.Errorf("NextOrdinal = %d, want 3", next)
	}
	if next, _ := s.NextOrdinal(ctx, "fresh"); next != 1 {
		t.Errorf("NextOrdinal(fresh) = %d, want 1", next)
	}

	counts, err := s.VerdictCounts(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.VerdictSucceeded] != 2 {
		t.Errorf("VerdictCounts = %v", counts)
	}
}

func TestStore_SaveTaskNeedsRun(t *testing.T) {
	s := newStore(t)
	if err := s.SaveTask(context.Background(), sampleTask("ghost", 1)); err == nil {
		t.Error("SaveTask should fail for an unknown run")
	}
}
