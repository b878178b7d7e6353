package domain

import "time"

// Run represents one coordinator invocation over a set of proposals
type Run struct {
	ID           string
	AnalysisName string
	DataPath     string
	Model        string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RunSummary counts verdicts across the tasks of a run
type RunSummary struct {
	RunID  string
	Counts map[Verdict]int
	Total  int
}

// Summarize tallies the verdicts of the given tasks.
func Summarize(runID string, tasks []*AnalysisTask) RunSummary {
	s := RunSummary{RunID: runID, Counts: make(map[Verdict]int)}
	for _, t := range tasks {
		s.Counts[t.Verdict]++
		s.Total++
	}
	return s
}

// Succeeded returns the number of tasks with a usable result
func (s RunSummary) Succeeded() int {
	return s.Counts[VerdictSucceeded] + s.Counts[VerdictSucceededWithWarnings]
}

// EventKind names a step reported by a driver or coordinator
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventTaskStarted  EventKind = "task_started"
	EventStateChanged EventKind = "state_changed"
	EventUnitExecuted EventKind = "unit_executed"
	EventTaskFinished EventKind = "task_finished"
	EventRunFinished  EventKind = "run_finished"
)

// Event is a progress notification emitted while a run is in flight
type Event struct {
	Kind       EventKind   `json:"kind"`
	RunID      string      `json:"run_id"`
	TaskID     string      `json:"task_id,omitempty"`
	State      DriverState `json:"state,omitempty"`
	Iteration  int         `json:"iteration"`
	FixAttempt int         `json:"fix_attempt"`
	Outcome    OutcomeKind `json:"outcome,omitempty"`
	Verdict    Verdict     `json:"verdict,omitempty"`
	Message    string      `json:"message,omitempty"`
	Time       time.Time   `json:"time"`
}
