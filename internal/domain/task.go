package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var taskIDRegex = regexp.MustCompile(`^([a-z0-9][a-z0-9_-]*)/A(\d+)$`)

// TaskID identifies an analysis task as analysis-name/A{ordinal}
type TaskID struct {
	Analysis string
	Ordinal  int
}

// ParseTaskID parses a string like "minimum-wage/A03" into a TaskID
func ParseTaskID(s string) (TaskID, error) {
	matches := taskIDRegex.FindStringSubmatch(s)
	if matches == nil {
		return TaskID{}, fmt.Errorf("invalid task ID format: %q (expected analysis/A##)", s)
	}
	ordinal, _ := strconv.Atoi(matches[2]) // regex guarantees digits
	return TaskID{Analysis: matches[1], Ordinal: ordinal}, nil
}

// String returns the canonical string representation
func (t TaskID) String() string {
	return fmt.Sprintf("%s/A%02d", t.Analysis, t.Ordinal)
}

// Proposal is the natural-language description of one candidate analysis.
// Feedback and PriorCode are only set for feedback-driven improvements.
type Proposal struct {
	Title     string `yaml:"title" json:"title"`
	Text      string `yaml:"text" json:"text"`
	Feedback  string `yaml:"feedback,omitempty" json:"feedback,omitempty"`
	PriorCode string `yaml:"-" json:"-"`
}

// String renders the proposal as a single prompt-ready block.
func (p Proposal) String() string {
	if p.Title == "" {
		return p.Text
	}
	if p.Text == "" {
		return p.Title
	}
	return p.Title + ": " + p.Text
}

// AnalysisTask is one proposal being driven to a verdict. It is mutated only
// by its driver and must be treated as read-only once Verdict is set.
type AnalysisTask struct {
	ID          TaskID
	RunID       string
	Proposal    Proposal
	Iteration   int
	FixAttempts int
	History     []CodeUnit
	Verdict     Verdict
	Reason      string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// IsTerminal returns true once a verdict has been assigned
func (t *AnalysisTask) IsTerminal() bool {
	return t.Verdict != VerdictNone
}

// Current returns the most recent code unit, or nil before the first one.
func (t *AnalysisTask) Current() *CodeUnit {
	if len(t.History) == 0 {
		return nil
	}
	return &t.History[len(t.History)-1]
}

// Append adds a new unit to the history, stamping its sequence number and
// the counters it was produced under.
func (t *AnalysisTask) Append(u CodeUnit) *CodeUnit {
	u.Seq = len(t.History) + 1
	u.Iteration = t.Iteration
	u.FixAttempt = t.FixAttempts
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	t.History = append(t.History, u)
	return &t.History[len(t.History)-1]
}

// FinalCode returns the source of the last unit that executed successfully.
func (t *AnalysisTask) FinalCode() (string, bool) {
	for i := len(t.History) - 1; i >= 0; i-- {
		u := t.History[i]
		if u.Result != nil && u.Result.Kind == OutcomeSuccess {
			return u.Source, true
		}
	}
	return "", false
}

// FixAttemptsByIteration returns the number of repair units produced within
// each iteration, keyed by iteration number.
func (t *AnalysisTask) FixAttemptsByIteration() map[int]int {
	out := make(map[int]int)
	for _, u := range t.History {
		if _, ok := out[u.Iteration]; !ok {
			out[u.Iteration] = 0
		}
		if u.Provenance == ProvenanceRepair {
			out[u.Iteration]++
		}
	}
	return out
}

// CodeUnit is one piece of generated code together with its execution
// result. Units are never edited once executed; repairs append new ones.
type CodeUnit struct {
	Seq         int
	Source      string
	Provenance  Provenance
	Iteration   int
	FixAttempt  int
	Regenerated bool
	Guidance    string
	Result      *ExecutionResult
	CreatedAt   time.Time
}

// Executed reports whether the unit has a result attached.
func (u *CodeUnit) Executed() bool {
	return u.Result != nil
}

// Artifact references a file produced by an execution, such as a plot.
type Artifact struct {
	Path      string `json:"path"`
	MediaType string `json:"media_type,omitempty"`
	Size      int64  `json:"size"`
}

// ExecutionResult is the structured output of one execution
type ExecutionResult struct {
	Kind         OutcomeKind
	Output       string
	Stderr       string
	ErrorMessage string
	Traceback    string
	Artifacts    []Artifact
	Duration     time.Duration
}

// HasError returns true if the execution reported an error or traceback
func (r *ExecutionResult) HasError() bool {
	return r.ErrorMessage != "" || r.Traceback != ""
}

// ErrorSignal returns the text a repair request should be driven by.
func (r *ExecutionResult) ErrorSignal() string {
	switch {
	case r.Traceback != "":
		return r.Traceback
	case r.ErrorMessage != "":
		return r.ErrorMessage
	default:
		return ""
	}
}
