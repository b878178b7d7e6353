package domain

// OutcomeKind classifies a single execution of a code unit
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeRuntimeError OutcomeKind = "runtime-error"
	OutcomeDegenerate   OutcomeKind = "degenerate"
	OutcomeTimeout      OutcomeKind = "timeout"
)

// Valid reports whether k is one of the known outcome kinds.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeSuccess, OutcomeRuntimeError, OutcomeDegenerate, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the outcome is eligible for repair.
func (k OutcomeKind) IsFailure() bool {
	switch k {
	case OutcomeRuntimeError, OutcomeDegenerate, OutcomeTimeout:
		return true
	case OutcomeSuccess:
		return false
	default:
		return false
	}
}

// Verdict is the terminal judgement for an analysis task
type Verdict string

const (
	VerdictNone                      Verdict = ""
	VerdictSucceeded                 Verdict = "succeeded"
	VerdictSucceededWithWarnings     Verdict = "succeeded-with-warnings"
	VerdictFailedExhaustedFixes      Verdict = "failed-exhausted-fixes"
	VerdictFailedExhaustedIterations Verdict = "failed-exhausted-iterations"
	VerdictAborted                   Verdict = "aborted"
)

// AllVerdicts lists the terminal verdicts in reporting order.
var AllVerdicts = []Verdict{
	VerdictSucceeded,
	VerdictSucceededWithWarnings,
	VerdictFailedExhaustedFixes,
	VerdictFailedExhaustedIterations,
	VerdictAborted,
}

// ParseVerdict converts a stored string back to a Verdict.
func ParseVerdict(s string) (Verdict, bool) {
	for _, v := range AllVerdicts {
		if string(v) == s {
			return v, true
		}
	}
	return VerdictNone, s == ""
}

// Succeeded reports whether the analysis produced a usable result.
func (v Verdict) Succeeded() bool {
	switch v {
	case VerdictSucceeded, VerdictSucceededWithWarnings:
		return true
	case VerdictNone, VerdictFailedExhaustedFixes, VerdictFailedExhaustedIterations, VerdictAborted:
		return false
	default:
		return false
	}
}

// Provenance records why a code unit was produced
type Provenance string

const (
	ProvenanceInitial          Provenance = "initial-proposal"
	ProvenanceRepair           Provenance = "repair"
	ProvenanceCritiqueRevision Provenance = "critique-revision"
)

// StartsIteration reports whether a unit with this provenance opens a new
// iteration. Repairs stay within the iteration of the unit they fix.
func (p Provenance) StartsIteration() bool {
	switch p {
	case ProvenanceInitial, ProvenanceCritiqueRevision:
		return true
	case ProvenanceRepair:
		return false
	default:
		return false
	}
}

// DriverState is a state of the per-task analysis state machine
type DriverState string

const (
	StateProposing  DriverState = "PROPOSING"
	StateExecuting  DriverState = "EXECUTING"
	StateRepairing  DriverState = "REPAIRING"
	StateCritiquing DriverState = "CRITIQUING"
	StateDone       DriverState = "DONE"
)

// RunStatus represents the lifecycle of a whole coordinator run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)
