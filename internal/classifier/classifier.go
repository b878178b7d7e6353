// Package classifier turns raw execution output into an outcome kind.
package classifier

import (
	"regexp"
	"strings"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// DefaultMinOutputBytes is the output size below which a clean run with no
// artifacts is considered degenerate.
const DefaultMinOutputBytes = 16

var numericToken = regexp.MustCompile(`[-+]?(?:\d+\.\d*|\.\d+|\d+)(?:[eE][-+]?\d+)?`)

// Classifier is a pure function of an ExecutionResult.
type Classifier struct {
	MinOutputBytes int
}

// New returns a Classifier with the given degenerate-output threshold.
func New(minOutputBytes int) Classifier {
	if minOutputBytes <= 0 {
		minOutputBytes = DefaultMinOutputBytes
	}
	return Classifier{MinOutputBytes: minOutputBytes}
}

// Classify decides the outcome of one execution. A timeout recorded by the
// sandbox wins over everything else. Any error signal is a runtime error.
// A clean run is degenerate when it produced no artifact and either printed
// less than MinOutputBytes or printed no numeric result at all.
func (c Classifier) Classify(r domain.ExecutionResult) domain.OutcomeKind {
	if r.Kind == domain.OutcomeTimeout {
		return domain.OutcomeTimeout
	}
	if r.HasError() {
		return domain.OutcomeRuntimeError
	}
	if len(r.Artifacts) > 0 {
		return domain.OutcomeSuccess
	}
	out := strings.TrimSpace(r.Output)
	if len(out) < c.min() || !numericToken.MatchString(out) {
		return domain.OutcomeDegenerate
	}
	return domain.OutcomeSuccess
}

func (c Classifier) min() int {
	if c.MinOutputBytes <= 0 {
		return DefaultMinOutputBytes
	}
	return c.MinOutputBytes
}

// Reason gives a short human description of why r received kind k, used to
// brief the repair request when there is no traceback.
func Reason(k domain.OutcomeKind, r domain.ExecutionResult) string {
	switch k {
	case domain.OutcomeTimeout:
		return "execution exceeded its time limit and was interrupted"
	case domain.OutcomeRuntimeError:
		return r.ErrorSignal()
	case domain.OutcomeDegenerate:
		return "the code ran without crashing but produced no usable result: no numeric output and no artifacts"
	case domain.OutcomeSuccess:
		return ""
	default:
		return ""
	}
}
