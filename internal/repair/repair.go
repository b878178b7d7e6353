// Package repair turns a failed execution into a revised code unit.
package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/classifier"
	"github.com/janani-sekar/AEAExtensions/internal/docs"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
)

// ErrNotRepairable is returned for results that did not fail.
var ErrNotRepairable = errors.New("outcome is not repairable")

// maxOutputInSignal bounds how much of a degenerate run's output is quoted
// back in the repair request.
const maxOutputInSignal = 2000

// Proposer asks the generation service for a fix. It never executes code.
type Proposer struct {
	fixes     llm.FixGenerator
	docs      docs.Lookup
	docAssist bool
	logger    *zap.Logger
}

// New creates a Proposer. lookup may be nil; it is only consulted when
// docAssist is set.
func New(fixes llm.FixGenerator, lookup docs.Lookup, docAssist bool, logger *zap.Logger) *Proposer {
	if lookup == nil {
		lookup = docs.None{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proposer{fixes: fixes, docs: lookup, docAssist: docAssist, logger: logger}
}

// ProposeFix returns a new unit with provenance repair for a unit whose
// result is a runtime error, degenerate output or a timeout.
func (p *Proposer) ProposeFix(ctx context.Context, unit domain.CodeUnit, result domain.ExecutionResult) (domain.CodeUnit, error) {
	if !result.Kind.IsFailure() {
		return domain.CodeUnit{}, fmt.Errorf("%w: %s", ErrNotRepairable, result.Kind)
	}

	signal := Signal(result)
	req := llm.FixRequest{
		Code:        unit.Source,
		Kind:        result.Kind,
		ErrorSignal: signal,
	}

	if p.docAssist {
		ctxDocs, err := p.docs.LookupDocs(ctx, signal)
		switch {
		case err != nil && ctx.Err() != nil:
			return domain.CodeUnit{}, ctx.Err()
		case err != nil:
			p.logger.Warn("documentation lookup failed", zap.Error(err))
		default:
			req.DocContext = ctxDocs
		}
	}

	src, err := p.fixes.GenerateFix(ctx, req)
	if err != nil {
		return domain.CodeUnit{}, err
	}
	if strings.TrimSpace(src) == "" {
		return domain.CodeUnit{}, llm.ErrEmptyResponse
	}
	return domain.CodeUnit{
		Source:     src,
		Provenance: domain.ProvenanceRepair,
	}, nil
}

// Signal builds the error description sent with a repair request. For a
// degenerate result it explains that nothing crashed and quotes the output.
func Signal(result domain.ExecutionResult) string {
	reason := classifier.Reason(result.Kind, result)
	switch result.Kind {
	case domain.OutcomeDegenerate:
		out := strings.TrimSpace(result.Output)
		if out == "" {
			return reason + "\nThe cell printed nothing."
		}
		if len(out) > maxOutputInSignal {
			out = out[:maxOutputInSignal] + "..."
		}
		return reason + "\nOutput was:\n" + out
	case domain.OutcomeTimeout:
		if tail := strings.TrimSpace(result.Output); tail != "" {
			if len(tail) > maxOutputInSignal {
				tail = tail[len(tail)-maxOutputInSignal:]
			}
			return reason + "\nLast output before the interrupt:\n" + tail
		}
		return reason
	default:
		return reason
	}
}
