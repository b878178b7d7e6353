// Package critique decides whether a successful analysis needs revising.
package critique

import (
	"context"
	"errors"
	"fmt"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
)

var (
	// ErrDisabled is returned when the gate is consulted with self-critique off.
	ErrDisabled = errors.New("self-critique disabled")
	// ErrNotSuccessful is returned for results that did not succeed.
	ErrNotSuccessful = errors.New("only successful results are critiqued")
)

// Review is the gate's decision for one execution
type Review struct {
	Accept   bool
	Guidance string
}

// Gate wraps a Critic with the self-critique switch.
type Gate struct {
	critic  llm.Critic
	enabled bool
}

// New creates a Gate.
func New(critic llm.Critic, enabled bool) *Gate {
	return &Gate{critic: critic, enabled: enabled && critic != nil}
}

// Enabled reports whether successful results are sent for critique.
func (g *Gate) Enabled() bool {
	return g != nil && g.enabled
}

// Review asks the critic about a successful unit.
func (g *Gate) Review(ctx context.Context, proposal domain.Proposal, unit domain.CodeUnit) (Review, error) {
	if !g.Enabled() {
		return Review{}, ErrDisabled
	}
	if unit.Result == nil || unit.Result.Kind != domain.OutcomeSuccess {
		return Review{}, ErrNotSuccessful
	}
	c, err := g.critic.Critique(ctx, llm.CritiqueRequest{
		Proposal: proposal,
		Code:     unit.Source,
		Output:   unit.Result.Output,
	})
	if err != nil {
		return Review{}, err
	}
	switch c.Decision {
	case llm.DecisionAccept:
		return Review{Accept: true}, nil
	case llm.DecisionRevise:
		return Review{Guidance: c.Guidance}, nil
	default:
		return Review{}, fmt.Errorf("unknown critique decision %q", c.Decision)
	}
}
