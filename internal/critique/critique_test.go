package critique

import (
	"context"
	"errors"
	"testing"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
)

type fakeCritic struct {
	reply llm.Critique
	err   error
	calls int
	last  llm.CritiqueRequest
}

func (f *fakeCritic) Critique(_ context.Context, req llm.CritiqueRequest) (llm.Critique, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

func successUnit() domain.CodeUnit {
	return domain.CodeUnit{
		Source: "print(model.summary())",
		Result: &domain.ExecutionResult{Kind: domain.OutcomeSuccess, Output: "coef 0.12"},
	}
}

func TestGate_Review(t *testing.T) {
	tests := []struct {
		name      string
		reply     llm.Critique
		wantAcc   bool
		wantGuide string
		wantErr   bool
	}{
		{"accept", llm.Critique{Decision: llm.DecisionAccept}, true, "", false},
		{"revise", llm.Critique{Decision: llm.DecisionRevise, Guidance: "add year FE"}, false, "add year FE", false},
		{"unknown", llm.Critique{Decision: "shrug"}, false, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			critic := &fakeCritic{reply: tt.reply}
			g := New(critic, true)
			got, err := g.Review(context.Background(), domain.Proposal{Text: "p"}, successUnit())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Review() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Accept != tt.wantAcc || got.Guidance != tt.wantGuide {
				t.Errorf("Review() = %+v", got)
			}
			if critic.last.Output != "coef 0.12" {
				t.Errorf("critic saw output %q", critic.last.Output)
			}
		})
	}
}

func TestGate_Disabled(t *testing.T) {
	critic := &fakeCritic{}
	g := New(critic, false)
	if g.Enabled() {
		t.Fatal("gate should be disabled")
	}
	if _, err := g.Review(context.Background(), domain.Proposal{}, successUnit()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Review() error = %v, want ErrDisabled", err)
	}
	if critic.calls != 0 {
		t.Errorf("critic called %d times, want 0", critic.calls)
	}
}

func TestGate_OnlySuccess(t *testing.T) {
	g := New(&fakeCritic{}, true)
	unit := domain.CodeUnit{Result: &domain.ExecutionResult{Kind: domain.OutcomeDegenerate}}
	if _, err := g.Review(context.Background(), domain.Proposal{}, unit); !errors.Is(err, ErrNotSuccessful) {
		t.Errorf("Review() error = %v, want ErrNotSuccessful", err)
	}
}

func TestGate_CriticError(t *testing.T) {
	boom := errors.New("timeout")
	g := New(&fakeCritic{err: boom}, true)
	if _, err := g.Review(context.Background(), domain.Proposal{}, successUnit()); !errors.Is(err, boom) {
		t.Errorf("Review() error = %v, want %v", err, boom)
	}
}

func TestGate_NilCriticDisables(t *testing.T) {
	if New(nil, true).Enabled() {
		t.Error("a gate without a critic cannot be enabled")
	}
	var g *Gate
	if g.Enabled() {
		t.Error("nil gate should report disabled")
	}
}
