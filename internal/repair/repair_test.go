package repair

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
)

type fakeFixer struct {
	reply string
	err   error
	got   []llm.FixRequest
}

func (f *fakeFixer) GenerateFix(_ context.Context, req llm.FixRequest) (string, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

type fakeDocs struct {
	text  string
	err   error
	calls int
}

func (d *fakeDocs) LookupDocs(context.Context, string) (string, error) {
	d.calls++
	return d.text, d.err
}

func TestProposeFix_RuntimeError(t *testing.T) {
	fixer := &fakeFixer{reply: "df = df.rename(columns={'Wage': 'wage'})"}
	lookup := &fakeDocs{text: "DataFrame.rename docs"}
	p := New(fixer, lookup, true, nil)

	unit := domain.CodeUnit{Source: "df['wage']", Provenance: domain.ProvenanceInitial}
	res := domain.ExecutionResult{Kind: domain.OutcomeRuntimeError, Traceback: "KeyError: 'wage'"}

	got, err := p.ProposeFix(context.Background(), unit, res)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceRepair, got.Provenance)
	assert.Equal(t, fixer.reply, got.Source)

	require.Len(t, fixer.got, 1)
	assert.Equal(t, "df['wage']", fixer.got[0].Code)
	assert.Equal(t, "KeyError: 'wage'", fixer.got[0].ErrorSignal)
	assert.Equal(t, "DataFrame.rename docs", fixer.got[0].DocContext)
}

func TestProposeFix_DocAssistDisabled(t *testing.T) {
	fixer := &fakeFixer{reply: "x"}
	lookup := &fakeDocs{text: "docs"}
	p := New(fixer, lookup, false, nil)

	_, err := p.ProposeFix(context.Background(), domain.CodeUnit{Source: "y"}, domain.ExecutionResult{Kind: domain.OutcomeTimeout})
	require.NoError(t, err)
	assert.Zero(t, lookup.calls)
	assert.Empty(t, fixer.got[0].DocContext)
}

func TestProposeFix_DocLookupFailureIsTolerated(t *testing.T) {
	fixer := &fakeFixer{reply: "x"}
	p := New(fixer, &fakeDocs{err: errors.New("index missing")}, true, nil)

	_, err := p.ProposeFix(context.Background(), domain.CodeUnit{Source: "y"}, domain.ExecutionResult{Kind: domain.OutcomeRuntimeError, ErrorMessage: "e"})
	assert.NoError(t, err)
}

func TestProposeFix_RejectsSuccess(t *testing.T) {
	p := New(&fakeFixer{reply: "x"}, nil, false, nil)
	_, err := p.ProposeFix(context.Background(), domain.CodeUnit{}, domain.ExecutionResult{Kind: domain.OutcomeSuccess})
	assert.True(t, errors.Is(err, ErrNotRepairable))
}

func TestProposeFix_EmptyReply(t *testing.T) {
	p := New(&fakeFixer{reply: "  \n"}, nil, false, nil)
	_, err := p.ProposeFix(context.Background(), domain.CodeUnit{Source: "y"}, domain.ExecutionResult{Kind: domain.OutcomeDegenerate})
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}

func TestSignal(t *testing.T) {
	deg := Signal(domain.ExecutionResult{Kind: domain.OutcomeDegenerate, Output: "loaded"})
	assert.Contains(t, deg, "without crashing")
	assert.Contains(t, deg, "Output was:\nloaded")

	empty := Signal(domain.ExecutionResult{Kind: domain.OutcomeDegenerate})
	assert.True(t, strings.HasSuffix(empty, "The cell printed nothing."))

	to := Signal(domain.ExecutionResult{Kind: domain.OutcomeTimeout, Output: "iter 99"})
	assert.Contains(t, to, "iter 99")

	rt := Signal(domain.ExecutionResult{Kind: domain.OutcomeRuntimeError, ErrorMessage: "ZeroDivisionError"})
	assert.Equal(t, "ZeroDivisionError", rt)
}
