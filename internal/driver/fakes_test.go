package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
	"github.com/janani-sekar/AEAExtensions/internal/llm"
)

var errUnscripted = errors.New("fake called more often than scripted")

// reply is one scripted response from a fake capability.
type reply struct {
	text string
	err  error
	// block makes the call wait for its context instead of answering.
	block bool
}

func answer(ctx context.Context, r reply) (string, error) {
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	replies []reply
	reqs    []llm.CodeRequest
}

func (f *fakeGenerator) GenerateCode(ctx context.Context, req llm.CodeRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	if len(f.replies) == 0 {
		f.mu.Unlock()
		return "", errUnscripted
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	f.mu.Unlock()
	return answer(ctx, r)
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeFixer struct {
	mu      sync.Mutex
	replies []reply
	reqs    []llm.FixRequest
}

func (f *fakeFixer) GenerateFix(ctx context.Context, req llm.FixRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	if len(f.replies) == 0 {
		f.mu.Unlock()
		return "", errUnscripted
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	f.mu.Unlock()
	return answer(ctx, r)
}

func (f *fakeFixer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeCritic struct {
	mu      sync.Mutex
	replies []llm.Critique
	errs    []error
	n       int
}

func (f *fakeCritic) Critique(_ context.Context, _ llm.CritiqueRequest) (llm.Critique, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.Critique{}, f.errs[i]
	}
	if i >= len(f.replies) {
		return llm.Critique{}, errUnscripted
	}
	return f.replies[i], nil
}

func (f *fakeCritic) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// step is one scripted execution.
type step struct {
	res domain.ExecutionResult
	err error
	// retire marks the session unusable after this step.
	retire bool
}

type fakeSession struct {
	mu       sync.Mutex
	steps    []step
	executed []string
	usable   bool
	closed   int
}

func newSession(steps ...step) *fakeSession {
	return &fakeSession{steps: steps, usable: true}
}

func (s *fakeSession) Execute(_ context.Context, code string, _ time.Duration) (domain.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, code)
	if len(s.steps) == 0 {
		return domain.ExecutionResult{}, errUnscripted
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.retire {
		s.usable = false
	}
	return st.res, st.err
}

func (s *fakeSession) Usable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usable
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.usable = false
	return nil
}

func ok() step {
	return step{res: domain.ExecutionResult{Output: "coefficient on treatment: 0.123 (se 0.041)"}}
}

func crash(msg string) step {
	return step{res: domain.ExecutionResult{ErrorMessage: msg, Traceback: "Traceback (most recent call last):\n" + msg}}
}

func degenerate() step {
	return step{res: domain.ExecutionResult{Output: "done"}}
}

func overrun(retire bool) step {
	return step{res: domain.ExecutionResult{Kind: domain.OutcomeTimeout, ErrorMessage: "execution exceeded 1s"}, retire: retire}
}

func texts(ss ...string) []reply {
	out := make([]reply, len(ss))
	for i, s := range ss {
		out[i] = reply{text: s}
	}
	return out
}

// eventLog collects emitted events.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) record(ev domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []domain.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}
