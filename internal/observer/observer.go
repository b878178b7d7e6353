// Package observer folds driver events into live task status and metrics.
package observer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// Observer tracks running tasks and collects metrics from progress events
type Observer struct {
	stuckThreshold time.Duration
	now            func() time.Time

	running     map[string]*TaskStatus
	completions []completion
	outcomes    map[domain.OutcomeKind]int
	mu          sync.RWMutex
}

// TaskStatus is the live view of one running task
type TaskStatus struct {
	TaskID      string             `json:"task_id"`
	RunID       string             `json:"run_id"`
	Title       string             `json:"title,omitempty"`
	State       domain.DriverState `json:"state"`
	Iteration   int                `json:"iteration"`
	FixAttempt  int                `json:"fix_attempt"`
	Units       int                `json:"units"`
	LastOutcome domain.OutcomeKind `json:"last_outcome,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type completion struct {
	TaskID      string
	Verdict     domain.Verdict
	Duration    time.Duration
	Iterations  int
	CompletedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalCompleted int                        `json:"total_completed"`
	Succeeded      int                        `json:"succeeded"`
	Running        int                        `json:"running"`
	UnitsExecuted  int                        `json:"units_executed"`
	Verdicts       map[domain.Verdict]int     `json:"verdicts"`
	Outcomes       map[domain.OutcomeKind]int `json:"outcomes"`
	AvgDuration    time.Duration              `json:"avg_duration"`
	AvgIterations  float64                    `json:"avg_iterations"`
}

// New creates a new Observer
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		now:            time.Now,
		running:        make(map[string]*TaskStatus),
		outcomes:       make(map[domain.OutcomeKind]int),
	}
}

// Record applies one event
func (o *Observer) Record(ev domain.Event) {
	if ev.TaskID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	at := ev.Time
	if at.IsZero() {
		at = o.now()
	}
	st, ok := o.running[ev.TaskID]
	if !ok && ev.Kind != domain.EventTaskFinished {
		st = &TaskStatus{TaskID: ev.TaskID, RunID: ev.RunID, StartedAt: at}
		o.running[ev.TaskID] = st
	}

	switch ev.Kind {
	case domain.EventTaskStarted:
		st.Title = ev.Message
	case domain.EventStateChanged:
		st.State = ev.State
	case domain.EventUnitExecuted:
		st.Units++
		st.LastOutcome = ev.Outcome
		o.outcomes[ev.Outcome]++
	case domain.EventTaskFinished:
		c := completion{
			TaskID:      ev.TaskID,
			Verdict:     ev.Verdict,
			Iterations:  ev.Iteration,
			CompletedAt: at,
		}
		if st != nil {
			c.Duration = at.Sub(st.StartedAt)
		}
		o.completions = append(o.completions, c)
		delete(o.running, ev.TaskID)
		return
	case domain.EventRunStarted, domain.EventRunFinished:
	}
	st.Iteration = ev.Iteration
	st.FixAttempt = ev.FixAttempt
	st.UpdatedAt = at
}

// Watch records events from ch until it closes or ctx is done.
func (o *Observer) Watch(ctx context.Context, ch <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o.Record(ev)
		}
	}
}

// IsStuck returns true if a task has made no progress for the threshold
func (o *Observer) IsStuck(taskID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.running[taskID]
	if !ok {
		return false
	}
	return o.now().Sub(st.UpdatedAt) > o.stuckThreshold
}

// Stuck lists running tasks that have made no progress for the threshold
func (o *Observer) Stuck() []string {
	var ids []string
	for _, st := range o.Running() {
		if o.IsStuck(st.TaskID) {
			ids = append(ids, st.TaskID)
		}
	}
	return ids
}

// Running returns a snapshot of running tasks ordered by task ID
func (o *Observer) Running() []TaskStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]TaskStatus, 0, len(o.running))
	for _, st := range o.running {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := Metrics{
		Running:  len(o.running),
		Verdicts: make(map[domain.Verdict]int),
		Outcomes: make(map[domain.OutcomeKind]int),
	}
	var totalDuration time.Duration
	var totalIterations int

	for _, c := range o.completions {
		metrics.TotalCompleted++
		metrics.Verdicts[c.Verdict]++
		if c.Verdict.Succeeded() {
			metrics.Succeeded++
		}
		totalDuration += c.Duration
		totalIterations += c.Iterations
	}
	for k, n := range o.outcomes {
		metrics.Outcomes[k] = n
		metrics.UnitsExecuted += n
	}

	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalCompleted)
		metrics.AvgIterations = float64(totalIterations) / float64(metrics.TotalCompleted)
	}

	return metrics
}

// GetRecentCompletions returns tasks completed within the last duration
func (o *Observer) GetRecentCompletions(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := o.now().Add(-since)
	var result []string

	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.TaskID)
		}
	}

	return result
}
