// Package tui renders a live terminal dashboard for an analysis run.
package tui

import (
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

const maxLogLines = 200

// Canceller stops a running task by ID
type Canceller interface {
	Cancel(taskID string) bool
}

// Model is the TUI application model
type Model struct {
	// Data
	runID    string
	analysis string
	tasks    map[string]*TaskView
	order    []string
	log      []domain.Event
	finished bool
	summary  string

	// Wiring
	events    <-chan domain.Event
	canceller Canceller

	// Stats
	maxActive int

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	logScroll   int
	notice      string

	// Refresh
	lastRefresh time.Time
}

// TaskView is one task as shown in the dashboard
type TaskView struct {
	TaskID      string
	Title       string
	State       domain.DriverState
	Iteration   int
	FixAttempt  int
	Units       int
	LastOutcome domain.OutcomeKind
	Verdict     domain.Verdict
	Reason      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Running reports whether the task has not reached a verdict yet
func (t *TaskView) Running() bool {
	return t.Verdict == domain.VerdictNone
}

// Duration returns the elapsed time, frozen once the task finishes.
func (t *TaskView) Duration(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if !t.FinishedAt.IsZero() {
		return t.FinishedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	RunID     string
	Analysis  string
	MaxActive int
	Events    <-chan domain.Event
	Canceller Canceller
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		runID:     cfg.RunID,
		analysis:  cfg.Analysis,
		maxActive: cfg.MaxActive,
		tasks:     make(map[string]*TaskView),
		events:    cfg.Events,
		canceller: cfg.Canceller,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitForEvent(m.events),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// EventMsg carries one progress event
type EventMsg domain.Event

// StreamClosedMsg is sent once the event stream ends
type StreamClosedMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForEvent(ch <-chan domain.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg(ev)
	}
}

// taskList returns tasks in the order they started.
func (m Model) taskList() []*TaskView {
	out := make([]*TaskView, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id])
	}
	return out
}

func (m Model) running() []*TaskView {
	var out []*TaskView
	for _, t := range m.taskList() {
		if t.Running() {
			out = append(out, t)
		}
	}
	return out
}

// verdictCounts tallies finished tasks by verdict.
func (m Model) verdictCounts() map[domain.Verdict]int {
	counts := make(map[domain.Verdict]int)
	for _, t := range m.tasks {
		if !t.Running() {
			counts[t.Verdict]++
		}
	}
	return counts
}

func sortedVerdicts(counts map[domain.Verdict]int) []domain.Verdict {
	var out []domain.Verdict
	for v := range counts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
