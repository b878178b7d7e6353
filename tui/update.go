package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

const numTabs = 3

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.activeTab == 2 {
				if m.logScroll < len(m.log)-1 {
					m.logScroll++
				}
			} else if m.selectedRow < len(m.rows())-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.activeTab == 2 {
				if m.logScroll > 0 {
					m.logScroll--
				}
			} else if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % numTabs
			m.selectedRow = 0
			m.logScroll = 0
		case "c":
			m.cancelSelected()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.lastRefresh = time.Time(msg)
		return m, tickCmd()

	case EventMsg:
		m.apply(domain.Event(msg))
		return m, waitForEvent(m.events)

	case StreamClosedMsg:
		m.finished = true
		m.events = nil
		return m, nil
	}

	return m, nil
}

// rows returns the tasks selectable on the active tab.
func (m Model) rows() []*TaskView {
	if m.activeTab == 0 {
		return m.running()
	}
	return m.taskList()
}

func (m *Model) cancelSelected() {
	rows := m.rows()
	if m.canceller == nil || m.selectedRow >= len(rows) {
		return
	}
	t := rows[m.selectedRow]
	if !t.Running() {
		m.notice = fmt.Sprintf("%s already finished", t.TaskID)
		return
	}
	if m.canceller.Cancel(t.TaskID) {
		m.notice = fmt.Sprintf("cancelling %s", t.TaskID)
	} else {
		m.notice = fmt.Sprintf("%s is not running", t.TaskID)
	}
}

// apply folds one event into the task views and the log.
func (m *Model) apply(ev domain.Event) {
	m.log = append(m.log, ev)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}

	switch ev.Kind {
	case domain.EventRunStarted:
		if m.runID == "" {
			m.runID = ev.RunID
		}
		return
	case domain.EventRunFinished:
		m.finished = true
		m.summary = ev.Message
		return
	}
	if ev.TaskID == "" {
		return
	}

	t, ok := m.tasks[ev.TaskID]
	if !ok {
		t = &TaskView{TaskID: ev.TaskID, StartedAt: ev.Time}
		m.tasks[ev.TaskID] = t
		m.order = append(m.order, ev.TaskID)
	}
	t.Iteration = ev.Iteration
	t.FixAttempt = ev.FixAttempt

	switch ev.Kind {
	case domain.EventTaskStarted:
		t.Title = ev.Message
		t.StartedAt = ev.Time
	case domain.EventStateChanged:
		t.State = ev.State
	case domain.EventUnitExecuted:
		t.Units++
		t.LastOutcome = ev.Outcome
	case domain.EventTaskFinished:
		t.State = domain.StateDone
		t.Verdict = ev.Verdict
		t.Reason = ev.Message
		t.FinishedAt = ev.Time
	}

	if n := len(m.rows()); m.selectedRow >= n && n > 0 {
		m.selectedRow = n - 1
	}
}
