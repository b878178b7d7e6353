package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("255")).
		Background(lipgloss.Color("238"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
)

var tabNames = []string{"Dashboard", "Tasks", "Events"}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	status := "running"
	if m.finished {
		status = "finished"
	}
	header := fmt.Sprintf(" AEA analyses │ %s │ run %s │ Active: %d/%d │ Tasks: %d │ %s ",
		m.analysis, m.runID, len(m.running()), m.maxActive, len(m.tasks), status)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case 0:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRunning()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderVerdicts()))
		b.WriteString("\n")
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderTasks()))
		b.WriteString("\n")
	case 2:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderEvents()))
		b.WriteString("\n")
	}

	bar := " [tab] switch  [j/k] move  [c] cancel task  [q] quit "
	if m.notice != "" {
		bar += "│ " + m.notice + " "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar))
	return b.String()
}

func (m Model) renderTabs() string {
	var parts []string
	for i, name := range tabNames {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(name))
		} else {
			parts = append(parts, tabInactiveStyle.Render(name))
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderRunning() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUNNING"))
	b.WriteString("\n")

	running := m.running()
	if len(running) == 0 {
		b.WriteString(dimmedStyle.Render("  No tasks running"))
		return b.String()
	}
	now := m.now()
	for i, t := range running {
		line := fmt.Sprintf("%-22s %-28s %-11s iter %d fix %d  units %d  %s",
			t.TaskID, truncate(t.Title, 28), t.State, t.Iteration, t.FixAttempt, t.Units,
			formatDuration(t.Duration(now)))
		b.WriteString(m.styleRow(i, runningStyle.Render("● ")+line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderVerdicts() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("VERDICTS"))
	b.WriteString("\n")

	counts := m.verdictCounts()
	if len(counts) == 0 {
		b.WriteString(dimmedStyle.Render("  No tasks finished yet"))
	}
	for _, v := range sortedVerdicts(counts) {
		b.WriteString(fmt.Sprintf("  %s %d\n", verdictStyle(v).Render(fmt.Sprintf("%-28s", v)), counts[v]))
	}
	if m.summary != "" {
		b.WriteString("\n  ")
		b.WriteString(m.summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTasks() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TASKS"))
	b.WriteString("\n")

	tasks := m.taskList()
	if len(tasks) == 0 {
		b.WriteString(dimmedStyle.Render("  Waiting for tasks"))
		return b.String()
	}
	now := m.now()
	for i, t := range tasks {
		verdict := dimmedStyle.Render(string(t.State))
		if !t.Running() {
			verdict = verdictStyle(t.Verdict).Render(string(t.Verdict))
		}
		line := fmt.Sprintf("%-22s %-28s %-30s %s", t.TaskID, truncate(t.Title, 28), verdict, formatDuration(t.Duration(now)))
		b.WriteString(m.styleRow(i, line))
		b.WriteString("\n")
		if i == m.selectedRow && t.Reason != "" {
			b.WriteString(dimmedStyle.Render("    " + truncate(t.Reason, m.width-10)))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderEvents() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EVENTS"))
	b.WriteString("\n")

	if len(m.log) == 0 {
		b.WriteString(dimmedStyle.Render("  No events yet"))
		return b.String()
	}
	visible := m.height - 8
	if visible < 5 {
		visible = 5
	}
	start := m.logScroll
	end := start + visible
	if end > len(m.log) {
		end = len(m.log)
	}
	for _, ev := range m.log[start:end] {
		b.WriteString(formatEvent(ev))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatEvent(ev domain.Event) string {
	ts := ev.Time.Format("15:04:05")
	switch ev.Kind {
	case domain.EventStateChanged:
		return fmt.Sprintf("%s %-22s → %s", ts, ev.TaskID, ev.State)
	case domain.EventUnitExecuted:
		out := string(ev.Outcome)
		if ev.Outcome != domain.OutcomeSuccess {
			out = warningStyle.Render(out)
		}
		return fmt.Sprintf("%s %-22s executed: %s", ts, ev.TaskID, out)
	case domain.EventTaskFinished:
		return fmt.Sprintf("%s %-22s %s", ts, ev.TaskID, verdictStyle(ev.Verdict).Render(string(ev.Verdict)))
	default:
		line := fmt.Sprintf("%s %-22s %s", ts, ev.TaskID, ev.Kind)
		if ev.Message != "" {
			line += " " + ev.Message
		}
		return line
	}
}

func (m Model) styleRow(i int, line string) string {
	if i == m.selectedRow {
		return selectedStyle.Render("> " + line)
	}
	return "  " + line
}

func (m Model) now() time.Time {
	if m.lastRefresh.IsZero() {
		return time.Now()
	}
	return m.lastRefresh
}

func verdictStyle(v domain.Verdict) lipgloss.Style {
	switch v {
	case domain.VerdictSucceeded:
		return runningStyle
	case domain.VerdictSucceededWithWarnings:
		return warningStyle
	case domain.VerdictFailedExhaustedFixes, domain.VerdictFailedExhaustedIterations, domain.VerdictAborted:
		return failedStyle
	default:
		return dimmedStyle
	}
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
