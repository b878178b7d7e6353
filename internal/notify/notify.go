// Package notify announces finished runs on the desktop and in Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title    string
	Message  string
	Type     NotificationType
	RunID    string // Optional run reference
	Analysis string
	// Verdicts counts finished tasks per verdict; only set for run summaries.
	Verdicts map[domain.Verdict]int
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// New builds the notifiers enabled in cfg.
func New(cfg config.NotificationsConfig) Notifier {
	var ns []Notifier
	if cfg.Desktop {
		ns = append(ns, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		ns = append(ns, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(ns) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(ns...)
}

// ForRun summarises a finished run.
func ForRun(analysis string, s domain.RunSummary) Notification {
	n := Notification{
		Title:    fmt.Sprintf("%s: %d/%d analyses succeeded", analysis, s.Succeeded(), s.Total),
		RunID:    s.RunID,
		Analysis: analysis,
		Verdicts: s.Counts,
	}
	var parts []string
	for _, v := range domain.AllVerdicts {
		if c := s.Counts[v]; c > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c, v))
		}
	}
	n.Message = strings.Join(parts, ", ")
	switch {
	case s.Total == 0:
		n.Type = NotifyInfo
		n.Message = "no analyses were run"
	case s.Succeeded() == s.Total && s.Counts[domain.VerdictSucceededWithWarnings] == 0:
		n.Type = NotifySuccess
	case s.Succeeded() == 0:
		n.Type = NotifyError
	default:
		n.Type = NotifyWarning
	}
	return n
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(context.Context, Notification) error { return nil }
