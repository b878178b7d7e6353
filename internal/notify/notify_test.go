package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/janani-sekar/AEAExtensions/internal/config"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	summary := domain.Summarize("r1", []*domain.AnalysisTask{
		{Verdict: domain.VerdictSucceeded},
		{Verdict: domain.VerdictSucceeded},
		{Verdict: domain.VerdictSucceededWithWarnings},
		{Verdict: domain.VerdictAborted},
	})
	notifier := NewSlackNotifier(server.URL)
	if err := notifier.Send(context.Background(), ForRun("card-krueger", summary)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.Text != "card-krueger: 3/4 analyses succeeded" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("Attachments = %+v", got.Attachments)
	}
	att := got.Attachments[0]
	if att.Title != "card-krueger (run r1)" || att.Color != "warning" {
		t.Errorf("Attachment = %+v", att)
	}
	want := []SlackField{
		{Title: string(domain.VerdictSucceeded), Value: "2", Short: true},
		{Title: string(domain.VerdictSucceededWithWarnings), Value: "1", Short: true},
		{Title: string(domain.VerdictAborted), Value: "1", Short: true},
	}
	if len(att.Fields) != len(want) {
		t.Fatalf("Fields = %+v, want %+v", att.Fields, want)
	}
	for i := range want {
		if att.Fields[i] != want[i] {
			t.Errorf("Fields[%d] = %+v, want %+v", i, att.Fields[i], want[i])
		}
	}
	if att.Text != "" || !strings.Contains(att.Fallback, "2 succeeded") {
		t.Errorf("Text = %q, Fallback = %q", att.Text, att.Fallback)
	}
}

func TestSlackMessage_PlainNotification(t *testing.T) {
	msg := slackMessage(Notification{Title: "batch nightly failed", Message: "data file missing", Type: NotifyError})
	att := msg.Attachments[0]
	if att.Text != "data file missing" || att.Title != "" || len(att.Fields) != 0 || att.Color != "danger" {
		t.Errorf("Attachment = %+v", att)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(context.Background(), Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("Send() error = %v, want a 403 error", err)
	}
	if err := NewSlackNotifier("").Send(context.Background(), Notification{}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestForRun(t *testing.T) {
	tests := []struct {
		name     string
		counts   map[domain.Verdict]int
		wantType NotificationType
		wantMsg  string
	}{
		{"all clean", map[domain.Verdict]int{domain.VerdictSucceeded: 2}, NotifySuccess, "2 succeeded"},
		{"warnings", map[domain.Verdict]int{domain.VerdictSucceeded: 1, domain.VerdictSucceededWithWarnings: 1}, NotifyWarning, "1 succeeded, 1 succeeded-with-warnings"},
		{"none", map[domain.Verdict]int{domain.VerdictAborted: 1, domain.VerdictFailedExhaustedFixes: 2}, NotifyError, "2 failed-exhausted-fixes, 1 aborted"},
		{"empty", map[domain.Verdict]int{}, NotifyInfo, "no analyses were run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.RunSummary{RunID: "r", Counts: tt.counts}
			for _, c := range tt.counts {
				s.Total += c
			}
			n := ForRun("study", s)
			if n.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", n.Type, tt.wantType)
			}
			if n.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", n.Message, tt.wantMsg)
			}
			if n.RunID != "r" {
				t.Errorf("RunID = %q", n.RunID)
			}
		})
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string
	boom := errors.New("boom")

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called, err: boom}

	multi := NewMultiNotifier(mock1, mock2)
	err := multi.Send(context.Background(), Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want boom", err)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New(config.NotificationsConfig{}).(NoopNotifier); !ok {
		t.Error("no channels configured should give a NoopNotifier")
	}
	if _, ok := New(config.NotificationsConfig{Desktop: true, SlackWebhook: "http://x"}).(*MultiNotifier); !ok {
		t.Error("configured channels should give a MultiNotifier")
	}
}

func TestDesktopCommand(t *testing.T) {
	n := Notification{Title: `say "hi"`, Message: "done", Type: NotifyError}

	name, args := desktopCommand("darwin", n)
	if name != "osascript" || !strings.Contains(args[1], `with title "say \"hi\""`) {
		t.Errorf("darwin command = %s %v", name, args)
	}
	name, args = desktopCommand("linux", n)
	if name != "notify-send" || args[1] != "dialog-error" {
		t.Errorf("linux command = %s %v", name, args)
	}
	if name, _ := desktopCommand("plan9", n); name != "" {
		t.Errorf("unsupported OS should give no command, got %s", name)
	}
}

func TestDesktopNotifier_UsesCommand(t *testing.T) {
	var ran string
	d := NewDesktopNotifier(true)
	d.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		ran = name
		return exec.CommandContext(ctx, "true")
	}
	if err := d.Send(context.Background(), Notification{Title: "t"}); err != nil {
		t.Skipf("no `true` binary: %v", err)
	}
	if ran == "" {
		t.Skip("desktop notifications unsupported on this OS")
	}

	off := NewDesktopNotifier(false)
	off.command = func(context.Context, string, ...string) *exec.Cmd {
		t.Error("disabled notifier must not run a command")
		return exec.Command("true")
	}
	_ = off.Send(context.Background(), Notification{})
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(_ context.Context, n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}
