package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/janani-sekar/AEAExtensions/internal/coordinator"
	"github.com/janani-sekar/AEAExtensions/internal/domain"
)

var (
	listRun   string
	listLimit int
	showRun   string
	showFull  bool
)

const outputPreview = 1500

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, or the tasks of one run",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listRun, "run", "", "list the tasks of this run")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show the full code history of a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().StringVar(&showRun, "run", "", "run to read the task from (default: latest)")
	showCmd.Flags().BoolVar(&showFull, "full", false, "print complete output instead of a preview")
	rootCmd.AddCommand(showCmd)
}

func openReportApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(cfg, false)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openReportApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if listRun != "" {
		tasks, err := a.store.ListTasks(ctx, listRun)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tTITLE\tVERDICT\tITERATION\tFIXES\tDURATION")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				t.ID, truncate(t.Proposal.Title, 40), verdictOrDash(t.Verdict), t.Iteration, t.FixAttempts, taskDuration(t))
		}
		return nil
	}

	runs, err := a.store.ListRuns(ctx, listLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tANALYSIS\tSTATUS\tSTARTED\tSUCCEEDED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.AnalysisName, r.Status, humanize.Time(r.StartedAt), succeededColumn(ctx, a, r.ID))
	}
	return nil
}

func succeededColumn(ctx context.Context, a *app, runID string) string {
	counts, err := a.store.VerdictCounts(ctx, runID)
	if err != nil {
		return "?"
	}
	s := domain.RunSummary{Counts: counts}
	for _, n := range counts {
		s.Total += n
	}
	return fmt.Sprintf("%d/%d", s.Succeeded(), s.Total)
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := domain.ParseTaskID(args[0])
	if err != nil {
		return err
	}
	a, err := openReportApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var task *domain.AnalysisTask
	if showRun != "" {
		task, err = a.store.GetTask(cmd.Context(), showRun, id.String())
	} else {
		task, err = a.store.FindTask(cmd.Context(), id.String())
	}
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	printTask(os.Stdout, task, showFull)
	return nil
}

func printTask(w io.Writer, t *domain.AnalysisTask, full bool) {
	fmt.Fprintf(w, "Task:      %s (run %s)\n", t.ID, t.RunID)
	fmt.Fprintf(w, "Proposal:  %s\n", t.Proposal)
	if t.Proposal.Feedback != "" {
		fmt.Fprintf(w, "Feedback:  %s\n", t.Proposal.Feedback)
	}
	fmt.Fprintf(w, "Verdict:   %s\n", verdictOrDash(t.Verdict))
	if t.Reason != "" {
		fmt.Fprintf(w, "Reason:    %s\n", t.Reason)
	}
	fmt.Fprintf(w, "Iteration: %d   Fix attempts: %d   Duration: %s\n", t.Iteration, t.FixAttempts, taskDuration(t))

	for _, u := range t.History {
		fmt.Fprintf(w, "\n── unit %d · %s · iteration %d · fix %d", u.Seq, u.Provenance, u.Iteration, u.FixAttempt)
		if u.Regenerated {
			fmt.Fprint(w, " · regenerated")
		}
		if u.Result != nil {
			fmt.Fprintf(w, " → %s (%s)", u.Result.Kind, u.Result.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w)
		if u.Guidance != "" {
			fmt.Fprintf(w, "guidance: %s\n", u.Guidance)
		}
		if u.Source != "" {
			fmt.Fprintln(w, indent(u.Source))
		}
		if u.Result == nil {
			continue
		}
		if out := strings.TrimSpace(u.Result.Output); out != "" {
			fmt.Fprintln(w, "output:")
			fmt.Fprintln(w, indent(preview(out, full)))
		}
		if sig := u.Result.ErrorSignal(); sig != "" {
			fmt.Fprintln(w, "error:")
			fmt.Fprintln(w, indent(preview(sig, full)))
		}
		for _, art := range u.Result.Artifacts {
			fmt.Fprintf(w, "artifact: %s (%s)\n", art.Path, humanize.Bytes(uint64(art.Size)))
		}
	}
}

// printResult prints one line per task and where final code was written.
func printResult(w io.Writer, res *coordinator.Result, outputHome string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tTITLE\tVERDICT\tITERATION\tFIXES\tUNITS\tDURATION")
	for _, t := range res.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.ID, truncate(t.Proposal.Title, 40), verdictOrDash(t.Verdict), t.Iteration, t.FixAttempts, len(t.History), taskDuration(t))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nRun %s: %d/%d succeeded", res.RunID, res.Summary.Succeeded(), res.Summary.Total)
	if res.Summary.Succeeded() > 0 {
		fmt.Fprintf(w, "; final code in %s", outputHome)
	}
	fmt.Fprintln(w)
}

func verdictOrDash(v domain.Verdict) string {
	if v == domain.VerdictNone {
		return "-"
	}
	return string(v)
}

func taskDuration(t *domain.AnalysisTask) string {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return "-"
	}
	return t.FinishedAt.Sub(*t.StartedAt).Round(time.Second).String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func preview(s string, full bool) string {
	if full || len(s) <= outputPreview {
		return s
	}
	return s[:outputPreview] + fmt.Sprintf("\n... (%s more, use --full)", humanize.Bytes(uint64(len(s)-outputPreview)))
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}
