package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/janani-sekar/AEAExtensions/internal/batch"
	"github.com/janani-sekar/AEAExtensions/internal/config"
)

var (
	scheduleFile string
	scheduleList bool
)

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run analysis batches on cron schedules",
		Long: `schedule reads [[batch]] entries from a TOML file and starts each batch
whenever its cron expression comes due. It runs until interrupted.`,
		RunE: runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleFile, "file", "", "batch file (default ~/.config/aea-agent/batches.toml)")
	scheduleCmd.Flags().BoolVar(&scheduleList, "list", false, "print the batches and their next run, then exit")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	path := scheduleFile
	if path == "" {
		path = filepath.Join(filepath.Dir(config.DefaultConfigPath()), "batches.toml")
	}
	sc, err := batch.LoadScheduleConfig(config.ExpandPath(path))
	if err != nil {
		return err
	}
	if len(sc.Batches) == 0 {
		return fmt.Errorf("no batches configured in %s", path)
	}

	a, err := openReportApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := batch.NewScheduler(sc.Batches, a.logger)
	if err != nil {
		return err
	}

	if scheduleList {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BATCH\tCRON\tDATA\tNEXT RUN")
		for _, name := range sched.ListBatches() {
			bc, _ := sched.GetConfig(name)
			next := sched.NextRun(name)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s (%s)\n", name, bc.Cron, bc.DataPath, next.Format("2006-01-02 15:04"), humanize.Time(next))
		}
		return w.Flush()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("scheduler started", zap.Strings("batches", sched.ListBatches()))
	sched.Start(ctx, a.runBatch)
	return nil
}

// runBatch runs one scheduled batch like `aea-agent run`.
func (a *app) runBatch(ctx context.Context, bc batch.BatchConfig) error {
	n := bc.NumAnalyses
	if n == 0 {
		n = a.cfg.General.NumAnalyses
	}
	res, err := a.analyze(ctx, analyzeRequest{
		AnalysisName: bc.AnalysisName,
		DataPath:     bc.DataPath,
		PaperSummary: bc.PaperSummary,
		Proposals:    bc.Proposals,
		NumAnalyses:  n,
		Surface:      surface{notify: bc.Notify},
	})
	if res != nil {
		a.logger.Info("batch summary",
			zap.String("batch", bc.Name),
			zap.String("run", res.RunID),
			zap.Int("succeeded", res.Summary.Succeeded()),
			zap.Int("total", res.Summary.Total))
	}
	return err
}
