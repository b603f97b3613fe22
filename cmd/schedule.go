package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/metrics"
	"github.com/sells-group/leadtool/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run ingestion on the configured cron schedule",
	Long:  "Blocks and starts a run for the current period at every cron tick. Ticks that find a run in progress are skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng := ingest.New(st, engineConfig(cfg.Ingest), ingest.WithObserver(metrics.New()))
		sched, err := schedule.New(eng, sourceFactory(cfg.Collect.SourcesFile, collect.Deps{Notion: initNotion()}), cfg.Schedule.Specs, time.UTC)
		if err != nil {
			return err
		}
		return sched.Run(ctx)
	},
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the next scheduled run times",
	RunE: func(cmd *cobra.Command, _ []string) error {
		n, _ := cmd.Flags().GetInt("count")
		sched, err := schedule.New(nil, nil, cfg.Schedule.Specs, time.UTC)
		if err != nil {
			return err
		}
		for _, t := range sched.Next(time.Now(), n) {
			fmt.Fprintln(os.Stdout, t.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	scheduleNextCmd.Flags().Int("count", 5, "number of upcoming run times to print")
	scheduleCmd.AddCommand(scheduleNextCmd)
	rootCmd.AddCommand(scheduleCmd)
}
