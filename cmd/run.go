package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/metrics"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion pass for a period",
	Long:  "Collects every configured source for the period, upserts the observations, records snapshots and purges snapshots past the retention horizon.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if f, _ := cmd.Flags().GetString("sources"); f != "" {
			cfg.Collect.SourcesFile = f
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		periodFlag, _ := cmd.Flags().GetString("period")
		period, err := periodArg(periodFlag, time.Now())
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src, err := sourceFactory(cfg.Collect.SourcesFile, collect.Deps{Notion: initNotion()})(period)
		if err != nil {
			return eris.Wrap(err, "run: build sources")
		}

		report, runErr := runOnce(ctx, st, period, src, ingest.RunOptions{Force: force})
		if report != nil {
			if err := writeJSON(os.Stdout, report); err != nil {
				return err
			}
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().String("period", "", "period to ingest as YYYY-MM (default: current month)")
	runCmd.Flags().Bool("force", false, "break an existing run lock")
	runCmd.Flags().String("sources", "", "sources file (default from config)")
	rootCmd.AddCommand(runCmd)
}

func runOnce(ctx context.Context, st store.Store, period model.Period, src collect.Source, opts ingest.RunOptions) (*model.RunReport, error) {
	eng := ingest.New(st, engineConfig(cfg.Ingest), ingest.WithObserver(metrics.New()))
	report, err := eng.StartRun(ctx, period, src, opts)
	if err != nil {
		zap.L().Error("run failed", zap.String("period", period.String()), zap.Error(err))
		return report, err
	}
	zap.L().Info("run complete",
		zap.String("run_id", report.RunID),
		zap.Int64("created", report.Created),
		zap.Int64("merged", report.Merged),
		zap.Int64("skipped", report.Skipped()),
		zap.Int64("purged", report.Purged),
	)
	return report, nil
}

// periodArg parses a YYYY-MM flag, defaulting to the period containing now.
func periodArg(s string, now time.Time) (model.Period, error) {
	if s == "" {
		return model.PeriodOf(now.UTC()), nil
	}
	p, err := model.ParsePeriod(s)
	if err != nil {
		return model.Period{}, eris.Wrapf(err, "invalid period %q", s)
	}
	return p, nil
}
