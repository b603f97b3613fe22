package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge snapshots older than the retention horizon",
	Long:  "Deletes snapshots for periods before the cutoff. The cutoff defaults to the one the next run would use; --cutoff or --retention-days override it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cutoffFlag, _ := cmd.Flags().GetString("cutoff")
		days, _ := cmd.Flags().GetInt("retention-days")
		if days <= 0 {
			days = cfg.Ingest.RetentionDays
		}
		cutoff, err := cleanupCutoff(cutoffFlag, days, time.Now())
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng := ingest.New(st, engineConfig(cfg.Ingest))
		report, err := eng.Cleanup(ctx, cutoff, ingest.RunOptions{Force: force})
		if err != nil {
			return err
		}
		zap.L().Info("cleanup complete", zap.String("cutoff", cutoff.String()), zap.Int64("purged", report.Purged))
		fmt.Fprintf(os.Stdout, "purged %d snapshots before %s\n", report.Purged, cutoff)
		return nil
	},
}

// cleanupCutoff resolves an explicit YYYY-MM cutoff, or derives one from the
// retention horizon relative to the current period.
func cleanupCutoff(flag string, days int, now time.Time) (model.Period, error) {
	if flag != "" {
		p, err := model.ParsePeriod(flag)
		if err != nil {
			return model.Period{}, eris.Wrapf(err, "invalid cutoff %q", flag)
		}
		return p, nil
	}
	return ingest.RetentionCutoff(model.PeriodOf(now.UTC()), days), nil
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "List or delete companies with no snapshots and no contacts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		apply, _ := cmd.Flags().GetBool("apply")
		limit, _ := cmd.Flags().GetInt("limit")
		force, _ := cmd.Flags().GetBool("force")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eng := ingest.New(st, engineConfig(cfg.Ingest))
		orphans, deleted, err := eng.CollectGarbage(ctx, apply, limit, ingest.RunOptions{Force: force})
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Fprintln(os.Stderr, "No orphaned companies.")
			return nil
		}
		formatCompanies(os.Stdout, orphans)
		if apply {
			fmt.Fprintf(os.Stdout, "deleted %d companies\n", deleted)
		} else {
			fmt.Fprintln(os.Stderr, "Dry run; pass --apply to delete.")
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().String("cutoff", "", "purge periods before this YYYY-MM")
	cleanupCmd.Flags().Int("retention-days", 0, "retention horizon in days (default from config)")
	cleanupCmd.Flags().Bool("force", false, "break an existing run lock")

	gcCmd.Flags().Bool("apply", false, "delete the listed companies")
	gcCmd.Flags().Int("limit", 500, "max companies to consider")
	gcCmd.Flags().Bool("force", false, "break an existing run lock")

	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(migrateCmd)
}
