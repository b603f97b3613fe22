package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadtool/internal/api"
	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/metrics"
	"github.com/sells-group/leadtool/internal/monitoring"
	"github.com/sells-group/leadtool/internal/schedule"
)

var (
	servePort     int
	serveSchedule bool
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API, metrics and run health monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		if serveSchedule {
			if err := cfg.Validate("schedule"); err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		eng := ingest.New(st, engineConfig(cfg.Ingest), ingest.WithObserver(m))
		sources := sourceFactory(cfg.Collect.SourcesFile, collect.Deps{Notion: initNotion()})

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.New(st, api.Options{
				Launcher:       eng,
				Sources:        sources,
				Metrics:        m.Handler(),
				AllowedOrigins: cfg.Server.AllowedOrigins,
				BaseContext:    ctx,
			}).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if cfg.Monitoring.CheckIntervalSecs > 0 {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		if serveSchedule {
			sched, err := schedule.New(eng, sources, cfg.Schedule.Specs, time.UTC)
			if err != nil {
				return err
			}
			g.Go(func() error { return sched.Run(gctx) })
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run ingestion on the cron schedule")
	rootCmd.AddCommand(serveCmd)
}
