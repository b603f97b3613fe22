// Package schedule triggers ingestion runs from cron specs.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
)

// DefaultSpecs run at 02:00 on the 1st and the 15th. Specs carry a leading
// seconds field.
var DefaultSpecs = []string{"0 0 2 1 * *", "0 0 2 15 * *"}

// Runner starts one ingestion run. *ingest.Engine satisfies it.
type Runner interface {
	StartRun(ctx context.Context, period model.Period, src collect.Source, opts ingest.RunOptions) (*model.RunReport, error)
}

// SourceFactory builds the collector for a period.
type SourceFactory func(period model.Period) (collect.Source, error)

// Scheduler fires StartRun on every cron tick. Ticks that find a run
// already active are logged and dropped.
type Scheduler struct {
	runner  Runner
	sources SourceFactory
	specs   []string
	loc     *time.Location
	now     func() time.Time

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New validates specs and returns a Scheduler. Ticks are evaluated in loc;
// nil means UTC.
func New(runner Runner, sources SourceFactory, specs []string, loc *time.Location) (*Scheduler, error) {
	if len(specs) == 0 {
		specs = DefaultSpecs
	}
	for _, spec := range specs {
		if _, err := cron.Parse(spec); err != nil {
			return nil, eris.Wrapf(err, "schedule: bad cron spec %q", spec)
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{runner: runner, sources: sources, specs: specs, loc: loc, now: time.Now}, nil
}

// Next returns the next n fire times after from across all specs, in order.
func (s *Scheduler) Next(from time.Time, n int) []time.Time {
	var out []time.Time
	cursor := from.In(s.loc)
	for len(out) < n {
		var next time.Time
		for _, spec := range s.specs {
			sched, err := cron.Parse(spec)
			if err != nil {
				continue
			}
			if t := sched.Next(cursor); !t.IsZero() && (next.IsZero() || t.Before(next)) {
				next = t
			}
		}
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}

// Run starts the cron loop and blocks until ctx is done. A tick still in
// progress is waited for before Run returns; its run sees ctx cancelled and
// aborts.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.NewWithLocation(s.loc)
	for _, spec := range s.specs {
		if err := c.AddFunc(spec, func() {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			s.wg.Add(1)
			s.mu.Unlock()
			defer s.wg.Done()
			_, _ = s.Tick(ctx, s.now())
		}); err != nil {
			return eris.Wrapf(err, "schedule: add %q", spec)
		}
	}

	log := zap.L().With(zap.String("component", "schedule"))
	log.Info("schedule: started", zap.Strings("specs", s.specs), zap.Times("next", s.Next(s.now(), 2)))
	c.Start()
	<-ctx.Done()
	c.Stop()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
	log.Info("schedule: stopped")
	return nil
}

// Tick runs ingestion for the period containing at. An overlapping run is
// not an error for the scheduler: it is logged and nil is returned with a
// nil report.
func (s *Scheduler) Tick(ctx context.Context, at time.Time) (*model.RunReport, error) {
	period := model.PeriodOf(at.In(s.loc))
	log := zap.L().With(zap.String("component", "schedule"), zap.String("period", period.String()))

	src, err := s.sources(period)
	if err != nil {
		log.Error("schedule: build sources", zap.Error(err))
		return nil, eris.Wrap(err, "schedule: build sources")
	}

	report, err := s.runner.StartRun(ctx, period, src, ingest.RunOptions{})
	switch {
	case err == nil:
		log.Info("schedule: run finished", zap.String("run_id", report.RunID), zap.Int64("processed", report.Processed()))
		return report, nil
	case errors.Is(err, model.ErrRunActive):
		log.Warn("schedule: skipped tick, a run is already active", zap.Error(err))
		return nil, nil
	default:
		log.Error("schedule: run failed", zap.Error(err))
		return report, err
	}
}
