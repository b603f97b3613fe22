// Package ingest is the ingestion and versioning engine: it normalizes raw
// observations, resolves them to canonical companies and contacts, upserts
// them one transaction per record, records a snapshot per observation, and
// drives the snapshot lifecycle and retention around each run.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadtool/internal/collect"
	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/model"
	"github.com/sells-group/leadtool/internal/resilience"
	"github.com/sells-group/leadtool/internal/store"
)

var (
	errZeroCutoff = eris.New("ingest: retention cutoff is unset")
	errZeroPeriod = eris.New("ingest: run period is unset")
)

const errPeriodClash = "observation period does not match run period"

// Config tunes a run.
type Config struct {
	Workers        int
	QueueSize      int
	RecordTimeout  time.Duration
	RunTimeout     time.Duration
	RetentionDays  int
	StaleLockAfter time.Duration
	Retry          resilience.RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		RecordTimeout:  30 * time.Second,
		RunTimeout:     2 * time.Hour,
		RetentionDays:  DefaultRetentionDays,
		StaleLockAfter: 6 * time.Hour,
		Retry:          resilience.DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	return c
}

// Observer receives per-record and per-run outcomes, e.g. for metrics.
type Observer interface {
	ObserveRecord(kind model.Kind, outcome string)
	ObserveRun(report *model.RunReport, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRecord(model.Kind, string)           {}
func (nopObserver) ObserveRun(*model.RunReport, time.Duration) {}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the wall clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// RunOptions are per-invocation knobs for StartRun, Cleanup and
// CollectGarbage.
type RunOptions struct {
	// Force breaks an existing run lock regardless of its age.
	Force bool
}

// Engine runs ingestion. One Engine allows one run at a time in-process; the
// store's run lock extends that across processes.
type Engine struct {
	store     store.Store
	cfg       Config
	upserter  *Upserter
	lifecycle Lifecycle
	retention Retention
	keys      *KeyLock
	observer  Observer
	now       func() time.Time

	running sync.Mutex
}

// New builds an Engine over st.
func New(st store.Store, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		store:     st,
		cfg:       cfg,
		upserter:  NewUpserter(st, cfg.Retry),
		lifecycle: NewLifecycle(st),
		retention: NewRetention(st),
		keys:      NewKeyLock(),
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tally accumulates per-record outcomes from concurrent workers.
type tally struct {
	created    atomic.Int64
	merged     atomic.Int64
	snapshots  atomic.Int64
	validation atomic.Int64
	orphan     atomic.Int64
	transient  atomic.Int64
	abandoned  atomic.Int64
}

func (t *tally) fill(r *model.RunReport) {
	r.Created = t.created.Load()
	r.Merged = t.merged.Load()
	r.SnapshotsWritten = t.snapshots.Load()
	r.SkippedValidation = t.validation.Load()
	r.SkippedOrphan = t.orphan.Load()
	r.SkippedTransient = t.transient.Load()
	r.Abandoned = t.abandoned.Load()
}

// run carries the state of one StartRun invocation.
type run struct {
	*model.Run
	log   *zap.Logger
	tally tally

	mu       sync.Mutex
	deferred []model.Observation
}

func (r *run) deferOrphan(obs model.Observation) {
	r.mu.Lock()
	r.deferred = append(r.deferred, obs)
	r.mu.Unlock()
}

// StartRun ingests everything src yields into period. It fails fast with a
// *model.RunStateError when another run is active. Per-record failures are
// counted in the report and never abort the run; a failing lifecycle or
// retention step, a collector failure or cancellation of ctx aborts it and is
// returned together with the partial report.
func (e *Engine) StartRun(ctx context.Context, period model.Period, src collect.Source, opts RunOptions) (*model.RunReport, error) {
	r, report, err := e.begin(ctx, period, opts)
	if err != nil {
		return nil, err
	}
	return report, e.complete(ctx, r, src, report)
}

// RunResult is delivered by Launch when the background run ends.
type RunResult struct {
	Report *model.RunReport
	Err    error
}

// Launch takes the run lock synchronously and runs ingestion in the
// background. Lock conflicts are returned at once; the outcome arrives on
// the returned channel, which is closed afterwards. ctx bounds the whole
// run, so it must outlive the caller's request.
func (e *Engine) Launch(ctx context.Context, period model.Period, src collect.Source, opts RunOptions) (string, <-chan RunResult, error) {
	r, report, err := e.begin(ctx, period, opts)
	if err != nil {
		return "", nil, err
	}
	done := make(chan RunResult, 1)
	go func() {
		defer close(done)
		err := e.complete(ctx, r, src, report)
		done <- RunResult{Report: report, Err: err}
	}()
	return r.ID, done, nil
}

func (e *Engine) begin(ctx context.Context, period model.Period, opts RunOptions) (*run, *model.RunReport, error) {
	if period.IsZero() {
		return nil, nil, &model.RunStateError{Op: "start run", Err: errZeroPeriod}
	}
	r, err := e.acquire(ctx, period, opts)
	if err != nil {
		return nil, nil, err
	}
	r.log.Info("ingest: run started")
	return r, &model.RunReport{RunID: r.ID, Kind: model.RunKindIngest, Period: period, StartedAt: r.StartedAt}, nil
}

// complete runs an acquired run to its end and releases the in-process lock.
func (e *Engine) complete(ctx context.Context, r *run, src collect.Source, report *model.RunReport) error {
	defer e.running.Unlock()
	runErr := e.execute(ctx, r, src, report)
	return e.finish(ctx, r, report, runErr)
}

// acquire takes the in-process lock and then the store lock.
func (e *Engine) acquire(ctx context.Context, period model.Period, opts RunOptions) (*run, error) {
	if !e.running.TryLock() {
		return nil, &model.RunStateError{
			Op:  "start run",
			Err: eris.Wrap(model.ErrRunActive, "in this process"),
		}
	}
	mr := &model.Run{ID: uuid.NewString(), Period: period, StartedAt: e.now().UTC()}
	if err := e.store.AcquireRun(ctx, mr, store.LockOptions{StaleAfter: e.cfg.StaleLockAfter, Force: opts.Force}); err != nil {
		e.running.Unlock()
		return nil, err
	}
	return &run{
		Run: mr,
		log: zap.L().With(zap.String("run_id", mr.ID), zap.String("period", period.String())),
	}, nil
}

func (e *Engine) execute(ctx context.Context, r *run, src collect.Source, report *model.RunReport) error {
	deactivated, err := e.lifecycle.Deactivate(ctx)
	if err != nil {
		return err
	}
	report.Deactivated = deactivated

	collectErr := e.consume(ctx, r, src)
	r.tally.fill(report)

	if err := ctx.Err(); err != nil {
		return &model.RunStateError{Op: "run cancelled", Err: err}
	}
	if collectErr != nil {
		return &model.RunStateError{Op: "collect", Err: collectErr}
	}

	cutoff := RetentionCutoff(r.Period, e.cfg.RetentionDays)
	purged, err := e.retention.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	report.RetentionCutoff = cutoff
	report.Purged = purged
	return nil
}

// consume streams src through a bounded queue into the worker pool. When the
// run budget expires the collector is stopped and everything still queued
// is recorded as abandoned.
func (e *Engine) consume(ctx context.Context, r *run, src collect.Source) error {
	runCtx := ctx
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	queue := make(chan model.Observation, e.cfg.QueueSize)
	var collectErr error
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		defer close(queue)
		collectErr = src.Stream(runCtx, queue)
	}()

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for obs := range queue {
		if runCtx.Err() != nil {
			e.skip(ctx, r, obs, runCtx.Err())
			continue
		}
		g.Go(func() error {
			e.process(runCtx, r, obs, true)
			return nil
		})
	}
	_ = g.Wait()
	<-collectDone

	// Contacts whose organization arrived later in the stream get one more
	// attempt now that every organization has been applied.
	for _, obs := range r.deferred {
		if runCtx.Err() != nil {
			e.skip(ctx, r, obs, runCtx.Err())
			continue
		}
		e.process(runCtx, r, obs, false)
	}

	if collectErr != nil && runCtx.Err() != nil && ctx.Err() == nil {
		// The collector stopped because the run budget ran out.
		r.log.Warn("ingest: run timeout reached, remaining records abandoned",
			zap.Duration("run_timeout", e.cfg.RunTimeout),
			zap.Int64("abandoned", r.tally.abandoned.Load()),
		)
		return nil
	}
	return collectErr
}

// process handles one observation end to end. allowDefer lets an orphan
// contact wait for the end of the stream instead of being skipped at once.
func (e *Engine) process(parent context.Context, r *run, obs model.Observation, allowDefer bool) {
	ctx := parent
	if e.cfg.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RecordTimeout)
		defer cancel()
	}

	res, err := e.apply(ctx, r, obs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil && parent.Err() == nil {
			// Only this record ran out of time; the run goes on.
			err = &model.TransientStoreError{Op: "record timeout", Err: err}
		}
		if allowDefer && model.IsOrphan(err) {
			r.deferOrphan(obs)
			return
		}
		e.skip(ctx, r, obs, err)
		return
	}

	switch res.Outcome {
	case OutcomeCreated:
		r.tally.created.Add(1)
	case OutcomeMerged:
		r.tally.merged.Add(1)
	}
	r.tally.snapshots.Add(1)
	e.observer.ObserveRecord(obs.Kind, res.Outcome.String())
}

func (e *Engine) apply(ctx context.Context, r *run, obs model.Observation) (Result, error) {
	switch {
	case obs.Period.IsZero():
		obs.Period = r.Period
	case obs.Period != r.Period:
		return Result{}, &model.ValidationError{Kind: obs.Kind, Field: "period", Reason: errPeriodClash}
	}

	rec, err := Normalize(obs.Kind, obs.Data)
	if err != nil {
		return Result{}, err
	}

	unlock, err := e.keys.Lock(ctx, rec.LockKey())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	return e.upserter.Apply(ctx, rec, obs, r.Period)
}

// skip counts a failed record, logs it and stores it as a rejected record.
func (e *Engine) skip(ctx context.Context, r *run, obs model.Observation, err error) {
	reason := resilience.Classify(err)
	switch reason {
	case model.RejectValidation:
		r.tally.validation.Add(1)
	case model.RejectOrphan:
		r.tally.orphan.Add(1)
	case model.RejectAbandoned:
		r.tally.abandoned.Add(1)
	default:
		r.tally.transient.Add(1)
	}
	e.observer.ObserveRecord(obs.Kind, string(reason))

	r.log.Warn("ingest: record skipped",
		zap.String("kind", string(obs.Kind)),
		zap.String("reason", string(reason)),
		zap.String("source_url", obs.SourceURL),
		zap.Error(err),
	)

	// The rejected row must be written even when the run context is done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := e.store.RecordRejected(wctx, resilience.NewRejected(r.ID, r.Period, obs, err)); rerr != nil {
		r.log.Error("ingest: record rejected row", zap.Error(rerr))
	}
}

// finish writes the terminal run row and reports to the observer.
func (e *Engine) finish(ctx context.Context, r *run, report *model.RunReport, runErr error) error {
	finished := e.now().UTC()
	report.FinishedAt = finished
	report.Status = model.RunStatusCompleted
	if runErr != nil {
		report.Status = model.RunStatusAborted
		report.Error = runErr.Error()
	}

	r.Status, r.FinishedAt, r.Report, r.Error = report.Status, &finished, report, report.Error
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.store.FinishRun(wctx, r.Run); err != nil {
		r.log.Error("ingest: record run result", zap.Error(err))
		if runErr == nil {
			runErr = &model.RunStateError{Op: "finish run", Err: err}
		}
	}

	duration := finished.Sub(report.StartedAt)
	e.observer.ObserveRun(report, duration)

	fields := []zap.Field{
		zap.String("kind", string(report.Kind)),
		zap.String("status", string(report.Status)),
		zap.Int64("created", report.Created),
		zap.Int64("merged", report.Merged),
		zap.Int64("skipped_validation", report.SkippedValidation),
		zap.Int64("skipped_orphan", report.SkippedOrphan),
		zap.Int64("skipped_transient", report.SkippedTransient),
		zap.Int64("abandoned", report.Abandoned),
		zap.Int64("snapshots", report.SnapshotsWritten),
		zap.Int64("deactivated", report.Deactivated),
		zap.Int64("purged", report.Purged),
		zap.Duration("duration", duration),
	}
	if runErr != nil {
		r.log.Error("ingest: run aborted", append(fields, zap.Error(runErr))...)
		return runErr
	}
	r.log.Info("ingest: run completed", fields...)
	return nil
}

// Cleanup purges snapshots before cutoff outside an ingestion run. It holds
// the run lock so it never interleaves with a run.
func (e *Engine) Cleanup(ctx context.Context, cutoff model.Period, opts RunOptions) (*model.RunReport, error) {
	if cutoff.IsZero() {
		return nil, &model.RunStateError{Op: "cleanup", Err: errZeroCutoff}
	}
	r, err := e.acquire(ctx, model.PeriodOf(e.now()), opts)
	if err != nil {
		return nil, err
	}
	defer e.running.Unlock()

	report := &model.RunReport{RunID: r.ID, Kind: model.RunKindCleanup, Period: r.Period, StartedAt: r.StartedAt, RetentionCutoff: cutoff}
	purged, err := e.retention.Purge(ctx, cutoff)
	report.Purged = purged
	return report, e.finish(ctx, r, report, err)
}

// CollectGarbage lists companies left with no snapshots and no contacts and,
// when apply is set, deletes them under the run lock.
func (e *Engine) CollectGarbage(ctx context.Context, apply bool, limit int, opts RunOptions) ([]company.Company, int64, error) {
	if !apply {
		orphans, err := e.store.ListOrphanCompanies(ctx, limit)
		return orphans, 0, err
	}

	r, err := e.acquire(ctx, model.PeriodOf(e.now()), opts)
	if err != nil {
		return nil, 0, err
	}
	defer e.running.Unlock()

	report := &model.RunReport{RunID: r.ID, Kind: model.RunKindGC, Period: r.Period, StartedAt: r.StartedAt}
	orphans, err := e.store.ListOrphanCompanies(ctx, limit)
	if err != nil {
		return nil, 0, e.finish(ctx, r, report, &model.RunStateError{Op: "gc list", Err: err})
	}
	ids := make([]int64, 0, len(orphans))
	for _, c := range orphans {
		ids = append(ids, c.ID)
	}
	deleted, err := e.store.DeleteCompanies(ctx, ids)
	if err != nil {
		err = &model.RunStateError{Op: "gc delete", Err: err}
	}
	return orphans, deleted, e.finish(ctx, r, report, err)
}
