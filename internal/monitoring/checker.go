package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// notified maps an alert type to the run it was last sent for.
	notified map[AlertType]string
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		notified:  make(map[AlertType]string),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects run health and sends the alerts that are new since the
// last check. It returns the alerts sent.
//
// While a live run holds the lock only the stale-run alert is considered;
// the rates will move once that run finishes. An alert already sent for
// the same run is not repeated, and a condition that clears is forgotten
// so a recurrence alerts again.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	staleAfter := time.Duration(c.cfg.StaleRunHours) * time.Hour
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours, staleAfter)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	runInFlight := snap.RunsRunning > 0 && snap.StaleRunID == ""
	active := make(map[AlertType]bool)
	var sent []Alert
	for _, a := range c.alerter.Evaluate(snap) {
		if runInFlight && a.Type != AlertStaleRun {
			log.Debug("monitoring: run in progress, holding alert", zap.String("type", string(a.Type)))
			active[a.Type] = true
			continue
		}
		active[a.Type] = true

		key := snap.LatestRunID
		if a.Type == AlertStaleRun {
			key = snap.StaleRunID
		}
		if prev, ok := c.notified[a.Type]; ok && prev == key {
			continue
		}
		if c.alerter.SendAlerts(ctx, []Alert{a}) == 1 {
			c.notified[a.Type] = key
			sent = append(sent, a)
		}
	}
	for t := range c.notified {
		if !active[t] {
			delete(c.notified, t)
		}
	}

	if len(sent) == 0 {
		log.Debug("monitoring: no new alerts")
		return nil
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_sent", len(sent)),
		zap.String("latest_run_id", snap.LatestRunID),
	)
	return sent
}
