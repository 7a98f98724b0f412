/*
scheduler.go - Deadline watcher for open periods

PURPOSE:
  Periodically checks for open periods whose deadline has passed and
  reports them. Closing stays an operator action: the watcher never closes
  a period, it only makes the overdue ones visible.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Compares each open period's Deadline with today's date
  - Logs one warning per overdue period and publishes the count as the
    bilan_periods_overdue gauge

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the watcher is active (default: true)

USAGE:
  watcher := NewDeadlineWatcher(handler.Registry, logger)
  watcher.Start()
  // ... later
  watcher.Stop()

SEE ALSO:
  - handlers.go: ClosePeriod endpoint
  - engine/registry.go: Period lifecycle
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/bilan-engine/engine"
	"github.com/warp/bilan-engine/metrics"
)

// DeadlineWatcher reports open periods past their deadline.
type DeadlineWatcher struct {
	Registry      *engine.PeriodRegistry
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	// Now defaults to time.Now.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDeadlineWatcher creates a new watcher.
func NewDeadlineWatcher(registry *engine.PeriodRegistry, logger *zap.Logger) *DeadlineWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadlineWatcher{
		Registry:      registry,
		Logger:        logger,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the watcher.
func (dw *DeadlineWatcher) Start() {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if !dw.Enabled {
		dw.Logger.Info("deadline watcher disabled")
		return
	}
	if dw.ticker != nil {
		return
	}

	dw.ticker = time.NewTicker(dw.CheckInterval)
	dw.stop = make(chan struct{})
	dw.wg.Add(1)

	go dw.run()

	dw.Logger.Info("deadline watcher started", zap.Duration("interval", dw.CheckInterval))
}

// Stop stops the watcher and waits for a check in progress.
func (dw *DeadlineWatcher) Stop() {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.ticker != nil {
		dw.ticker.Stop()
		close(dw.stop)
		dw.wg.Wait()
		dw.ticker = nil
		dw.Logger.Info("deadline watcher stopped")
	}
}

func (dw *DeadlineWatcher) run() {
	defer dw.wg.Done()

	// Run immediately on start
	dw.Check(context.Background())

	for {
		select {
		case <-dw.ticker.C:
			dw.Check(context.Background())
		case <-dw.stop:
			return
		}
	}
}

// Check returns the open periods whose deadline is before today, logging
// each one and publishing the count.
func (dw *DeadlineWatcher) Check(ctx context.Context) []engine.Period {
	today := engine.DateOf(dw.Now())

	periods, err := dw.Registry.List(ctx)
	if err != nil {
		dw.Logger.Error("deadline check failed", zap.Error(err))
		return nil
	}

	var overdue []engine.Period
	for _, p := range periods {
		if p.IsOpen() && p.Deadline.Before(today) {
			overdue = append(overdue, p)
			dw.Logger.Warn("period past deadline",
				zap.String("period_id", string(p.ID)),
				zap.Stringer("deadline", p.Deadline),
				zap.Int("days_late", int(today.Time.Sub(p.Deadline.Time).Hours()/24)))
		}
	}
	metrics.SetOverduePeriods(len(overdue))
	return overdue
}
