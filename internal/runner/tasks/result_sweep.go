package tasks

import (
	"context"
	"log"
	"time"

	"github.com/gotrs-io/gotrs-mailverify/internal/email/verify"
	"github.com/gotrs-io/gotrs-mailverify/internal/runner"
)

// DefaultSweepSchedule runs the sweep every 30 seconds.
const DefaultSweepSchedule = "*/30 * * * * *"

// ResultSweeper is the part of verify.MemoryStore the sweep needs.
type ResultSweeper interface {
	Sweep(retention time.Duration) int
	Stats() verify.MemoryStoreStats
}

// ResultSweepTask evicts finished outcomes nobody collected.
type ResultSweepTask struct {
	store     ResultSweeper
	retention time.Duration
	schedule  string
	metrics   *verify.Metrics
	logger    *log.Logger
}

// NewResultSweepTask creates the sweep task. Empty schedule uses DefaultSweepSchedule.
func NewResultSweepTask(store ResultSweeper, retention time.Duration, schedule string, metrics *verify.Metrics) runner.Task {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &ResultSweepTask{
		store:     store,
		retention: retention,
		schedule:  schedule,
		metrics:   metrics,
		logger:    log.New(log.Writer(), "[RESULT-SWEEP] ", log.LstdFlags),
	}
}

func (t *ResultSweepTask) Name() string { return "verify-result-sweep" }

func (t *ResultSweepTask) Schedule() string { return t.schedule }

func (t *ResultSweepTask) Timeout() time.Duration { return 10 * time.Second }

// Run evicts stale entries and refreshes the store gauges.
func (t *ResultSweepTask) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if removed := t.store.Sweep(t.retention); removed > 0 {
		t.logger.Printf("evicted %d stale verification results", removed)
	}
	t.metrics.ObserveStore(t.store.Stats())
	return nil
}
