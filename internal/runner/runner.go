package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes registered tasks on their cron schedules.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger overrides the runner logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner for the tasks in registry.
func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   log.New(log.Writer(), "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(r.logger))),
	)
	return r
}

// Start schedules every registered task and returns. Runs stop being
// scheduled when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	for _, task := range r.registry.All() {
		task := task
		r.logger.Printf("Registering task: %s with schedule: %s", task.Name(), task.Schedule())
		if _, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(runCtx, task)
		}); err != nil {
			cancel()
			return fmt.Errorf("failed to schedule task %s: %w", task.Name(), err)
		}
	}

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.cron.Start()
	r.logger.Println("Task runner started")

	go func() {
		<-runCtx.Done()
		r.cron.Stop()
	}()
	return nil
}

func (r *Runner) executeTask(ctx context.Context, task Task) error {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("Task %s failed after %v: %v", task.Name(), duration, err)
		return err
	}
	return nil
}

// Stop cancels scheduling and waits for running tasks to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	<-r.cron.Stop().Done()
	r.wg.Wait()
	r.logger.Println("Task runner stopped")
}
