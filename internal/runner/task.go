package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Task is a background job run on a cron schedule.
type Task interface {
	// Name returns the unique name of the task
	Name() string

	// Schedule returns a six-field (seconds-first) cron expression
	Schedule() string

	Run(ctx context.Context) error

	// Timeout bounds a single run
	Timeout() time.Duration
}

// TaskRegistry holds the tasks a Runner schedules.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]Task),
	}
}

// Register adds a task; names must be unique.
func (r *TaskRegistry) Register(task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.Name()]; exists {
		return fmt.Errorf("task %s already registered", task.Name())
	}
	r.tasks[task.Name()] = task
	return nil
}

// All returns the registered tasks ordered by name.
func (r *TaskRegistry) All() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Task, 0, len(names))
	for _, name := range names {
		out = append(out, r.tasks[name])
	}
	return out
}
