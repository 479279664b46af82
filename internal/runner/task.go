package runner

import (
	"context"
	"time"
)

// Task is a scheduled background job.
type Task interface {
	// Name returns the unique name of the task.
	Name() string

	// Schedule returns the cron expression (with seconds field).
	Schedule() string

	// Run executes the task.
	Run(ctx context.Context) error

	// Timeout bounds a single execution.
	Timeout() time.Duration
}

// TaskRegistry holds all registered tasks.
type TaskRegistry struct {
	tasks map[string]Task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]Task),
	}
}

// Register adds a task, replacing any task with the same name.
func (r *TaskRegistry) Register(task Task) {
	r.tasks[task.Name()] = task
}

// Get returns a task by name.
func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, exists := r.tasks[name]
	return task, exists
}

// All returns all registered tasks.
func (r *TaskRegistry) All() map[string]Task {
	return r.tasks
}
