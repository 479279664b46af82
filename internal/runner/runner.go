// Package runner executes scheduled background tasks on cron expressions.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner schedules and executes registered tasks.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// NewRunner creates a runner over the registry.
func NewRunner(registry *TaskRegistry) *Runner {
	return &Runner{
		cron:     cron.New(cron.WithSeconds()),
		registry: registry,
		logger:   log.New(os.Stdout, "[runner] ", log.LstdFlags),
	}
}

// WithLogger overrides the runner's logger.
func (r *Runner) WithLogger(logger *log.Logger) *Runner {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Start registers every task with cron and blocks until shutdown.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Println("starting task runner")

	for name, task := range r.registry.All() {
		r.logger.Printf("registering task %s (schedule %s)", name, task.Schedule())

		task := task
		_, err := r.cron.AddFunc(task.Schedule(), func() {
			r.executeTask(ctx, task)
		})
		if err != nil {
			return fmt.Errorf("schedule task %s: %w", name, err)
		}
	}

	r.cron.Start()
	r.logger.Println("task runner started")

	return r.waitForShutdown(ctx)
}

func (r *Runner) executeTask(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		r.logger.Printf("task %s failed after %v: %v", task.Name(), duration, err)
	} else {
		r.logger.Printf("task %s completed in %v", task.Name(), duration)
	}
}

// Stop stops scheduling and waits for in-flight tasks.
func (r *Runner) Stop() {
	r.logger.Println("stopping task runner")

	ctx := r.cron.Stop()
	r.wg.Wait()

	r.logger.Println("task runner stopped")
	<-ctx.Done()
}

func (r *Runner) waitForShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		r.logger.Printf("received signal %v", sig)
		r.Stop()
		return nil
	case <-ctx.Done():
		r.logger.Println("context cancelled")
		r.Stop()
		return ctx.Err()
	}
}
