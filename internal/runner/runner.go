// Package runner executes recurring background tasks on cron schedules.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one recurring unit of background work.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// Schedule is a six-field cron expression with seconds.
	Schedule() string
	// Timeout bounds one execution; zero means no bound.
	Timeout() time.Duration
	Run(ctx context.Context) error
}

// Runner schedules registered tasks and drives them until its context ends.
type Runner struct {
	cron    *cron.Cron
	tasks   []Task
	logger  *log.Logger
	rootCtx context.Context

	startOnce sync.Once
	stopOnce  sync.Once
}

// Option customizes the runner.
type Option func(*Runner)

func New(opts ...Option) *Runner {
	r := &Runner{
		cron:   cron.New(cron.WithSeconds()),
		logger: log.New(log.Writer(), "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Register adds a task. Registration after Run has started is ignored.
func (r *Runner) Register(task Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	r.tasks = append(r.tasks, task)
	return nil
}

// Run schedules every registered task and blocks until ctx is cancelled,
// then waits for in-flight executions to finish.
func (r *Runner) Run(ctx context.Context) error {
	var scheduleErr error
	r.startOnce.Do(func() {
		r.rootCtx = ctx
		for _, task := range r.tasks {
			task := task
			_, err := r.cron.AddFunc(task.Schedule(), func() {
				r.execute(task)
			})
			if err != nil {
				scheduleErr = fmt.Errorf("schedule task %s: %w", task.Name(), err)
				return
			}
			r.logger.Printf("scheduled task %s (%s)", task.Name(), task.Schedule())
		}
		r.cron.Start()
	})
	if scheduleErr != nil {
		return scheduleErr
	}

	<-ctx.Done()
	r.stop()
	return nil
}

func (r *Runner) stop() {
	r.stopOnce.Do(func() {
		stopCtx := r.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(10 * time.Second):
			r.logger.Printf("timed out waiting for tasks to finish")
		}
	})
}

func (r *Runner) execute(task Task) {
	ctx := r.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := task.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("task %s panicked: %v", task.Name(), rec)
		}
	}()

	if err := task.Run(ctx); err != nil {
		r.logger.Printf("task %s failed after %s: %v", task.Name(), time.Since(start).Round(time.Millisecond), err)
		return
	}
	r.logger.Printf("task %s completed in %s", task.Name(), time.Since(start).Round(time.Millisecond))
}
