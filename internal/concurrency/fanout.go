// Package concurrency provides the fan-out primitives shared by the
// prefetch and agent-invocation stages: a bounded parallel batch runner
// with per-task deadlines, a single-flight lazy initializer for shared
// services, and a stoppable background task helper.
package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one unit of fan-out work. ID must be unique within a batch; it
// keys the corresponding Result.
type Task struct {
	ID  string
	Run func(ctx context.Context) (any, error)
}

// Result is the outcome of one Task.
type Result struct {
	TaskID   string
	Value    any
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Stats counts batch outcomes across the lifetime of one FanOut.
type Stats struct {
	Completed int64
	Failed    int64
}

// FanOut runs batches of tasks with bounded parallelism and a per-task
// timeout. A zero timeout disables the per-task deadline; a limit below 1
// is treated as 1.
type FanOut struct {
	limit       int
	taskTimeout time.Duration
	onError     func(taskID string, err error)

	completed atomic.Int64
	failed    atomic.Int64
}

func NewFanOut(limit int, taskTimeout time.Duration) *FanOut {
	if limit < 1 {
		limit = 1
	}
	return &FanOut{limit: limit, taskTimeout: taskTimeout}
}

// OnError installs a callback invoked once per failed task, after the
// failure is recorded. Must be set before the first RunBatch.
func (f *FanOut) OnError(fn func(taskID string, err error)) { f.onError = fn }

// RunBatch executes every task and returns results in task order, so two
// runs over the same batch yield identically ordered results. Tasks whose
// slot never opens before ctx is done are returned with ctx's error; tasks
// already running are cancelled through their own derived context.
func (f *FanOut) RunBatch(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	slots := make(chan struct{}, f.limit)
	var wg sync.WaitGroup

	for i, task := range tasks {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result{TaskID: task.ID, Err: ctx.Err()}
			f.failed.Add(1)
			continue
		}

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-slots }()
			results[i] = f.execute(ctx, task)
		}(i, task)
	}
	wg.Wait()

	if f.onError != nil {
		for _, r := range results {
			if r.Err != nil {
				f.onError(r.TaskID, r.Err)
			}
		}
	}
	return results
}

func (f *FanOut) execute(ctx context.Context, task Task) Result {
	started := time.Now()
	tctx := ctx
	if f.taskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, f.taskTimeout)
		defer cancel()
	}

	value, err := task.Run(tctx)
	if err != nil {
		f.failed.Add(1)
	} else {
		f.completed.Add(1)
	}
	return Result{
		TaskID:   task.ID,
		Value:    value,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	}
}

// Snapshot returns the counters accumulated so far.
func (f *FanOut) Snapshot() Stats {
	return Stats{Completed: f.completed.Load(), Failed: f.failed.Load()}
}
