// Package executor consumes dispatched schedules and runs them against
// the external agent runtime.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	errs "github.com/muaviaUsmani/metronome/internal/errors"
	"github.com/muaviaUsmani/metronome/internal/logger"
	"github.com/muaviaUsmani/metronome/internal/metrics"
	"github.com/muaviaUsmani/metronome/internal/outcome"
	"github.com/muaviaUsmani/metronome/internal/schedule"
)

// Recorder applies post-run schedule state (implemented by the engine)
type Recorder interface {
	RecordRunSuccess(ctx context.Context, ownerID, id string, finishedAt time.Time) (*schedule.Schedule, error)
	RecordRunFailure(ctx context.Context, ownerID, id string, finishedAt time.Time, runErr error) (*schedule.Schedule, error)
}

// Executor runs a pool of consumers over the dispatcher's executions
// channel. Different schedules run concurrently; the same schedule is
// serialized by the dispatcher's claim step. Workers drain enqueued work
// after the channel closes, so shutdown never aborts an in-flight run.
type Executor struct {
	runner      Runner
	recorder    Recorder
	outcomes    outcome.Backend // optional, may be nil
	executions  <-chan *schedule.Schedule
	concurrency int
	runTimeout  time.Duration
	wg          sync.WaitGroup
	active      atomic.Int64
	log         logger.Logger
}

// NewExecutor creates an executor pool over the executions channel
func NewExecutor(runner Runner, recorder Recorder, outcomes outcome.Backend, executions <-chan *schedule.Schedule, concurrency int, runTimeout time.Duration) *Executor {
	return &Executor{
		runner:      runner,
		recorder:    recorder,
		outcomes:    outcomes,
		executions:  executions,
		concurrency: concurrency,
		runTimeout:  runTimeout,
		log:         logger.Default().WithComponent(logger.ComponentExecutor),
	}
}

// Start launches the consumer goroutines
func (e *Executor) Start(ctx context.Context) {
	e.log.Info("Executor starting", "executors", e.concurrency, "run_timeout", e.runTimeout)

	for i := 0; i < e.concurrency; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i+1)
	}
}

// Wait blocks until every consumer exited (the channel is closed and
// drained)
func (e *Executor) Wait() {
	e.wg.Wait()
	e.log.Info("Executor stopped")
}

// worker consumes schedules until the dispatcher closes the channel
func (e *Executor) worker(ctx context.Context, executorID int) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Executor worker terminated by panic",
				"executor_id", executorID,
				"panic_value", r,
				"stack_trace", string(debug.Stack()))
		}
	}()

	workerCtx := context.WithValue(ctx, logger.ExecutorIDKey, fmt.Sprintf("executor-%d", executorID))

	e.log.Info("Executor worker started", "executor_id", executorID)

	for sc := range e.executions {
		e.execute(workerCtx, executorID, sc)
	}

	e.log.Info("Executor worker stopping", "executor_id", executorID)
}

// execute runs one claimed schedule and writes back its post-run state
func (e *Executor) execute(ctx context.Context, executorID int, sc *schedule.Schedule) {
	active := e.active.Add(1)
	metrics.Default().RecordExecutorActivity(active, int64(e.concurrency))
	defer func() {
		metrics.Default().RecordExecutorActivity(e.active.Add(-1), int64(e.concurrency))
	}()

	runLog := e.log.WithSource(logger.LogSourceRun)

	// The run and its post-run write-backs are detached from the shutdown
	// context: enqueued work is drained, not aborted, and a run that
	// executed during the drain must still have its state persisted
	execCtx := context.WithValue(context.Background(), logger.ScheduleIDKey, sc.ID)
	if v := ctx.Value(logger.ExecutorIDKey); v != nil {
		execCtx = context.WithValue(execCtx, logger.ExecutorIDKey, v)
	}
	runCtx, cancel := context.WithTimeout(execCtx, e.runTimeout)
	defer cancel()

	start := time.Now()

	var result *RunResult
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				pe := &errs.PanicError{Value: r, Stacktrace: string(debug.Stack())}
				runLog.ErrorContext(execCtx, "Run panicked",
					"executor_id", executorID,
					"panic_value", r,
					"stack_trace", pe.Stacktrace)
				runErr = pe
			}
		}()
		result, runErr = e.runner.Run(runCtx, &RunRequest{
			ScheduleID:  sc.ID,
			OwnerID:     sc.OwnerID,
			AgentRef:    sc.AgentRef,
			Instruction: sc.Instruction,
			Target:      sc.Target,
		})
	}()

	finishedAt := time.Now()
	duration := finishedAt.Sub(start)

	if runErr != nil {
		runLog.ErrorContext(execCtx, "Run failed",
			"executor_id", executorID,
			"duration", duration,
			"error", runErr)
		metrics.Default().RecordRunFailed(duration)

		if _, err := e.recorder.RecordRunFailure(execCtx, sc.OwnerID, sc.ID, finishedAt, runErr); err != nil {
			e.log.Error("Failed to record run failure", "schedule_id", sc.ID, "error", err)
			metrics.Default().RecordStoreError()
		}
		e.storeOutcome(execCtx, sc, &outcome.Outcome{
			ScheduleID:  sc.ID,
			OwnerID:     sc.OwnerID,
			Target:      sc.Target,
			Status:      outcome.RunFailed,
			Error:       runErr.Error(),
			CompletedAt: finishedAt,
			Duration:    duration,
		})
		return
	}

	runLog.InfoContext(execCtx, "Run completed",
		"executor_id", executorID,
		"duration", duration)
	metrics.Default().RecordRunSucceeded(duration)

	updated, err := e.recorder.RecordRunSuccess(execCtx, sc.OwnerID, sc.ID, finishedAt)
	if err != nil {
		e.log.Error("Failed to record run success", "schedule_id", sc.ID, "error", err)
		metrics.Default().RecordStoreError()
	} else if updated.Status == schedule.StatusExpired {
		metrics.Default().RecordExpired()
	}

	o := &outcome.Outcome{
		ScheduleID:  sc.ID,
		OwnerID:     sc.OwnerID,
		Target:      sc.Target,
		Status:      outcome.RunSucceeded,
		CompletedAt: finishedAt,
		Duration:    duration,
	}
	if result != nil {
		o.Output = result.Output
	}
	e.storeOutcome(execCtx, sc, o)
}

// storeOutcome records the run result for the notification transport.
// Outcome storage is best-effort; the schedule state is already written.
func (e *Executor) storeOutcome(ctx context.Context, sc *schedule.Schedule, o *outcome.Outcome) {
	if e.outcomes == nil {
		return
	}
	if err := e.outcomes.StoreOutcome(ctx, o); err != nil {
		e.log.Error("Failed to store run outcome", "schedule_id", sc.ID, "error", err)
	}
}
