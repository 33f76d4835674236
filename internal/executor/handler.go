package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/AaronKronberg/OpusPipeline/internal/events"
	"github.com/AaronKronberg/OpusPipeline/internal/gitdiff"
	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/queue"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
	"github.com/AaronKronberg/OpusPipeline/internal/tracker"
)

// Handler runs one job per call. It implements asynq.Handler.
type Handler struct {
	Deps
	completer llm.Completer
	diffs     gitdiff.Provider

	// retryCount reports how many times asynq has already retried the job.
	retryCount func(ctx context.Context) int
	readFile   func(path string) ([]byte, error)
}

func NewHandler(deps Deps, completer llm.Completer, diffs gitdiff.Provider) *Handler {
	deps.defaults()
	return &Handler{
		Deps:       deps,
		completer:  completer,
		diffs:      diffs,
		retryCount: asynqRetryCount,
		readFile:   os.ReadFile,
	}
}

func asynqRetryCount(ctx context.Context) int {
	n, _ := asynq.GetRetryCount(ctx)
	return n
}

// Register mounts the handler for every task kind.
func (h *Handler) Register(mux *asynq.ServeMux) {
	for _, kind := range task.Kinds {
		mux.Handle(queue.TypeName(kind), h)
	}
}

// ProcessTask runs one delivery of a job. Returning nil acknowledges the
// job; an error wrapping asynq.SkipRetry archives it; any other error is
// retried with backoff.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParsePayload(t.Payload())
	if err != nil {
		h.Log.Error("malformed job", zap.String("type", t.Type()), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if t.Type() != queue.TypeName(p.Kind) {
		return fmt.Errorf("job type %s carries a %s payload: %w", t.Type(), p.Kind, asynq.SkipRetry)
	}
	log := h.Log.With(zap.String("kind", string(p.Kind)), zap.String("task_id", p.TaskID))

	rec, err := h.Store.Get(ctx, p.Kind, p.TaskID)
	if errors.Is(err, task.ErrNotFound) {
		log.Warn("task is gone, dropping job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if rec.Head().DispatchID != p.DispatchID {
		log.Info("job belongs to a superseded dispatch, dropping", zap.String("dispatch_id", p.DispatchID))
		return fmt.Errorf("%w: %w", task.ErrStaleDispatch, asynq.SkipRetry)
	}

	retries := h.retryCount(ctx)
	redelivery := retries > 0
	if err := h.Store.Start(ctx, p.Kind, p.TaskID, p.DispatchID, redelivery); err != nil {
		return h.notStarted(ctx, log, p, redelivery, err)
	}
	h.publish(ctx, events.Event{Kind: p.Kind, TaskID: p.TaskID, ExecutionID: p.ExecutionID, Status: task.StatusRunning, Attempt: retries + 1})

	exec, err := h.execution(ctx, p, retries)
	if err != nil {
		// The task is running with no record to report on; let the retry
		// start over.
		if ferr := h.finishFailed(ctx, log, p, "", err); ferr != nil {
			return nil
		}
		return err
	}
	log = log.With(zap.String("execution_id", exec.ExecutionID), zap.Int("attempt", exec.Attempt))
	log.Info("task started")

	a := &attempt{
		h:       h,
		payload: p,
		exec:    exec,
		log:     log,
		started: time.Now(),
	}
	h.Metrics.Started(p.Kind)

	res, err := a.run(ctx)
	return a.finish(ctx, res, err)
}

// notStarted handles a lost CAS to running.
func (h *Handler) notStarted(ctx context.Context, log *zap.Logger, p queue.Payload, redelivery bool, err error) error {
	if errors.Is(err, task.ErrCancelled) {
		log.Info("task cancelled before start")
		cancelled := tracker.Outcome{Status: task.ExecCancelled}
		if !redelivery {
			h.closeExecution(ctx, log, p.ExecutionID, cancelled)
			return nil
		}
		// A worker that died mid-run left its execution open.
		return h.closeUnfinished(ctx, log, p, cancelled)
	}
	if task.IsTerminal(err) {
		log.Info("job cannot start, dropping", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// execution picks the record this attempt reports on: the one created at
// dispatch for the first delivery, a fresh one for every retry. Records left
// running by an attempt that died are closed as failed.
func (h *Handler) execution(ctx context.Context, p queue.Payload, retries int) (*task.Execution, error) {
	if retries == 0 && p.ExecutionID != "" {
		exec, err := h.Tracker.Get(ctx, p.ExecutionID)
		if err == nil && !exec.Finished() {
			return exec, nil
		}
		if err != nil && !errors.Is(err, tracker.ErrExecutionNotFound) {
			return nil, err
		}
	}
	if retries > 0 {
		abandoned := tracker.Outcome{Status: task.ExecFailed, Error: "attempt abandoned by its worker"}
		if err := h.closeUnfinished(ctx, h.Log, p, abandoned); err != nil {
			return nil, err
		}
	}
	return h.Tracker.Create(ctx, p.Kind, p.TaskID, p.Kind.StepsTotal(), retries+1)
}

// closeUnfinished closes every execution of the task still marked running.
func (h *Handler) closeUnfinished(ctx context.Context, log *zap.Logger, p queue.Payload, out tracker.Outcome) error {
	prior, err := h.Tracker.ListForTask(ctx, p.Kind, p.TaskID)
	if err != nil {
		return err
	}
	for _, e := range prior {
		if !e.Finished() {
			h.closeExecution(ctx, log, e.ExecutionID, out)
		}
	}
	return nil
}

func (h *Handler) closeExecution(ctx context.Context, log *zap.Logger, execID string, out tracker.Outcome) {
	if execID == "" {
		return
	}
	if err := h.Tracker.Complete(context.WithoutCancel(ctx), execID, out); err != nil && !errors.Is(err, tracker.ErrExecutionFinished) {
		log.Error("close execution", zap.String("execution_id", execID), zap.Error(err))
	}
}

// finishFailed fails the task row and the execution. A cancellation or a
// newer dispatch that already owns the row wins over the failure; the store
// error saying so is returned.
func (h *Handler) finishFailed(ctx context.Context, log *zap.Logger, p queue.Payload, execID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	msg := errorLine(cause)
	err := h.Store.Fail(ctx, p.Kind, p.TaskID, p.DispatchID, msg)
	switch {
	case errors.Is(err, task.ErrCancelled):
		h.closeExecution(ctx, log, execID, tracker.Outcome{Status: task.ExecCancelled})
		return err
	case errors.Is(err, task.ErrStaleDispatch):
		h.closeExecution(ctx, log, execID, tracker.Outcome{Status: task.ExecFailed, Error: msg})
		return err
	case err != nil:
		log.Error("record task failure", zap.Error(err))
	default:
		h.publish(ctx, events.Event{Kind: p.Kind, TaskID: p.TaskID, ExecutionID: execID, Status: task.StatusFailed, Error: msg})
	}
	h.closeExecution(ctx, log, execID, tracker.Outcome{Status: task.ExecFailed, Error: msg})
	return nil
}

// attempt is one delivery of one job.
type attempt struct {
	h       *Handler
	payload queue.Payload
	exec    *task.Execution
	log     *zap.Logger
	started time.Time
	done    int

	model  string
	tokens int
}

// step checks for cancellation and records that the named step is next.
func (a *attempt) step(ctx context.Context, name string) error {
	st, err := a.h.Store.Status(ctx, a.payload.Kind, a.payload.TaskID)
	if err != nil {
		return err
	}
	if st == task.StatusCancelled {
		return task.ErrCancelled
	}
	line := fmt.Sprintf("step %d/%d: %s", a.done+1, a.exec.StepsTotal, name)
	if _, err := a.h.Tracker.UpdateProgress(ctx, a.exec.ExecutionID, a.done, name, line); err != nil {
		a.log.Warn("update progress", zap.Error(err))
	}
	a.done++
	return nil
}

func (a *attempt) run(ctx context.Context) (task.Result, error) {
	switch a.payload.Kind {
	case task.KindCodeDiff:
		return a.codeDiff(ctx)
	case task.KindRequirement:
		return a.requirement(ctx)
	case task.KindPipeline:
		return a.pipeline(ctx)
	}
	return nil, task.NewFatalError(fmt.Errorf("no runner for kind %s", a.payload.Kind))
}

func (a *attempt) resources() map[string]any {
	r := map[string]any{"processing_time": time.Since(a.started).Seconds()}
	if a.model != "" {
		r["model"] = a.model
		r["tokens_used"] = a.tokens
	}
	return r
}

// finish records the outcome of run on the task and the execution and maps
// it to the job's ack, retry or archive.
func (a *attempt) finish(ctx context.Context, res task.Result, runErr error) error {
	h, p := a.h, a.payload
	wctx := context.WithoutCancel(ctx)
	elapsed := time.Since(a.started)

	if runErr == nil {
		err := h.Store.Complete(wctx, p.Kind, p.TaskID, p.DispatchID, res)
		if err == nil {
			h.Metrics.Finished(p.Kind, task.StatusCompleted, elapsed)
			h.Metrics.TokensUsed(p.Kind, a.model, a.tokens)
			h.closeExecution(wctx, a.log, a.exec.ExecutionID, tracker.Outcome{
				Status:        task.ExecCompleted,
				Result:        resultSummary(res),
				ResourcesUsed: a.resources(),
			})
			h.publish(wctx, events.Event{Kind: p.Kind, TaskID: p.TaskID, ExecutionID: a.exec.ExecutionID, Status: task.StatusCompleted, Attempt: a.exec.Attempt})
			a.log.Info("task completed", zap.Duration("elapsed", elapsed))
			return nil
		}
		runErr = err
	}

	if errors.Is(runErr, task.ErrCancelled) {
		h.Metrics.Finished(p.Kind, task.StatusCancelled, elapsed)
		h.closeExecution(wctx, a.log, a.exec.ExecutionID, tracker.Outcome{Status: task.ExecCancelled, ResourcesUsed: a.resources()})
		h.publish(wctx, events.Event{Kind: p.Kind, TaskID: p.TaskID, ExecutionID: a.exec.ExecutionID, Status: task.StatusCancelled, Attempt: a.exec.Attempt})
		a.log.Info("task cancelled, result discarded")
		return nil
	}
	if errors.Is(runErr, task.ErrStaleDispatch) {
		h.Metrics.Finished(p.Kind, task.StatusFailed, elapsed)
		h.closeExecution(wctx, a.log, a.exec.ExecutionID, tracker.Outcome{Status: task.ExecFailed, Error: "superseded by a newer dispatch"})
		return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
	}

	h.Metrics.Finished(p.Kind, task.StatusFailed, elapsed)
	switch ferr := h.finishFailed(wctx, a.log, p, a.exec.ExecutionID, runErr); {
	case errors.Is(ferr, task.ErrCancelled):
		a.log.Info("task cancelled while failing", zap.Error(runErr))
		return nil
	case errors.Is(ferr, task.ErrStaleDispatch):
		return fmt.Errorf("%w: %w", ferr, asynq.SkipRetry)
	}
	if terminal(runErr) {
		a.log.Warn("task failed permanently", zap.Error(runErr))
		return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
	}
	a.log.Warn("task attempt failed, will retry", zap.Error(runErr))
	return runErr
}

// terminal reports whether retrying the job cannot change the outcome.
func terminal(err error) bool {
	return task.IsTerminal(err) ||
		errors.Is(err, prompt.ErrTemplateNotFound) ||
		errors.Is(err, prompt.ErrTemplateInactive) ||
		errors.Is(err, prompt.ErrChainTooDeep) ||
		errors.Is(err, gitdiff.ErrUnknownRef)
}

func resultSummary(res task.Result) string {
	switch r := res.(type) {
	case task.CodeDiffResult:
		return r.DiffSummary
	case task.RequirementResult:
		return truncate(r.ParsedContent, 500)
	case task.PipelineResult:
		return truncate(r.Result, 500)
	}
	return ""
}

// errorLine flattens err to the single line stored in error_message.
func errorLine(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		msg = "unknown error"
	}
	return truncate(msg, 1000)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
