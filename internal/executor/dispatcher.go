// Package executor dispatches tasks onto the queue and runs them when a
// worker receives the job. All coordination goes through conditional
// updates in the store; workers keep no state between jobs.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AaronKronberg/OpusPipeline/internal/events"
	"github.com/AaronKronberg/OpusPipeline/internal/metrics"
	"github.com/AaronKronberg/OpusPipeline/internal/pipeline"
	"github.com/AaronKronberg/OpusPipeline/internal/queue"
	"github.com/AaronKronberg/OpusPipeline/internal/store"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
	"github.com/AaronKronberg/OpusPipeline/internal/tracker"
)

// Deps are the collaborators shared by the Dispatcher and the Handler.
// Events and Metrics are optional.
type Deps struct {
	Store    *store.Store
	Tracker  *tracker.Tracker
	Composer *pipeline.Composer
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

func (d *Deps) defaults() {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
}

// publish records a transition in metrics and on the event bus. Publish
// failures are logged only.
func (d *Deps) publish(ctx context.Context, ev events.Event) {
	d.Metrics.Transition(ev.Kind, ev.Status)
	if err := d.Events.Publish(ctx, ev); err != nil {
		d.Log.Warn("publish event failed",
			zap.String("kind", string(ev.Kind)), zap.String("task_id", ev.TaskID),
			zap.String("status", string(ev.Status)), zap.Error(err))
	}
}

// Dispatcher moves tasks from pending (or a finished state) onto the queue.
type Dispatcher struct {
	Deps
	queue queue.Enqueuer
	opts  queue.Options
}

func NewDispatcher(deps Deps, q queue.Enqueuer, opts queue.Options) *Dispatcher {
	deps.defaults()
	return &Dispatcher{Deps: deps, queue: q, opts: opts}
}

// Execute dispatches the task and enqueues its job. The returned execution
// is the record the first attempt reports progress on. A pipeline override
// that names an unknown model profile is rejected before anything changes.
func (d *Dispatcher) Execute(ctx context.Context, kind task.Kind, id string, override map[string]any) (*task.Execution, error) {
	if kind == task.KindPipeline && d.Composer != nil {
		p, err := d.Store.GetPipeline(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := d.Composer.ModelParams(p.Config, override); err != nil {
			return nil, err
		}
	}

	dispatchID, err := d.Store.Dispatch(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	log := d.Log.With(zap.String("kind", string(kind)), zap.String("task_id", id))
	d.publish(ctx, events.Event{Kind: kind, TaskID: id, Status: task.DispatchStatus(kind)})

	exec, err := d.Tracker.Create(ctx, kind, id, kind.StepsTotal(), 1)
	if err != nil {
		d.abort(ctx, kind, id, dispatchID, "", err)
		return nil, err
	}
	log = log.With(zap.String("execution_id", exec.ExecutionID))

	job, err := queue.NewJob(queue.Payload{
		Kind:           kind,
		TaskID:         id,
		DispatchID:     dispatchID,
		ExecutionID:    exec.ExecutionID,
		ConfigOverride: override,
	})
	if err == nil {
		_, err = d.queue.Enqueue(ctx, job, d.opts.For(dispatchID)...)
	}
	if err != nil {
		err = fmt.Errorf("enqueue %s task %s: %w", kind, id, err)
		d.abort(ctx, kind, id, dispatchID, exec.ExecutionID, err)
		return nil, err
	}
	log.Info("task dispatched")
	return exec, nil
}

// abort fails a dispatch that never reached the queue.
func (d *Dispatcher) abort(ctx context.Context, kind task.Kind, id, dispatchID, execID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := errorLine(cause)
	if err := d.Store.Fail(ctx, kind, id, dispatchID, msg); err != nil {
		d.Log.Error("fail undelivered dispatch", zap.String("task_id", id), zap.Error(err))
	} else {
		d.publish(ctx, events.Event{Kind: kind, TaskID: id, ExecutionID: execID, Status: task.StatusFailed, Error: msg})
	}
	if execID != "" {
		if err := d.Tracker.Complete(ctx, execID, tracker.Outcome{Status: task.ExecFailed, Error: msg}); err != nil {
			d.Log.Error("close undelivered execution", zap.String("execution_id", execID), zap.Error(err))
		}
	}
}
