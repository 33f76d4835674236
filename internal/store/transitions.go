package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// guard is the WHERE half of a conditional status update.
type guard struct {
	from       []task.Status
	dispatchID string // empty matches any dispatch
}

// transition runs one conditional UPDATE and reports whether it won.
func (s *Store) transition(ctx context.Context, kind task.Kind, id string, g guard, cols map[string]any) (bool, error) {
	rec := task.New(kind)
	if rec == nil {
		return false, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	q := s.db.WithContext(ctx).Model(rec).Where("id = ? AND status IN ?", id, statusStrings(g.from...))
	if g.dispatchID != "" {
		q = q.Where("dispatch_id = ?", g.dispatchID)
	}
	cols["updated_at"] = time.Now()
	res := q.Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Status returns the current status of a task.
func (s *Store) Status(ctx context.Context, kind task.Kind, id string) (task.Status, error) {
	h, err := s.header(ctx, kind, id)
	if err != nil {
		return "", err
	}
	return h.Status, nil
}

func (s *Store) header(ctx context.Context, kind task.Kind, id string) (*task.Header, error) {
	rec := task.New(kind)
	if rec == nil {
		return nil, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	err := s.db.WithContext(ctx).Model(rec).
		Select("id", "status", "dispatch_id").
		Take(rec, "id = ?", id).Error
	if err != nil {
		if isNotFound(err) {
			return nil, notFound(kind, id)
		}
		return nil, err
	}
	return rec.Head(), nil
}

// Dispatch hands a pending, failed or completed task to the queue and
// returns the token that identifies this dispatch. A task some other dispatch
// already owns yields ErrAlreadyInFlight; a cancelled one ErrInvalidTransition.
func (s *Store) Dispatch(ctx context.Context, kind task.Kind, id string) (string, error) {
	dispatchID := uuid.NewString()
	ok, err := s.transition(ctx, kind, id, guard{from: task.DispatchableFrom(kind)}, map[string]any{
		"status":        string(task.DispatchStatus(kind)),
		"dispatch_id":   dispatchID,
		"error_message": "",
		"started_at":    nil,
		"completed_at":  nil,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		h, err := s.header(ctx, kind, id)
		if err != nil {
			return "", err
		}
		if h.Status.InFlight() {
			return "", fmt.Errorf("%w: %s task %s is %s", task.ErrAlreadyInFlight, kind, id, h.Status)
		}
		return "", fmt.Errorf("%w: cannot dispatch %s task %s from %s", task.ErrInvalidTransition, kind, id, h.Status)
	}
	return dispatchID, nil
}

// Start flips a dispatched task to running for the worker holding
// dispatchID. On redelivery the previous attempt may have left the task
// failed or, if it died, running.
func (s *Store) Start(ctx context.Context, kind task.Kind, id, dispatchID string, redelivery bool) error {
	now := time.Now()
	ok, err := s.transition(ctx, kind, id, guard{from: task.StartableFrom(kind, redelivery), dispatchID: dispatchID}, map[string]any{
		"status":        string(task.StatusRunning),
		"started_at":    now,
		"completed_at":  nil,
		"error_message": "",
	})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainLost(ctx, kind, id, dispatchID, task.StatusRunning)
}

// Complete stores res and marks the task completed in one statement. A
// worker that lost to a cancellation gets ErrCancelled and its result is
// dropped.
func (s *Store) Complete(ctx context.Context, kind task.Kind, id, dispatchID string, res task.Result) error {
	if res == nil || res.Kind() != kind {
		return fmt.Errorf("%w: result does not match %s task", task.ErrInvalidInput, kind)
	}
	cols := res.Columns()
	cols["status"] = string(task.StatusCompleted)
	cols["completed_at"] = time.Now()
	cols["error_message"] = ""
	ok, err := s.transition(ctx, kind, id, guard{from: []task.Status{task.StatusRunning}, dispatchID: dispatchID}, cols)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainLost(ctx, kind, id, dispatchID, task.StatusCompleted)
}

// Fail records msg on a running task, or on a dispatched one whose enqueue
// failed. Result columns are cleared.
func (s *Store) Fail(ctx context.Context, kind task.Kind, id, dispatchID, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return fmt.Errorf("%w: failure needs a message", task.ErrInvalidInput)
	}
	cols := task.ClearedResult(kind)
	cols["status"] = string(task.StatusFailed)
	cols["error_message"] = msg
	cols["completed_at"] = time.Now()
	from := []task.Status{task.DispatchStatus(kind), task.StatusRunning}
	ok, err := s.transition(ctx, kind, id, guard{from: from, dispatchID: dispatchID}, cols)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainLost(ctx, kind, id, dispatchID, task.StatusFailed)
}

// explainLost classifies a worker-side transition that matched no row.
func (s *Store) explainLost(ctx context.Context, kind task.Kind, id, dispatchID string, to task.Status) error {
	h, err := s.header(ctx, kind, id)
	if err != nil {
		return err
	}
	switch {
	case dispatchID != "" && h.DispatchID != dispatchID:
		return fmt.Errorf("%w: %s task %s was re-dispatched", task.ErrStaleDispatch, kind, id)
	case h.Status == task.StatusCancelled:
		return fmt.Errorf("%w: %s task %s", task.ErrCancelled, kind, id)
	}
	return fmt.Errorf("%w: %s task %s from %s to %s", task.ErrInvalidTransition, kind, id, h.Status, to)
}

// Cancel marks a non-terminal task cancelled. It reports false, with no
// error, when the task had already finished.
func (s *Store) Cancel(ctx context.Context, kind task.Kind, id string) (bool, error) {
	ok, err := s.transition(ctx, kind, id, guard{from: task.CancellableFrom(kind)}, map[string]any{
		"status":       string(task.StatusCancelled),
		"completed_at": time.Now(),
	})
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.header(ctx, kind, id); err != nil {
		return false, err
	}
	return false, nil
}

// CancelMany cancels every non-terminal task of kind among ids and returns
// how many changed. An empty ids cancels every non-terminal task of kind.
func (s *Store) CancelMany(ctx context.Context, kind task.Kind, ids []string) (int, error) {
	rec := task.New(kind)
	if rec == nil {
		return 0, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	now := time.Now()
	q := s.db.WithContext(ctx).Model(rec).Where("status IN ?", statusStrings(task.CancellableFrom(kind)...))
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]any{
		"status":       string(task.StatusCancelled),
		"completed_at": now,
		"updated_at":   now,
	})
	return int(res.RowsAffected), res.Error
}
