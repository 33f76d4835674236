// Package tracker records per-attempt execution progress. It never touches
// task rows: a task's status and its execution records are updated by
// separate statements and are only loosely coupled.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionFinished = errors.New("execution already finished")
)

// secondsPerStep is the flat per-step estimate used for the remaining time.
const secondsPerStep = 30

// Tracker writes task_executions rows. Each row is written only by the
// attempt that created it.
type Tracker struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// NewExecutionID returns a fresh "exec_"-prefixed identifier.
func NewExecutionID() string {
	return "exec_" + uuid.NewString()
}

// Create opens a running execution record for attempt of the task.
func (t *Tracker) Create(ctx context.Context, kind task.Kind, taskID string, stepsTotal, attempt int) (*task.Execution, error) {
	if stepsTotal < 0 {
		stepsTotal = 0
	}
	e := &task.Execution{
		ExecutionID: NewExecutionID(),
		TaskKind:    kind,
		TaskID:      taskID,
		Attempt:     attempt,
		Status:      task.ExecRunning,
		StepsTotal:  stepsTotal,
		StartedAt:   time.Now(),
	}
	if err := t.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, fmt.Errorf("create execution for %s %s: %w", kind, taskID, err)
	}
	return e, nil
}

// Get returns one execution record.
func (t *Tracker) Get(ctx context.Context, executionID string) (*task.Execution, error) {
	var e task.Execution
	if err := t.db.WithContext(ctx).Take(&e, "execution_id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}
		return nil, err
	}
	return &e, nil
}

// UpdateProgress moves the step counter forward. A lower count than the
// stored one is ignored and a count above the total is clamped, so progress
// never regresses. logLine, when non-empty, is appended to the logs.
func (t *Tracker) UpdateProgress(ctx context.Context, executionID string, stepsCompleted int, currentStep, logLine string) (*task.Execution, error) {
	e, err := t.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if e.Finished() {
		return nil, fmt.Errorf("%w: %s is %s", ErrExecutionFinished, executionID, e.Status)
	}

	steps := stepsCompleted
	if steps > e.StepsTotal {
		steps = e.StepsTotal
	}
	if steps < e.StepsCompleted {
		steps = e.StepsCompleted
	}
	cols := map[string]any{
		"steps_completed":     steps,
		"current_step":        currentStep,
		"progress_percentage": percentage(steps, e.StepsTotal),
	}
	if logLine != "" {
		cols["logs"] = appendLog(e.Logs, logLine)
	}

	res := t.db.WithContext(ctx).Model(&task.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, string(task.ExecRunning)).
		Updates(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExecutionFinished, executionID)
	}
	return t.Get(ctx, executionID)
}

func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func appendLog(logs, line string) string {
	line = fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), strings.TrimRight(line, "\n"))
	if logs == "" {
		return line
	}
	return logs + "\n" + line
}

// Outcome is what Complete freezes into an execution record.
type Outcome struct {
	Status        task.Status
	Result        string
	Error         string
	ResourcesUsed map[string]any
}

// Complete moves a running execution to a terminal status. Only the first
// call wins; later ones get ErrExecutionFinished.
func (t *Tracker) Complete(ctx context.Context, executionID string, out Outcome) error {
	switch out.Status {
	case task.ExecCompleted, task.ExecFailed, task.ExecCancelled:
	default:
		return fmt.Errorf("%w: execution cannot finish as %q", task.ErrInvalidInput, out.Status)
	}
	cols := map[string]any{
		"status":         string(out.Status),
		"result":         out.Result,
		"error_message":  out.Error,
		"resources_used": datatypes.JSONMap(out.ResourcesUsed),
		"completed_at":   time.Now(),
	}
	if out.Status == task.ExecCompleted {
		cols["steps_completed"] = gorm.Expr("steps_total")
		cols["progress_percentage"] = 100.0
	}
	res := t.db.WithContext(ctx).Model(&task.Execution{}).
		Where("execution_id = ? AND status = ?", executionID, string(task.ExecRunning)).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := t.Get(ctx, executionID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrExecutionFinished, executionID)
	}
	return nil
}

// ListForTask returns every execution of a task, newest first.
func (t *Tracker) ListForTask(ctx context.Context, kind task.Kind, taskID string) ([]task.Execution, error) {
	var out []task.Execution
	err := t.db.WithContext(ctx).
		Where("task_kind = ? AND task_id = ?", string(kind), taskID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// Latest returns the newest execution of a task.
func (t *Tracker) Latest(ctx context.Context, kind task.Kind, taskID string) (*task.Execution, error) {
	var e task.Execution
	err := t.db.WithContext(ctx).
		Where("task_kind = ? AND task_id = ?", string(kind), taskID).
		Order("id DESC").
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no executions for %s task %s", ErrExecutionNotFound, kind, taskID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Progress is the poller's view of one execution.
type Progress struct {
	ExecutionID               string      `json:"execution_id"`
	TaskKind                  task.Kind   `json:"task_kind"`
	TaskID                    string      `json:"task_id"`
	Attempt                   int         `json:"attempt"`
	Status                    task.Status `json:"status"`
	ProgressPercentage        float64     `json:"progress_percentage"`
	CurrentStep               string      `json:"current_step"`
	StepsCompleted            int         `json:"steps_completed"`
	StepsTotal                int         `json:"steps_total"`
	EstimatedRemainingSeconds *int        `json:"estimated_remaining_seconds,omitempty"`
	ErrorMessage              string      `json:"error_message,omitempty"`
	StartedAt                 time.Time   `json:"started_at"`
	CompletedAt               *time.Time  `json:"completed_at,omitempty"`
}

// Progress loads an execution and derives the remaining-time estimate: a
// flat 30 seconds per remaining step, once at least one step has finished.
func (t *Tracker) Progress(ctx context.Context, executionID string) (*Progress, error) {
	e, err := t.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return ProgressOf(e), nil
}

// ProgressOf builds the poller view of e.
func ProgressOf(e *task.Execution) *Progress {
	p := &Progress{
		ExecutionID:        e.ExecutionID,
		TaskKind:           e.TaskKind,
		TaskID:             e.TaskID,
		Attempt:            e.Attempt,
		Status:             e.Status,
		ProgressPercentage: e.ProgressPercentage,
		CurrentStep:        e.CurrentStep,
		StepsCompleted:     e.StepsCompleted,
		StepsTotal:         e.StepsTotal,
		ErrorMessage:       e.ErrorMessage,
		StartedAt:          e.StartedAt,
		CompletedAt:        e.CompletedAt,
	}
	if p.CurrentStep == "" {
		p.CurrentStep = "preparing"
	}
	if e.Status == task.ExecRunning && e.StepsCompleted > 0 {
		remaining := (e.StepsTotal - e.StepsCompleted) * secondsPerStep
		p.EstimatedRemainingSeconds = &remaining
	}
	return p
}
