package store

import (
	"context"
	"math"
	"time"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// KindStats counts the tasks of one kind per status.
type KindStats struct {
	Total    int                 `json:"total"`
	ByStatus map[task.Status]int `json:"by_status"`
}

// Stats aggregates every kind. TotalExecutions counts finished runs
// (completed plus failed) and SuccessRate is the completed share of those,
// as a percentage.
type Stats struct {
	Kinds           map[task.Kind]KindStats `json:"kinds"`
	TotalExecutions int                     `json:"total_executions"`
	SuccessRate     float64                 `json:"success_rate"`
}

// Stats counts tasks per kind and status with one GROUP BY per table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	out := Stats{Kinds: make(map[task.Kind]KindStats, len(task.Kinds))}
	var completed, failed int
	for _, kind := range task.Kinds {
		var rows []struct {
			Status task.Status
			N      int
		}
		err := s.db.WithContext(ctx).Model(task.New(kind)).
			Select("status, count(*) AS n").
			Group("status").
			Scan(&rows).Error
		if err != nil {
			return Stats{}, err
		}
		ks := KindStats{ByStatus: make(map[task.Status]int, 6)}
		for _, st := range task.Statuses(kind) {
			ks.ByStatus[st] = 0
		}
		for _, r := range rows {
			ks.ByStatus[r.Status] = r.N
			ks.Total += r.N
		}
		completed += ks.ByStatus[task.StatusCompleted]
		failed += ks.ByStatus[task.StatusFailed]
		out.Kinds[kind] = ks
	}
	out.TotalExecutions = completed + failed
	if out.TotalExecutions > 0 {
		rate := float64(completed) / float64(out.TotalExecutions) * 100
		out.SuccessRate = math.Round(rate*100) / 100
	}
	return out, nil
}

// Summary is the lightweight aggregate returned by check_tasks. No result
// content is included.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Dispatched int `json:"dispatched"` // processing or queued
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// TaskStatus is one line of a Summary.
type TaskStatus struct {
	Kind           task.Kind   `json:"kind"`
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         task.Status `json:"status"`
	Error          string      `json:"error,omitempty"`
	ElapsedSeconds int         `json:"elapsed_seconds"`
}

// Summary counts the tasks of kind matching ids (all when empty) and lists
// each with its elapsed time.
func (s *Store) Summary(ctx context.Context, kind task.Kind, ids []string) (Summary, []TaskStatus, error) {
	recs, err := s.List(ctx, kind, Filter{IDs: ids, Limit: maxListLimit})
	if err != nil {
		return Summary{}, nil, err
	}
	var sum Summary
	statuses := make([]TaskStatus, 0, len(recs))
	now := time.Now()
	for _, rec := range recs {
		h := rec.Head()
		sum.Total++
		switch h.Status {
		case task.StatusPending:
			sum.Pending++
		case task.StatusProcessing, task.StatusQueued:
			sum.Dispatched++
		case task.StatusRunning:
			sum.Running++
		case task.StatusCompleted:
			sum.Completed++
		case task.StatusFailed:
			sum.Failed++
		case task.StatusCancelled:
			sum.Cancelled++
		}
		statuses = append(statuses, TaskStatus{
			Kind:           kind,
			ID:             h.ID,
			Name:           h.Name,
			Status:         h.Status,
			Error:          h.ErrorMessage,
			ElapsedSeconds: ElapsedSeconds(h, now),
		})
	}
	return sum, statuses, nil
}

// ElapsedSeconds computes wall-clock seconds for a task based on its state.
//   - pending: seconds since created
//   - processing/queued: seconds since dispatch (queue wait)
//   - running: seconds since started
//   - completed/failed/cancelled: start to completion if it ran, else 0
func ElapsedSeconds(h *task.Header, now time.Time) int {
	switch h.Status {
	case task.StatusPending:
		return int(now.Sub(h.CreatedAt).Seconds())
	case task.StatusProcessing, task.StatusQueued:
		return int(now.Sub(h.UpdatedAt).Seconds())
	case task.StatusRunning:
		if h.StartedAt == nil {
			return 0
		}
		return int(now.Sub(*h.StartedAt).Seconds())
	case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		if h.StartedAt == nil || h.CompletedAt == nil {
			return 0
		}
		return int(h.CompletedAt.Sub(*h.StartedAt).Seconds())
	}
	return 0
}
