// task_summary.go defines the check_tasks tool types: lightweight status
// polling with aggregate counts and per-task status (no result content).
package main

import "github.com/AaronKronberg/OpusPipeline/internal/store"

// CheckTasksArgs is the input for the check_tasks tool.
type CheckTasksArgs struct {
	// Kind limits the check to one task kind. Empty checks all three.
	Kind string `json:"kind,omitempty" jsonschema:"Task kind to check. Empty checks every kind."`
	// TaskIDs filters to specific tasks. Empty returns all tasks.
	TaskIDs []string `json:"task_ids,omitempty" jsonschema:"Filter to specific task IDs. Empty returns all."`
}

// CheckTasksOutput contains a compact summary plus individual task statuses.
// Use get_task for results.
type CheckTasksOutput struct {
	Summary store.Summary      `json:"summary"`
	Tasks   []store.TaskStatus `json:"tasks"`
}
