// execute_task.go defines the execute_task tool types and the execution
// polling tools.
package main

import "github.com/AaronKronberg/OpusPipeline/internal/store"

// ExecuteTaskArgs is the input for the execute_task tool.
type ExecuteTaskArgs struct {
	Kind   string `json:"kind" jsonschema:"Task kind: code_diff, requirement_parse or pipeline"`
	TaskID string `json:"task_id" jsonschema:"Pending, failed or completed task to run"`
	// ConfigOverride is merged over the pipeline's config for this run only.
	ConfigOverride map[string]any `json:"config_override,omitempty" jsonschema:"Model settings for this run only; wins over the task config"`
}

// ExecuteTaskOutput identifies the execution record to poll.
type ExecuteTaskOutput struct {
	ExecutionID string `json:"execution_id"`
	TaskID      string `json:"task_id"`
	Status      string `json:"status"` // the task's status after dispatch
}

// GetProgressArgs is the input for the get_progress tool. Either an
// execution id, or a kind and task id for the task's latest execution.
type GetProgressArgs struct {
	ExecutionID string `json:"execution_id,omitempty" jsonschema:"Execution to report on"`
	Kind        string `json:"kind,omitempty" jsonschema:"Task kind, with task_id, to report on its latest execution"`
	TaskID      string `json:"task_id,omitempty" jsonschema:"Task whose latest execution to report on"`
}

// GetProgressOutput wraps the poller view of one execution.
type GetProgressOutput struct {
	Progress any `json:"progress"`
}

// ListExecutionsArgs is the input for the list_executions tool.
type ListExecutionsArgs struct {
	Kind   string `json:"kind" jsonschema:"Task kind"`
	TaskID string `json:"task_id" jsonschema:"Task whose attempts to list"`
}

// ListExecutionsOutput lists every attempt of a task, newest first.
type ListExecutionsOutput struct {
	Executions []any `json:"executions"`
}

// GetStatsArgs is the input for the get_stats tool. No arguments needed.
type GetStatsArgs struct{}

// GetStatsOutput holds the per-kind, per-status counts.
type GetStatsOutput struct {
	Stats store.Stats `json:"stats"`
}
