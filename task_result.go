// task_result.go defines the get_task tool types: full record retrieval,
// results included, for specific tasks.
package main

// GetTaskArgs is the input for the get_task tool.
type GetTaskArgs struct {
	Kind    string   `json:"kind" jsonschema:"Task kind: code_diff, requirement_parse or pipeline"`
	TaskIDs []string `json:"task_ids" jsonschema:"Task IDs to retrieve"`
}

// GetTaskOutput contains one entry per requested id, in request order.
type GetTaskOutput struct {
	Results []TaskResult `json:"results"`
}

// TaskResult is the full record of one task, or the reason it could not be
// loaded.
type TaskResult struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"` // lookup error, or the task's own error_message
	Task   any    `json:"task,omitempty"`  // the stored record, result columns included
}
