// cancel_tasks.go defines the cancel_tasks tool types.
package main

// CancelTasksArgs is the input for the cancel_tasks tool.
type CancelTasksArgs struct {
	Kind string `json:"kind" jsonschema:"Task kind: code_diff, requirement_parse or pipeline"`
	// TaskIDs cancels specific tasks. Empty cancels every unfinished task of
	// the kind.
	TaskIDs []string `json:"task_ids,omitempty" jsonschema:"Specific task IDs to cancel. Empty cancels every unfinished task of the kind."`
}

// CancelTasksOutput reports how many tasks were actually cancelled. Tasks
// that had already finished are not counted.
type CancelTasksOutput struct {
	Cancelled int `json:"cancelled"`
}
