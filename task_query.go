// task_query.go defines the list_tasks, update_task, delete_task and
// list_selectors tool types.
package main

// ListTasksArgs is the input for the list_tasks tool. Filters combine with
// AND; results are newest first.
type ListTasksArgs struct {
	Kind         string `json:"kind" jsonschema:"Task kind: code_diff, requirement_parse or pipeline"`
	Status       string `json:"status,omitempty" jsonschema:"Only tasks in this status"`
	PipelineType string `json:"pipeline_type,omitempty" jsonschema:"Pipelines of this type only"`
	Category     string `json:"category,omitempty" jsonschema:"Requirements in this category only"`
	NameContains string `json:"name_contains,omitempty" jsonschema:"Substring of the task name"`
	Offset       int    `json:"offset,omitempty" jsonschema:"Rows to skip"`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum rows (default 100, max 1000)"`
}

// ListTasksOutput holds the matching records.
type ListTasksOutput struct {
	Tasks []any `json:"tasks"`
	Count int   `json:"count"`
}

// UpdateTaskArgs is the input for the update_task tool. Only input fields
// may change, and only while the task is not dispatched or running.
type UpdateTaskArgs struct {
	Kind   string         `json:"kind" jsonschema:"Task kind"`
	TaskID string         `json:"task_id" jsonschema:"Task to update"`
	Fields map[string]any `json:"fields" jsonschema:"Column values to set, e.g. name, base_ref, priority, config"`
}

// DeleteTaskArgs is the input for the delete_task tool.
type DeleteTaskArgs struct {
	Kind   string `json:"kind" jsonschema:"Task kind"`
	TaskID string `json:"task_id" jsonschema:"Task to delete"`
}

// DeleteOutput confirms a delete.
type DeleteOutput struct {
	Deleted bool `json:"deleted"`
}

// ListSelectorsArgs is the input for the list_selectors tool.
type ListSelectorsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum tasks per kind (default 100)"`
}

// ListSelectorsOutput lists the completed tasks a new pipeline may use as
// inputs.
type ListSelectorsOutput struct {
	CodeDiffs    []Selector `json:"code_diffs"`
	Requirements []Selector `json:"requirements"`
}

// Selector is a compact view of one completed input task.
type Selector struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}
