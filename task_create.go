// task_create.go defines the create_* tool types. Every create returns the
// new pending record.
package main

// CreateCodeDiffArgs is the input for the create_code_diff_task tool.
type CreateCodeDiffArgs struct {
	Name     string         `json:"name" jsonschema:"Display name"`
	RepoURL  string         `json:"repo_url" jsonschema:"Clone URL or local path of the repository"`
	BaseRef  string         `json:"base_ref" jsonschema:"Branch, tag or commit the diff starts from"`
	HeadRef  string         `json:"head_ref" jsonschema:"Branch, tag or commit the diff ends at"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata kept with the task"`
}

// CreateRequirementArgs is the input for the create_requirement_task tool.
type CreateRequirementArgs struct {
	Name      string         `json:"name" jsonschema:"Display name"`
	InputType string         `json:"input_type" jsonschema:"text or file"`
	Content   string         `json:"content,omitempty" jsonschema:"Requirement text, for input_type text"`
	FilePath  string         `json:"file_path,omitempty" jsonschema:"Path to a .txt or .md file readable by the worker, for input_type file"`
	Category  string         `json:"category,omitempty" jsonschema:"Requirement category"`
	Priority  string         `json:"priority,omitempty" jsonschema:"low, medium (default), high or urgent"`
	Metadata  map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata kept with the task"`
}

// CreatePipelineArgs is the input for the create_pipeline_task tool. At
// least one input task is required and every input must be completed.
type CreatePipelineArgs struct {
	Name              string         `json:"name" jsonschema:"Display name"`
	Description       string         `json:"description,omitempty" jsonschema:"What the pipeline is for"`
	PipelineType      string         `json:"pipeline_type" jsonschema:"code_review, test_generation, documentation or other"`
	CodeDiffTaskID    string         `json:"code_diff_task_id,omitempty" jsonschema:"Completed code diff task to draw on"`
	RequirementTaskID string         `json:"requirement_task_id,omitempty" jsonschema:"Completed requirement task to draw on"`
	PromptTemplateID  string         `json:"prompt_template_id,omitempty" jsonschema:"Template to resolve instead of the built-in prompt"`
	KnowledgeBaseID   string         `json:"knowledge_base_id,omitempty" jsonschema:"Knowledge base to pull context from"`
	Config            map[string]any `json:"config,omitempty" jsonschema:"Model settings: model_profile, model, temperature, top_p, max_tokens, system, focus_areas"`
	Metadata          map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata kept with the task"`
}

// TaskOutput wraps a single task record.
type TaskOutput struct {
	Task any `json:"task"`
}
