// task.go defines the persisted task records. Each kind has its own table and
// its own status column; pipelines reference their inputs by id only.
package task

import (
	"time"

	"gorm.io/datatypes"
)

// Header holds the columns every task kind shares. It is embedded in each
// record so the store can run the same conditional updates on all three
// tables.
type Header struct {
	ID           string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string            `gorm:"type:varchar(255);not null" json:"name"`
	Status       Status            `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"` // set only when failed
	DispatchID   string            `gorm:"type:varchar(36)" json:"dispatch_id,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Head returns the shared columns. Promoted to every record type.
func (h *Header) Head() *Header { return h }

// Record is implemented by the three task kinds.
type Record interface {
	Kind() Kind
	Head() *Header
}

// CodeDiffTask captures the diff between two refs of a repository.
type CodeDiffTask struct {
	Header
	RepoURL string `gorm:"type:text;not null" json:"repo_url"`
	BaseRef string `gorm:"type:varchar(255);not null" json:"base_ref"`
	HeadRef string `gorm:"type:varchar(255);not null" json:"head_ref"`

	DiffText     string `gorm:"type:text" json:"diff_text,omitempty"`
	DiffSummary  string `gorm:"type:text" json:"diff_summary,omitempty"`
	FilesChanged int    `json:"files_changed"`
	LinesAdded   int    `json:"lines_added"`
	LinesDeleted int    `json:"lines_deleted"`
}

func (*CodeDiffTask) Kind() Kind { return KindCodeDiff }

// Input types accepted by a requirement task.
const (
	InputText = "text"
	InputFile = "file"
)

// RequirementTask turns free-form requirement text (or a text file) into a
// structured requirement via the completion provider.
type RequirementTask struct {
	Header
	InputType       string `gorm:"type:varchar(8);not null" json:"input_type"`
	OriginalContent string `gorm:"type:text" json:"original_content,omitempty"`
	FilePath        string `gorm:"type:text" json:"file_path,omitempty"`
	FileName        string `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	Category        string `gorm:"type:varchar(64);index" json:"category,omitempty"`
	Priority        string `gorm:"type:varchar(16);default:medium" json:"priority"`

	ParsedContent          string            `gorm:"type:text" json:"parsed_content,omitempty"`
	StructuredRequirements datatypes.JSONMap `json:"structured_requirements,omitempty"`
	Complexity             string            `gorm:"type:varchar(16)" json:"complexity,omitempty"`
	EstimatedHours         float64           `json:"estimated_hours,omitempty"`
	LLMModel               string            `gorm:"column:llm_model;type:varchar(128)" json:"llm_model,omitempty"`
	TokensUsed             int               `json:"tokens_used,omitempty"`
	ProcessingTime         float64           `json:"processing_time,omitempty"` // seconds
}

func (*RequirementTask) Kind() Kind { return KindRequirement }

// PipelineTask composes a completed code diff and/or requirement into one
// LLM synthesis run. The input references are non-owning.
type PipelineTask struct {
	Header
	Description       string            `gorm:"type:text" json:"description,omitempty"`
	CodeDiffTaskID    *string           `gorm:"type:varchar(36);index" json:"code_diff_task_id,omitempty"`
	RequirementTaskID *string           `gorm:"type:varchar(36);index" json:"requirement_task_id,omitempty"`
	PipelineType      PipelineType      `gorm:"type:varchar(32);not null;index" json:"pipeline_type"`
	PromptTemplateID  *string           `gorm:"type:varchar(36)" json:"prompt_template_id,omitempty"`
	KnowledgeBaseID   *string           `gorm:"type:varchar(36)" json:"knowledge_base_id,omitempty"`
	Config            datatypes.JSONMap `json:"config,omitempty"`

	Result        string            `gorm:"type:text" json:"result,omitempty"`
	ResultData    datatypes.JSONMap `json:"result_data,omitempty"`
	ExecutionTime float64           `json:"execution_time,omitempty"` // seconds
	LLMModel      string            `gorm:"column:llm_model;type:varchar(128)" json:"llm_model,omitempty"`
	TokensUsed    int               `json:"tokens_used,omitempty"`
}

func (*PipelineTask) Kind() Kind { return KindPipeline }

// New returns an empty record of kind k, ready for a gorm query.
func New(k Kind) Record {
	switch k {
	case KindCodeDiff:
		return &CodeDiffTask{}
	case KindRequirement:
		return &RequirementTask{}
	case KindPipeline:
		return &PipelineTask{}
	}
	return nil
}

// TableName returns the table backing kind k.
func TableName(k Kind) string {
	switch k {
	case KindCodeDiff:
		return "code_diff_tasks"
	case KindRequirement:
		return "requirement_tasks"
	case KindPipeline:
		return "pipeline_tasks"
	}
	return ""
}

func (CodeDiffTask) TableName() string    { return TableName(KindCodeDiff) }
func (RequirementTask) TableName() string { return TableName(KindRequirement) }
func (PipelineTask) TableName() string    { return TableName(KindPipeline) }

// Execution status values. An execution is created running and frozen once it
// reaches any of the other three.
const (
	ExecRunning   Status = "running"
	ExecCompleted Status = "completed"
	ExecFailed    Status = "failed"
	ExecCancelled Status = "cancelled"
)

// Execution is one attempt's progress record, decoupled from the task row.
type Execution struct {
	ID                 uint              `gorm:"primaryKey" json:"-"`
	ExecutionID        string            `gorm:"type:varchar(48);uniqueIndex;not null" json:"execution_id"`
	TaskKind           Kind              `gorm:"type:varchar(32);not null;index:idx_exec_task" json:"task_kind"`
	TaskID             string            `gorm:"type:varchar(36);not null;index:idx_exec_task" json:"task_id"`
	Attempt            int               `json:"attempt"`
	Status             Status            `gorm:"type:varchar(16);not null" json:"status"`
	StepsTotal         int               `json:"steps_total"`
	StepsCompleted     int               `json:"steps_completed"`
	CurrentStep        string            `gorm:"type:varchar(255)" json:"current_step,omitempty"`
	ProgressPercentage float64           `json:"progress_percentage"`
	Logs               string            `gorm:"type:text" json:"logs,omitempty"`
	Result             string            `gorm:"type:text" json:"result,omitempty"`
	ErrorMessage       string            `gorm:"type:text" json:"error_message,omitempty"`
	ResourcesUsed      datatypes.JSONMap `json:"resources_used,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
}

func (Execution) TableName() string { return "task_executions" }

// Finished reports whether the execution has reached a terminal status.
func (e *Execution) Finished() bool {
	return e.Status != ExecRunning
}
