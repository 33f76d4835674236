package task

import (
	"gorm.io/datatypes"
)

// Result is a kind-specific result payload. The store writes its columns and
// the completed status in one UPDATE so a half-written result is never
// observable as completed.
type Result interface {
	Kind() Kind
	Columns() map[string]any
}

// CodeDiffResult is what a diff run produces.
type CodeDiffResult struct {
	DiffText     string
	DiffSummary  string
	FilesChanged int
	LinesAdded   int
	LinesDeleted int
}

func (CodeDiffResult) Kind() Kind { return KindCodeDiff }

func (r CodeDiffResult) Columns() map[string]any {
	return map[string]any{
		"diff_text":     r.DiffText,
		"diff_summary":  r.DiffSummary,
		"files_changed": r.FilesChanged,
		"lines_added":   r.LinesAdded,
		"lines_deleted": r.LinesDeleted,
	}
}

// RequirementResult is what a requirement parse produces.
type RequirementResult struct {
	ParsedContent  string
	Structured     map[string]any
	Category       string
	Complexity     string
	EstimatedHours float64
	Model          string
	TokensUsed     int
	ProcessingTime float64
}

func (RequirementResult) Kind() Kind { return KindRequirement }

func (r RequirementResult) Columns() map[string]any {
	cols := map[string]any{
		"parsed_content":          r.ParsedContent,
		"structured_requirements": datatypes.JSONMap(r.Structured),
		"complexity":              r.Complexity,
		"estimated_hours":         r.EstimatedHours,
		"llm_model":               r.Model,
		"tokens_used":             r.TokensUsed,
		"processing_time":         r.ProcessingTime,
	}
	if r.Category != "" {
		cols["category"] = r.Category
	}
	return cols
}

// PipelineResult is what a pipeline run produces.
type PipelineResult struct {
	Result        string
	ResultData    map[string]any
	ExecutionTime float64
	Model         string
	TokensUsed    int
}

func (PipelineResult) Kind() Kind { return KindPipeline }

func (r PipelineResult) Columns() map[string]any {
	return map[string]any{
		"result":         r.Result,
		"result_data":    datatypes.JSONMap(r.ResultData),
		"execution_time": r.ExecutionTime,
		"llm_model":      r.Model,
		"tokens_used":    r.TokensUsed,
	}
}

// ClearedResult returns the result columns of kind k reset to empty, used
// when a run fails so a stale payload from an earlier run cannot sit next to
// a failed status.
func ClearedResult(k Kind) map[string]any {
	switch k {
	case KindCodeDiff:
		return CodeDiffResult{}.Columns()
	case KindRequirement:
		cols := RequirementResult{}.Columns()
		cols["structured_requirements"] = nil
		return cols
	case KindPipeline:
		cols := PipelineResult{}.Columns()
		cols["result_data"] = nil
		return cols
	}
	return map[string]any{}
}
