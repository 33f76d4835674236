package pipeline

import (
	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

const (
	envelopeSummaryLen    = 500
	defaultComplexity     = "medium"
	defaultEstimatedHours = 8.0
)

// ParseRequirement decodes the model's structured requirement. A reply with
// no usable JSON object degrades to an envelope built from the first 500
// runes and the task's own category and priority; ok reports which happened.
func ParseRequirement(content string, t *task.RequirementTask) (parsed map[string]any, ok bool) {
	if obj, decoded := llm.DecodeObject(content); decoded {
		return obj, true
	}
	return map[string]any{
		"summary":                     head(content, envelopeSummaryLen),
		"functional_requirements":     []any{},
		"non_functional_requirements": []any{},
		"category":                    t.Category,
		"priority":                    t.Priority,
		"complexity":                  defaultComplexity,
		"estimated_hours":             defaultEstimatedHours,
	}, false
}

// RequirementResult maps a parsed requirement onto the task's result
// columns, defaulting what the model left out.
func RequirementResult(parsed map[string]any, t *task.RequirementTask, c llm.Completion) task.RequirementResult {
	res := task.RequirementResult{
		Structured:     parsed,
		Category:       t.Category,
		Complexity:     defaultComplexity,
		EstimatedHours: defaultEstimatedHours,
		Model:          c.Model,
		TokensUsed:     c.TokensUsed,
		ProcessingTime: c.Duration.Seconds(),
	}
	if s, ok := parsed["summary"].(string); ok {
		res.ParsedContent = s
	}
	if s, ok := parsed["category"].(string); ok && s != "" {
		res.Category = s
	}
	if s, ok := parsed["complexity"].(string); ok && s != "" {
		res.Complexity = s
	}
	if f, ok := Number(parsed["estimated_hours"]); ok {
		res.EstimatedHours = f
	}
	return res
}
