package prompt

import (
	"strings"
)

// DefaultInputs carries what the built-in prompt bodies interpolate.
type DefaultInputs struct {
	CodeDiff         string
	Requirement      string
	KnowledgeContext string
	FocusAreas       []string
}

// DefaultPrompt returns the built-in body for a pipeline type. Unknown types
// get the generic analysis prompt. Pipelines without a template rely on this.
func DefaultPrompt(pipelineType string, in DefaultInputs) string {
	var b strings.Builder
	switch pipelineType {
	case "code_review":
		b.WriteString("Review the following code change in detail.\n\n")
		section(&b, "Related requirement", in.Requirement)
		b.WriteString("Code diff:\n")
		b.WriteString(in.CodeDiff)
		b.WriteString("\n\n")
		section(&b, "Relevant knowledge", in.KnowledgeContext)
		if len(in.FocusAreas) > 0 {
			b.WriteString("Pay particular attention to: ")
			b.WriteString(strings.Join(in.FocusAreas, ", "))
			b.WriteString("\n\n")
		}
		b.WriteString(codeReviewFormat)

	case "test_generation":
		b.WriteString("Generate test cases from the following information.\n\n")
		section(&b, "Requirement", in.Requirement)
		section(&b, "Code changes", in.CodeDiff)
		section(&b, "Relevant knowledge", in.KnowledgeContext)
		b.WriteString("Produce detailed test cases covering unit, integration and end-to-end tests.\n")

	case "documentation":
		b.WriteString("Write technical documentation from the following information.\n\n")
		section(&b, "Requirement", in.Requirement)
		section(&b, "Code changes", in.CodeDiff)
		section(&b, "Relevant knowledge", in.KnowledgeContext)
		b.WriteString("Describe the functionality, how to use it, and any caveats. Be clear and specific.\n")

	default:
		b.WriteString("Analyse the following content.\n\n")
		section(&b, "Requirement", in.Requirement)
		section(&b, "Code changes", in.CodeDiff)
		section(&b, "Relevant knowledge", in.KnowledgeContext)
		b.WriteString("Provide a detailed analysis with recommendations.\n")
	}
	return b.String()
}

// section writes "title:\nbody\n\n", or nothing when body is empty.
func section(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
	b.WriteString("\n\n")
}

const codeReviewFormat = `Return the review as JSON in exactly this shape:
{
    "summary": "overall assessment",
    "issues": [
        {
            "type": "security|performance|logic|style",
            "severity": "low|medium|high|critical",
            "file": "path",
            "line": 0,
            "description": "what is wrong",
            "suggestion": "how to fix it"
        }
    ],
    "suggestions": ["improvement"],
    "security_score": 0,
    "quality_score": 0
}
`

// RequirementParsePrompt asks the model to structure a requirement document.
func RequirementParsePrompt(content, fileType string) string {
	var b strings.Builder
	b.WriteString("Analyse the following ")
	b.WriteString(fileType)
	b.WriteString(" requirement document and extract structured information.\n\nRequirement:\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(`Return JSON in exactly this shape:
{
    "summary": "one paragraph summary",
    "functional_requirements": ["..."],
    "non_functional_requirements": ["..."],
    "acceptance_criteria": ["..."],
    "category": "category",
    "priority": "low|medium|high|urgent",
    "complexity": "simple|medium|complex",
    "estimated_hours": 0,
    "dependencies": ["..."],
    "risks": ["..."]
}
Return valid JSON only.
`)
	return b.String()
}
