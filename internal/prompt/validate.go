package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^\w+$`)

// ValidIdentifier reports whether id can appear in a GENERATE_FROM marker.
func ValidIdentifier(id string) bool { return identifierPattern.MatchString(id) }

// Validation is the result of checking a template body without running any
// chained generation.
type Validation struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	ResolvedPreview string   `json:"resolved_preview"`
	VariablesFound  []string `json:"variables_found"`
	ChainedPrompts  []string `json:"chained_prompts"`
}

// Validate reports malformed or dangling chain markers as errors and
// variables with no supplied value as warnings. The preview substitutes the
// supplied variables and replaces each chain marker with
// [CHAINED_PROMPT:<identifier>].
func (r *Resolver) Validate(ctx context.Context, content string, vars map[string]any) Validation {
	v := Validation{
		Errors:         []string{},
		Warnings:       []string{},
		VariablesFound: ExtractVariables(content),
		ChainedPrompts: ExtractChainedPrompts(content),
	}

	for _, m := range anyChainPattern.FindAllStringSubmatch(content, -1) {
		if !identifierPattern.MatchString(m[1]) {
			v.Errors = append(v.Errors, fmt.Sprintf("malformed chain marker %q", m[0]))
		}
	}

	if r != nil && r.source != nil {
		for _, id := range v.ChainedPrompts {
			if _, err := r.lookup(ctx, id); err != nil {
				switch {
				case errors.Is(err, ErrTemplateNotFound):
					v.Errors = append(v.Errors, fmt.Sprintf("chained template %q does not exist", id))
				case errors.Is(err, ErrTemplateInactive):
					v.Errors = append(v.Errors, fmt.Sprintf("chained template %q is inactive", id))
				default:
					v.Errors = append(v.Errors, err.Error())
				}
			}
		}
	}

	for _, name := range v.VariablesFound {
		if _, ok := vars[name]; !ok {
			v.Warnings = append(v.Warnings, fmt.Sprintf("variable %q has no value", name))
		}
	}

	preview := Substitute(content, vars)
	for _, id := range v.ChainedPrompts {
		preview = strings.ReplaceAll(preview, "{{GENERATE_FROM:"+id+"}}", "[CHAINED_PROMPT:"+id+"]")
	}
	v.ResolvedPreview = preview
	v.Valid = len(v.Errors) == 0
	return v
}
