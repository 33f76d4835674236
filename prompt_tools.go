// prompt_tools.go defines the template management and prompt resolution
// tool types.
package main

// CreateTemplateArgs is the input for the create_template tool.
type CreateTemplateArgs struct {
	Identifier  string `json:"identifier" jsonschema:"Unique word-character name other templates chain to with {{GENERATE_FROM:identifier}}"`
	Name        string `json:"name,omitempty" jsonschema:"Display name (default: identifier)"`
	Content     string `json:"content" jsonschema:"Template body with {{variable}} placeholders and chain markers"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty" jsonschema:"Inactive templates cannot be chained to (default true)"`
}

// TemplateOutput wraps one template.
type TemplateOutput struct {
	Template any `json:"template"`
}

// ListTemplatesArgs is the input for the list_templates tool.
type ListTemplatesArgs struct {
	Category   string `json:"category,omitempty" jsonschema:"Only templates in this category"`
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Skip inactive templates"`
}

// ListTemplatesOutput holds the matching templates.
type ListTemplatesOutput struct {
	Templates []any `json:"templates"`
}

// UpdateTemplateArgs is the input for the update_template tool. The
// identifier cannot change.
type UpdateTemplateArgs struct {
	TemplateID string         `json:"template_id"`
	Fields     map[string]any `json:"fields" jsonschema:"Any of name, content, description, category, is_active"`
}

// DeleteTemplateArgs is the input for the delete_template tool.
type DeleteTemplateArgs struct {
	TemplateID string `json:"template_id"`
}

// ValidatePromptArgs is the input for the validate_prompt tool. Nothing is
// sent to a model.
type ValidatePromptArgs struct {
	Content   string         `json:"content" jsonschema:"Template body to check"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"Values for the preview"`
}

// ResolvePromptArgs is the input for the resolve_prompt tool. Give either a
// stored template's identifier or inline content.
type ResolvePromptArgs struct {
	Identifier string         `json:"identifier,omitempty" jsonschema:"Stored template to resolve"`
	Content    string         `json:"content,omitempty" jsonschema:"Inline body to resolve"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// ResolvePromptOutput is the fully expanded prompt.
type ResolvePromptOutput struct {
	Resolved string `json:"resolved"`
}
