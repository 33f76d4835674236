// Package pipeline admits pipeline tasks and turns one into a prompt: it
// gathers the completed inputs, fetches knowledge context, resolves the
// template (or falls back to a built-in body) and picks model parameters.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

const (
	// queryPartLen caps each input's share of the knowledge query, in runes.
	queryPartLen = 1000
	// DefaultContextLen is the knowledge context budget, in runes.
	DefaultContextLen = 2000
)

// Store is what the composer reads and writes.
type Store interface {
	Create(ctx context.Context, rec task.Record) error
	Get(ctx context.Context, kind task.Kind, id string) (task.Record, error)
	GetTemplate(ctx context.Context, id string) (*prompt.Template, error)
}

// ContextProvider supplies knowledge-base text for a query.
type ContextProvider interface {
	Context(ctx context.Context, kbID, query string, maxLen int) (string, error)
}

// Composer is safe for concurrent use.
type Composer struct {
	store      Store
	resolver   *prompt.Resolver
	knowledge  ContextProvider
	profiles   map[string]llm.Profile
	contextLen int
	log        *zap.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithKnowledge sets the context provider. Without one, knowledge context is
// always empty.
func WithKnowledge(p ContextProvider) Option {
	return func(c *Composer) { c.knowledge = p }
}

// WithProfiles sets the named model profiles config may refer to.
func WithProfiles(p map[string]llm.Profile) Option {
	return func(c *Composer) { c.profiles = p }
}

// WithContextLen overrides DefaultContextLen.
func WithContextLen(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.contextLen = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.log = l
		}
	}
}

func New(store Store, resolver *prompt.Resolver, opts ...Option) *Composer {
	c := &Composer{
		store:      store,
		resolver:   resolver,
		contextLen: DefaultContextLen,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest is the input of Admit.
type CreateRequest struct {
	Name              string
	Description       string
	PipelineType      task.PipelineType
	CodeDiffTaskID    string
	RequirementTaskID string
	PromptTemplateID  string
	KnowledgeBaseID   string
	Config            map[string]any
	Metadata          map[string]any
}

// Admit validates req and creates a pending pipeline. Every referenced input
// must exist and be completed now; it is not checked again at execution.
func (c *Composer) Admit(ctx context.Context, req CreateRequest) (*task.PipelineTask, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", task.ErrInvalidInput)
	}
	if !req.PipelineType.Valid() {
		return nil, fmt.Errorf("%w: unknown pipeline_type %q", task.ErrInvalidInput, req.PipelineType)
	}
	if req.CodeDiffTaskID == "" && req.RequirementTaskID == "" {
		return nil, task.ErrMissingInput
	}
	if req.CodeDiffTaskID != "" {
		if err := c.requireCompleted(ctx, task.KindCodeDiff, req.CodeDiffTaskID); err != nil {
			return nil, err
		}
	}
	if req.RequirementTaskID != "" {
		if err := c.requireCompleted(ctx, task.KindRequirement, req.RequirementTaskID); err != nil {
			return nil, err
		}
	}
	if req.PromptTemplateID != "" {
		if _, err := c.store.GetTemplate(ctx, req.PromptTemplateID); err != nil {
			return nil, err
		}
	}
	if _, err := c.ModelParams(req.Config, nil); err != nil {
		return nil, err
	}

	p := &task.PipelineTask{
		Header:            task.Header{Name: req.Name, Metadata: datatypes.JSONMap(req.Metadata)},
		Description:       req.Description,
		PipelineType:      req.PipelineType,
		CodeDiffTaskID:    optional(req.CodeDiffTaskID),
		RequirementTaskID: optional(req.RequirementTaskID),
		PromptTemplateID:  optional(req.PromptTemplateID),
		KnowledgeBaseID:   optional(req.KnowledgeBaseID),
		Config:            datatypes.JSONMap(req.Config),
	}
	if err := c.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Composer) requireCompleted(ctx context.Context, kind task.Kind, id string) error {
	rec, err := c.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	if st := rec.Head().Status; st != task.StatusCompleted {
		return fmt.Errorf("%w: %s task %s is %s", task.ErrDependencyNotReady, kind, id, st)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Inputs is everything a pipeline run draws on.
type Inputs struct {
	CodeDiff               string
	CodeDiffSummary        string
	Requirement            string
	StructuredRequirements map[string]any
	KnowledgeContext       string
}

// Collect loads the pipeline's input tasks. An input deleted since admission
// contributes nothing.
func (c *Composer) Collect(ctx context.Context, p *task.PipelineTask) (Inputs, error) {
	var in Inputs
	if id := deref(p.CodeDiffTaskID); id != "" {
		rec, err := c.store.Get(ctx, task.KindCodeDiff, id)
		switch {
		case errors.Is(err, task.ErrNotFound):
			c.log.Warn("code diff input is gone", zap.String("pipeline_id", p.ID), zap.String("code_diff_task_id", id))
		case err != nil:
			return Inputs{}, err
		default:
			cd := rec.(*task.CodeDiffTask)
			in.CodeDiff = cd.DiffText
			in.CodeDiffSummary = cd.DiffSummary
		}
	}
	if id := deref(p.RequirementTaskID); id != "" {
		rec, err := c.store.Get(ctx, task.KindRequirement, id)
		switch {
		case errors.Is(err, task.ErrNotFound):
			c.log.Warn("requirement input is gone", zap.String("pipeline_id", p.ID), zap.String("requirement_task_id", id))
		case err != nil:
			return Inputs{}, err
		default:
			req := rec.(*task.RequirementTask)
			in.Requirement = requirementText(req)
			in.StructuredRequirements = req.StructuredRequirements
		}
	}
	return in, nil
}

// requirementText prefers the parsed summary, then the original text, then
// the summary inside the structured form.
func requirementText(r *task.RequirementTask) string {
	if r.ParsedContent != "" {
		return r.ParsedContent
	}
	if r.OriginalContent != "" {
		return r.OriginalContent
	}
	if s, ok := r.StructuredRequirements["summary"].(string); ok {
		return s
	}
	return ""
}

// Query builds the knowledge query from the first runes of each input.
func Query(in Inputs) string {
	var b strings.Builder
	if in.CodeDiff != "" {
		b.WriteString("Code changes: ")
		b.WriteString(head(in.CodeDiff, queryPartLen))
		b.WriteString("\n")
	}
	if in.Requirement != "" {
		b.WriteString("Requirement: ")
		b.WriteString(head(in.Requirement, queryPartLen))
	}
	return b.String()
}

// KnowledgeContext fetches context for the pipeline's knowledge base.
// Provider errors are logged and yield "".
func (c *Composer) KnowledgeContext(ctx context.Context, p *task.PipelineTask, in Inputs) string {
	kb := deref(p.KnowledgeBaseID)
	if kb == "" || c.knowledge == nil {
		return ""
	}
	q := Query(in)
	if strings.TrimSpace(q) == "" {
		return ""
	}
	text, err := c.knowledge.Context(ctx, kb, q, c.contextLen)
	if err != nil {
		c.log.Warn("knowledge context unavailable",
			zap.String("pipeline_id", p.ID), zap.String("knowledge_base_id", kb), zap.Error(err))
		return ""
	}
	return text
}

// Gather runs Collect and KnowledgeContext.
func (c *Composer) Gather(ctx context.Context, p *task.PipelineTask) (Inputs, error) {
	in, err := c.Collect(ctx, p)
	if err != nil {
		return Inputs{}, err
	}
	in.KnowledgeContext = c.KnowledgeContext(ctx, p, in)
	return in, nil
}

// Variables is the fixed set a pipeline template can reference.
func Variables(in Inputs, p *task.PipelineTask) map[string]any {
	structured := in.StructuredRequirements
	if structured == nil {
		structured = map[string]any{}
	}
	js, _ := json.MarshalIndent(structured, "", "  ")
	return map[string]any{
		"code_diff":               in.CodeDiff,
		"code_diff_summary":       in.CodeDiffSummary,
		"requirement_content":     in.Requirement,
		"structured_requirements": string(js),
		"knowledge_context":       in.KnowledgeContext,
		"pipeline_type":           string(p.PipelineType),
		"task_name":               p.Name,
		"task_description":        p.Description,
	}
}

// BuildPrompt resolves the pipeline's template, or uses the built-in body
// for its type when there is no template or it resolves to nothing. A
// template deleted since admission also falls back. Resolution failures of
// chained templates are returned.
func (c *Composer) BuildPrompt(ctx context.Context, p *task.PipelineTask, in Inputs, cfg map[string]any) (string, error) {
	if id := deref(p.PromptTemplateID); id != "" {
		tmpl, err := c.store.GetTemplate(ctx, id)
		switch {
		case errors.Is(err, task.ErrNotFound):
			c.log.Warn("prompt template is gone, using default", zap.String("pipeline_id", p.ID), zap.String("template_id", id))
		case err != nil:
			return "", err
		default:
			out, err := c.resolver.ResolveBody(ctx, tmpl, Variables(in, p))
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) != "" {
				return out, nil
			}
		}
	}
	return prompt.DefaultPrompt(string(p.PipelineType), prompt.DefaultInputs{
		CodeDiff:         in.CodeDiff,
		Requirement:      in.Requirement,
		KnowledgeContext: in.KnowledgeContext,
		FocusAreas:       stringList(cfg["focus_areas"]),
	}), nil
}

// ParseResult turns the raw completion into result_data. Code reviews are
// expected to be JSON; anything that does not decode, and every other type,
// is wrapped as {"content": raw}.
func ParseResult(pt task.PipelineType, content string) map[string]any {
	if pt == task.PipelineCodeReview {
		if obj, ok := llm.DecodeObject(content); ok {
			return obj
		}
	}
	return map[string]any{"content": content}
}

// head returns the first n runes of s.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if x != "" {
			return []string{x}
		}
	}
	return nil
}
