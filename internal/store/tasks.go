package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// Filter narrows List. Zero fields are ignored. Category applies only to
// requirement tasks and PipelineType only to pipelines.
type Filter struct {
	IDs          []string
	Status       task.Status
	PipelineType task.PipelineType
	Category     string
	NameContains string
	Offset       int
	Limit        int
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var priorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

// Create validates the inputs of rec, assigns a fresh id and inserts it as
// pending. Result and lifecycle fields supplied by the caller are discarded.
func (s *Store) Create(ctx context.Context, rec task.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil task", task.ErrInvalidInput)
	}
	if err := validateInputs(rec); err != nil {
		return err
	}
	h := rec.Head()
	h.ID = uuid.NewString()
	h.Status = task.StatusPending
	h.ErrorMessage = ""
	h.DispatchID = ""
	h.StartedAt = nil
	h.CompletedAt = nil
	return s.db.WithContext(ctx).Create(rec).Error
}

func validateInputs(rec task.Record) error {
	h := rec.Head()
	h.Name = strings.TrimSpace(h.Name)
	if h.Name == "" {
		return fmt.Errorf("%w: name is required", task.ErrInvalidInput)
	}
	switch t := rec.(type) {
	case *task.CodeDiffTask:
		t.DiffText, t.DiffSummary = "", ""
		t.FilesChanged, t.LinesAdded, t.LinesDeleted = 0, 0, 0
		if t.RepoURL == "" || t.BaseRef == "" || t.HeadRef == "" {
			return fmt.Errorf("%w: repo_url, base_ref and head_ref are required", task.ErrInvalidInput)
		}
	case *task.RequirementTask:
		t.ParsedContent, t.Complexity, t.LLMModel = "", "", ""
		t.StructuredRequirements = nil
		t.EstimatedHours, t.ProcessingTime, t.TokensUsed = 0, 0, 0
		switch t.InputType {
		case task.InputText:
			if strings.TrimSpace(t.OriginalContent) == "" {
				return fmt.Errorf("%w: original_content is required for text input", task.ErrInvalidInput)
			}
		case task.InputFile:
			if t.FilePath == "" {
				return fmt.Errorf("%w: file_path is required for file input", task.ErrInvalidInput)
			}
			if t.FileName == "" {
				t.FileName = filepath.Base(t.FilePath)
			}
		default:
			return fmt.Errorf("%w: input_type must be %q or %q", task.ErrInvalidInput, task.InputText, task.InputFile)
		}
		if t.Priority == "" {
			t.Priority = "medium"
		}
		if !priorities[t.Priority] {
			return fmt.Errorf("%w: unknown priority %q", task.ErrInvalidInput, t.Priority)
		}
	case *task.PipelineTask:
		t.Result, t.LLMModel = "", ""
		t.ResultData = nil
		t.ExecutionTime, t.TokensUsed = 0, 0
		if !t.PipelineType.Valid() {
			return fmt.Errorf("%w: unknown pipeline_type %q", task.ErrInvalidInput, t.PipelineType)
		}
	default:
		return fmt.Errorf("%w: unsupported record %T", task.ErrInvalidInput, rec)
	}
	return nil
}

// Get returns one task by id, or an error wrapping task.ErrNotFound.
func (s *Store) Get(ctx context.Context, kind task.Kind, id string) (task.Record, error) {
	rec := task.New(kind)
	if rec == nil {
		return nil, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	if err := s.db.WithContext(ctx).Take(rec, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, notFound(kind, id)
		}
		return nil, err
	}
	return rec, nil
}

func getAs[T any](ctx context.Context, s *Store, kind task.Kind, id string) (*T, error) {
	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return any(rec).(*T), nil
}

func (s *Store) GetCodeDiff(ctx context.Context, id string) (*task.CodeDiffTask, error) {
	return getAs[task.CodeDiffTask](ctx, s, task.KindCodeDiff, id)
}

func (s *Store) GetRequirement(ctx context.Context, id string) (*task.RequirementTask, error) {
	return getAs[task.RequirementTask](ctx, s, task.KindRequirement, id)
}

func (s *Store) GetPipeline(ctx context.Context, id string) (*task.PipelineTask, error) {
	return getAs[task.PipelineTask](ctx, s, task.KindPipeline, id)
}

// List returns tasks of kind matching f, newest first.
func (s *Store) List(ctx context.Context, kind task.Kind, f Filter) ([]task.Record, error) {
	q, err := s.filtered(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	q = q.Order("created_at DESC").Order("id").Offset(f.Offset).Limit(limit)

	switch kind {
	case task.KindCodeDiff:
		return find[*task.CodeDiffTask](q)
	case task.KindRequirement:
		return find[*task.RequirementTask](q)
	case task.KindPipeline:
		return find[*task.PipelineTask](q)
	}
	return nil, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
}

func find[T task.Record](q *gorm.DB) ([]task.Record, error) {
	var rows []T
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]task.Record, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (s *Store) filtered(ctx context.Context, kind task.Kind, f Filter) (*gorm.DB, error) {
	rec := task.New(kind)
	if rec == nil {
		return nil, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	q := s.db.WithContext(ctx).Model(rec)
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Status != "" {
		if !f.Status.Valid(kind) {
			return nil, fmt.Errorf("%w: status %q does not apply to %s tasks", task.ErrInvalidInput, f.Status, kind)
		}
		q = q.Where("status = ?", string(f.Status))
	}
	if f.PipelineType != "" {
		if kind != task.KindPipeline {
			return nil, fmt.Errorf("%w: pipeline_type filters pipeline tasks only", task.ErrInvalidInput)
		}
		q = q.Where("pipeline_type = ?", string(f.PipelineType))
	}
	if f.Category != "" {
		if kind != task.KindRequirement {
			return nil, fmt.Errorf("%w: category filters requirement tasks only", task.ErrInvalidInput)
		}
		q = q.Where("category = ?", f.Category)
	}
	if f.NameContains != "" {
		q = q.Where("name LIKE ? ESCAPE '\\'", "%"+escapeLike(f.NameContains)+"%")
	}
	return q, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Completed lists the tasks of kind usable as pipeline inputs.
func (s *Store) Completed(ctx context.Context, kind task.Kind, limit int) ([]task.Record, error) {
	return s.List(ctx, kind, Filter{Status: task.StatusCompleted, Limit: limit})
}

// updatable lists the input columns a patch may touch per kind. Pipeline
// input references are fixed at admission.
var updatable = map[task.Kind]map[string]bool{
	task.KindCodeDiff: {
		"name": true, "repo_url": true, "base_ref": true, "head_ref": true, "metadata": true,
	},
	task.KindRequirement: {
		"name": true, "original_content": true, "category": true, "priority": true, "metadata": true,
	},
	task.KindPipeline: {
		"name": true, "description": true, "pipeline_type": true, "prompt_template_id": true,
		"knowledge_base_id": true, "config": true, "metadata": true,
	},
}

var jsonColumns = map[string]bool{"metadata": true, "config": true}

// Update applies patch to a task that no dispatch currently owns.
func (s *Store) Update(ctx context.Context, kind task.Kind, id string, patch map[string]any) (task.Record, error) {
	allowed, ok := updatable[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	cols := make(map[string]any, len(patch))
	for k, v := range patch {
		if !allowed[k] {
			return nil, fmt.Errorf("%w: field %q cannot be updated on %s tasks", task.ErrInvalidInput, k, kind)
		}
		v, err := patchValue(k, v)
		if err != nil {
			return nil, err
		}
		cols[k] = v
	}
	if len(cols) == 0 {
		return s.Get(ctx, kind, id)
	}

	res := s.db.WithContext(ctx).Model(task.New(kind)).
		Where("id = ? AND status NOT IN ?", id, inFlight(kind)).
		Updates(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.explainBusy(ctx, kind, id)
	}
	return s.Get(ctx, kind, id)
}

func patchValue(col string, v any) (any, error) {
	switch {
	case jsonColumns[col]:
		if v == nil {
			return nil, nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an object", task.ErrInvalidInput, col)
		}
		return datatypes.JSONMap(m), nil
	case col == "name":
		name, _ := v.(string)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", task.ErrInvalidInput)
		}
		return strings.TrimSpace(name), nil
	case col == "priority":
		p, _ := v.(string)
		if !priorities[p] {
			return nil, fmt.Errorf("%w: unknown priority %v", task.ErrInvalidInput, v)
		}
		return p, nil
	case col == "pipeline_type":
		pt, _ := v.(string)
		if !task.PipelineType(pt).Valid() {
			return nil, fmt.Errorf("%w: unknown pipeline_type %v", task.ErrInvalidInput, v)
		}
		return pt, nil
	}
	return v, nil
}

// Delete removes a task that no dispatch currently owns. Pipelines that
// reference it and its execution records are left alone.
func (s *Store) Delete(ctx context.Context, kind task.Kind, id string) error {
	rec := task.New(kind)
	if rec == nil {
		return fmt.Errorf("%w: unknown task kind %q", task.ErrInvalidInput, kind)
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND status NOT IN ?", id, inFlight(kind)).
		Delete(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.explainBusy(ctx, kind, id)
	}
	return nil
}

// explainBusy turns a zero-row write on a not-in-flight guard into
// ErrNotFound or ErrAlreadyInFlight.
func (s *Store) explainBusy(ctx context.Context, kind task.Kind, id string) error {
	st, err := s.Status(ctx, kind, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s task %s is %s", task.ErrAlreadyInFlight, kind, id, st)
}

func inFlight(kind task.Kind) []string {
	return statusStrings(task.DispatchStatus(kind), task.StatusRunning)
}

func statusStrings(statuses ...task.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
