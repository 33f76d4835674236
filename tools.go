// tools.go implements the MCP tool handlers. Handlers validate and translate
// arguments, call the store, composer or dispatcher, and return the
// tool's output type. Errors are reported to the client as tool errors.
package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/AaronKronberg/OpusPipeline/internal/executor"
	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/pipeline"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/store"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
	"github.com/AaronKronberg/OpusPipeline/internal/tracker"
)

// selectorSummaryLen caps the summary shown per selector, in runes.
const selectorSummaryLen = 200

type modelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

type tools struct {
	store      *store.Store
	tracker    *tracker.Tracker
	composer   *pipeline.Composer
	resolver   *prompt.Resolver
	dispatcher *executor.Dispatcher
	models     modelLister
	profiles   map[string]llm.Profile
	log        *zap.Logger
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func (t *tools) createCodeDiff(ctx context.Context, _ *mcp.CallToolRequest, args CreateCodeDiffArgs) (*mcp.CallToolResult, TaskOutput, error) {
	cd := &task.CodeDiffTask{
		Header:  task.Header{Name: args.Name, Metadata: datatypes.JSONMap(args.Metadata)},
		RepoURL: args.RepoURL,
		BaseRef: args.BaseRef,
		HeadRef: args.HeadRef,
	}
	if err := t.store.Create(ctx, cd); err != nil {
		return nil, TaskOutput{}, err
	}
	t.created(cd)
	return nil, TaskOutput{Task: cd}, nil
}

func (t *tools) createRequirement(ctx context.Context, _ *mcp.CallToolRequest, args CreateRequirementArgs) (*mcp.CallToolResult, TaskOutput, error) {
	r := &task.RequirementTask{
		Header:          task.Header{Name: args.Name, Metadata: datatypes.JSONMap(args.Metadata)},
		InputType:       args.InputType,
		OriginalContent: args.Content,
		FilePath:        args.FilePath,
		Category:        args.Category,
		Priority:        args.Priority,
	}
	if err := t.store.Create(ctx, r); err != nil {
		return nil, TaskOutput{}, err
	}
	t.created(r)
	return nil, TaskOutput{Task: r}, nil
}

func (t *tools) createPipeline(ctx context.Context, _ *mcp.CallToolRequest, args CreatePipelineArgs) (*mcp.CallToolResult, TaskOutput, error) {
	p, err := t.composer.Admit(ctx, pipeline.CreateRequest{
		Name:              args.Name,
		Description:       args.Description,
		PipelineType:      task.PipelineType(args.PipelineType),
		CodeDiffTaskID:    args.CodeDiffTaskID,
		RequirementTaskID: args.RequirementTaskID,
		PromptTemplateID:  args.PromptTemplateID,
		KnowledgeBaseID:   args.KnowledgeBaseID,
		Config:            args.Config,
		Metadata:          args.Metadata,
	})
	if err != nil {
		return nil, TaskOutput{}, err
	}
	t.created(p)
	return nil, TaskOutput{Task: p}, nil
}

func (t *tools) created(rec task.Record) {
	t.log.Info("task created", zap.String("kind", string(rec.Kind())), zap.String("task_id", rec.Head().ID))
}

// ---------------------------------------------------------------------------
// Read, list, update, delete
// ---------------------------------------------------------------------------

func (t *tools) getTask(ctx context.Context, _ *mcp.CallToolRequest, args GetTaskArgs) (*mcp.CallToolResult, GetTaskOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, GetTaskOutput{}, err
	}
	out := GetTaskOutput{Results: make([]TaskResult, 0, len(args.TaskIDs))}
	for _, id := range args.TaskIDs {
		rec, err := t.store.Get(ctx, kind, id)
		if err != nil {
			out.Results = append(out.Results, TaskResult{ID: id, Error: err.Error()})
			continue
		}
		h := rec.Head()
		out.Results = append(out.Results, TaskResult{ID: id, Status: string(h.Status), Error: h.ErrorMessage, Task: rec})
	}
	return nil, out, nil
}

func (t *tools) listTasks(ctx context.Context, _ *mcp.CallToolRequest, args ListTasksArgs) (*mcp.CallToolResult, ListTasksOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, ListTasksOutput{}, err
	}
	recs, err := t.store.List(ctx, kind, store.Filter{
		Status:       task.Status(args.Status),
		PipelineType: task.PipelineType(args.PipelineType),
		Category:     args.Category,
		NameContains: args.NameContains,
		Offset:       args.Offset,
		Limit:        args.Limit,
	})
	if err != nil {
		return nil, ListTasksOutput{}, err
	}
	out := ListTasksOutput{Tasks: make([]any, len(recs)), Count: len(recs)}
	for i, r := range recs {
		out.Tasks[i] = r
	}
	return nil, out, nil
}

func (t *tools) updateTask(ctx context.Context, _ *mcp.CallToolRequest, args UpdateTaskArgs) (*mcp.CallToolResult, TaskOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, TaskOutput{}, err
	}
	rec, err := t.store.Update(ctx, kind, args.TaskID, args.Fields)
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, TaskOutput{Task: rec}, nil
}

func (t *tools) deleteTask(ctx context.Context, _ *mcp.CallToolRequest, args DeleteTaskArgs) (*mcp.CallToolResult, DeleteOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, DeleteOutput{}, err
	}
	if err := t.store.Delete(ctx, kind, args.TaskID); err != nil {
		return nil, DeleteOutput{}, err
	}
	t.log.Info("task deleted", zap.String("kind", string(kind)), zap.String("task_id", args.TaskID))
	return nil, DeleteOutput{Deleted: true}, nil
}

func (t *tools) listSelectors(ctx context.Context, _ *mcp.CallToolRequest, args ListSelectorsArgs) (*mcp.CallToolResult, ListSelectorsOutput, error) {
	diffs, err := t.store.Completed(ctx, task.KindCodeDiff, args.Limit)
	if err != nil {
		return nil, ListSelectorsOutput{}, err
	}
	reqs, err := t.store.Completed(ctx, task.KindRequirement, args.Limit)
	if err != nil {
		return nil, ListSelectorsOutput{}, err
	}
	return nil, ListSelectorsOutput{CodeDiffs: selectors(diffs), Requirements: selectors(reqs)}, nil
}

func selectors(recs []task.Record) []Selector {
	out := make([]Selector, 0, len(recs))
	for _, rec := range recs {
		s := Selector{ID: rec.Head().ID, Name: rec.Head().Name}
		switch r := rec.(type) {
		case *task.CodeDiffTask:
			s.Summary = r.DiffSummary
		case *task.RequirementTask:
			s.Summary = truncate(r.ParsedContent, selectorSummaryLen)
		}
		out = append(out, s)
	}
	return out
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (t *tools) executeTask(ctx context.Context, _ *mcp.CallToolRequest, args ExecuteTaskArgs) (*mcp.CallToolResult, ExecuteTaskOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, ExecuteTaskOutput{}, err
	}
	exec, err := t.dispatcher.Execute(ctx, kind, args.TaskID, args.ConfigOverride)
	if err != nil {
		return nil, ExecuteTaskOutput{}, err
	}
	return nil, ExecuteTaskOutput{
		ExecutionID: exec.ExecutionID,
		TaskID:      args.TaskID,
		Status:      string(task.DispatchStatus(kind)),
	}, nil
}

func (t *tools) cancelTasks(ctx context.Context, _ *mcp.CallToolRequest, args CancelTasksArgs) (*mcp.CallToolResult, CancelTasksOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, CancelTasksOutput{}, err
	}
	n, err := t.store.CancelMany(ctx, kind, args.TaskIDs)
	if err != nil {
		return nil, CancelTasksOutput{}, err
	}
	t.log.Info("tasks cancelled", zap.String("kind", string(kind)), zap.Int("count", n))
	return nil, CancelTasksOutput{Cancelled: n}, nil
}

func (t *tools) checkTasks(ctx context.Context, _ *mcp.CallToolRequest, args CheckTasksArgs) (*mcp.CallToolResult, CheckTasksOutput, error) {
	kinds := task.Kinds
	if args.Kind != "" {
		kind, err := task.ParseKind(args.Kind)
		if err != nil {
			return nil, CheckTasksOutput{}, err
		}
		kinds = []task.Kind{kind}
	}
	out := CheckTasksOutput{Tasks: []store.TaskStatus{}}
	for _, kind := range kinds {
		sum, statuses, err := t.store.Summary(ctx, kind, args.TaskIDs)
		if err != nil {
			return nil, CheckTasksOutput{}, err
		}
		out.Summary = addSummary(out.Summary, sum)
		out.Tasks = append(out.Tasks, statuses...)
	}
	return nil, out, nil
}

func addSummary(a, b store.Summary) store.Summary {
	return store.Summary{
		Total:      a.Total + b.Total,
		Pending:    a.Pending + b.Pending,
		Dispatched: a.Dispatched + b.Dispatched,
		Running:    a.Running + b.Running,
		Completed:  a.Completed + b.Completed,
		Failed:     a.Failed + b.Failed,
		Cancelled:  a.Cancelled + b.Cancelled,
	}
}

func (t *tools) getProgress(ctx context.Context, _ *mcp.CallToolRequest, args GetProgressArgs) (*mcp.CallToolResult, GetProgressOutput, error) {
	if args.ExecutionID != "" {
		p, err := t.tracker.Progress(ctx, args.ExecutionID)
		if err != nil {
			return nil, GetProgressOutput{}, err
		}
		return nil, GetProgressOutput{Progress: p}, nil
	}
	if args.Kind == "" || args.TaskID == "" {
		return nil, GetProgressOutput{}, fmt.Errorf("%w: execution_id, or kind and task_id, is required", task.ErrInvalidInput)
	}
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, GetProgressOutput{}, err
	}
	e, err := t.tracker.Latest(ctx, kind, args.TaskID)
	if err != nil {
		return nil, GetProgressOutput{}, err
	}
	return nil, GetProgressOutput{Progress: tracker.ProgressOf(e)}, nil
}

func (t *tools) listExecutions(ctx context.Context, _ *mcp.CallToolRequest, args ListExecutionsArgs) (*mcp.CallToolResult, ListExecutionsOutput, error) {
	kind, err := task.ParseKind(args.Kind)
	if err != nil {
		return nil, ListExecutionsOutput{}, err
	}
	execs, err := t.tracker.ListForTask(ctx, kind, args.TaskID)
	if err != nil {
		return nil, ListExecutionsOutput{}, err
	}
	out := ListExecutionsOutput{Executions: make([]any, len(execs))}
	for i := range execs {
		out.Executions[i] = &execs[i]
	}
	return nil, out, nil
}

func (t *tools) getStats(ctx context.Context, _ *mcp.CallToolRequest, _ GetStatsArgs) (*mcp.CallToolResult, GetStatsOutput, error) {
	st, err := t.store.Stats(ctx)
	if err != nil {
		return nil, GetStatsOutput{}, err
	}
	return nil, GetStatsOutput{Stats: st}, nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

func (t *tools) createTemplate(ctx context.Context, _ *mcp.CallToolRequest, args CreateTemplateArgs) (*mcp.CallToolResult, TemplateOutput, error) {
	tmpl := &prompt.Template{
		Identifier:  args.Identifier,
		Name:        args.Name,
		Content:     args.Content,
		Description: args.Description,
		Category:    args.Category,
		IsActive:    args.IsActive == nil || *args.IsActive,
	}
	if err := t.store.CreateTemplate(ctx, tmpl); err != nil {
		return nil, TemplateOutput{}, err
	}
	return nil, TemplateOutput{Template: tmpl}, nil
}

func (t *tools) listTemplates(ctx context.Context, _ *mcp.CallToolRequest, args ListTemplatesArgs) (*mcp.CallToolResult, ListTemplatesOutput, error) {
	list, err := t.store.ListTemplates(ctx, args.Category, args.ActiveOnly)
	if err != nil {
		return nil, ListTemplatesOutput{}, err
	}
	out := ListTemplatesOutput{Templates: make([]any, len(list))}
	for i := range list {
		out.Templates[i] = &list[i]
	}
	return nil, out, nil
}

func (t *tools) updateTemplate(ctx context.Context, _ *mcp.CallToolRequest, args UpdateTemplateArgs) (*mcp.CallToolResult, TemplateOutput, error) {
	tmpl, err := t.store.UpdateTemplate(ctx, args.TemplateID, args.Fields)
	if err != nil {
		return nil, TemplateOutput{}, err
	}
	return nil, TemplateOutput{Template: tmpl}, nil
}

func (t *tools) deleteTemplate(ctx context.Context, _ *mcp.CallToolRequest, args DeleteTemplateArgs) (*mcp.CallToolResult, DeleteOutput, error) {
	if err := t.store.DeleteTemplate(ctx, args.TemplateID); err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Deleted: true}, nil
}

func (t *tools) validatePrompt(ctx context.Context, _ *mcp.CallToolRequest, args ValidatePromptArgs) (*mcp.CallToolResult, prompt.Validation, error) {
	return nil, t.resolver.Validate(ctx, args.Content, args.Variables), nil
}

func (t *tools) resolvePrompt(ctx context.Context, _ *mcp.CallToolRequest, args ResolvePromptArgs) (*mcp.CallToolResult, ResolvePromptOutput, error) {
	var (
		out string
		err error
	)
	switch {
	case args.Identifier != "":
		out, err = t.resolver.ResolveTemplate(ctx, args.Identifier, args.Variables)
	case args.Content != "":
		out, err = t.resolver.Resolve(ctx, args.Content, args.Variables)
	default:
		err = fmt.Errorf("%w: identifier or content is required", task.ErrInvalidInput)
	}
	if err != nil {
		return nil, ResolvePromptOutput{}, err
	}
	return nil, ResolvePromptOutput{Resolved: out}, nil
}

// ---------------------------------------------------------------------------
// Models
// ---------------------------------------------------------------------------

func (t *tools) listModels(ctx context.Context, _ *mcp.CallToolRequest, _ ListModelsArgs) (*mcp.CallToolResult, ListModelsOutput, error) {
	models, err := t.models.ListModels(ctx)
	if err != nil {
		return nil, ListModelsOutput{}, err
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	return nil, ListModelsOutput{Models: models, Profiles: t.profiles}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
