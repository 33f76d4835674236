package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AaronKronberg/OpusPipeline/internal/gitdiff"
	"github.com/AaronKronberg/OpusPipeline/internal/pipeline"
	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

func (a *attempt) codeDiff(ctx context.Context) (task.Result, error) {
	if err := a.step(ctx, "clone+diff"); err != nil {
		return nil, err
	}
	cd, err := a.h.Store.GetCodeDiff(ctx, a.payload.TaskID)
	if err != nil {
		return nil, err
	}
	diff, err := a.h.diffs.GenerateDiff(ctx, cd.RepoURL, cd.BaseRef, cd.HeadRef)
	if err != nil {
		return nil, err
	}
	stats := gitdiff.Analyze(diff)
	return task.CodeDiffResult{
		DiffText:     diff,
		DiffSummary:  stats.Summary(),
		FilesChanged: stats.FilesChanged,
		LinesAdded:   stats.LinesAdded,
		LinesDeleted: stats.LinesDeleted,
	}, nil
}

// readableExt lists the file types a requirement may be read from and the
// document type named in the parse prompt.
var readableExt = map[string]string{
	".txt": "text",
	".md":  "markdown",
}

func (a *attempt) requirement(ctx context.Context) (task.Result, error) {
	if err := a.step(ctx, "load task"); err != nil {
		return nil, err
	}
	r, err := a.h.Store.GetRequirement(ctx, a.payload.TaskID)
	if err != nil {
		return nil, err
	}

	if err := a.step(ctx, "prepare content"); err != nil {
		return nil, err
	}
	content, docType, err := a.requirementContent(r)
	if err != nil {
		return nil, err
	}

	if err := a.step(ctx, "parse with model"); err != nil {
		return nil, err
	}
	params, err := a.h.Composer.ModelParams(nil, a.payload.ConfigOverride)
	if err != nil {
		return nil, err
	}
	c := a.h.completer.Complete(ctx, prompt.RequirementParsePrompt(content, docType), params)
	a.model, a.tokens = c.Model, c.TokensUsed
	if !c.Success {
		return nil, errors.New(c.ErrorMessage)
	}

	if err := a.step(ctx, "save result"); err != nil {
		return nil, err
	}
	parsed, ok := pipeline.ParseRequirement(c.Content, r)
	if !ok {
		a.log.Warn("model reply is not JSON, storing raw summary")
	}
	return pipeline.RequirementResult(parsed, r, c), nil
}

// requirementContent returns the text to parse. Problems with the input
// itself are terminal.
func (a *attempt) requirementContent(r *task.RequirementTask) (content, docType string, err error) {
	switch r.InputType {
	case task.InputText:
		content, docType = r.OriginalContent, "text"
	case task.InputFile:
		ext := strings.ToLower(filepath.Ext(r.FilePath))
		t, ok := readableExt[ext]
		if !ok {
			return "", "", fmt.Errorf("%w: cannot read %q files", task.ErrUnsupportedInput, ext)
		}
		raw, err := a.h.readFile(r.FilePath)
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s does not exist", task.ErrUnsupportedInput, r.FilePath)
		}
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", r.FilePath, err)
		}
		content, docType = string(raw), t
	default:
		return "", "", fmt.Errorf("%w: input_type %q", task.ErrUnsupportedInput, r.InputType)
	}
	if strings.TrimSpace(content) == "" {
		return "", "", fmt.Errorf("%w: requirement content is empty", task.ErrUnsupportedInput)
	}
	return content, docType, nil
}

func (a *attempt) pipeline(ctx context.Context) (task.Result, error) {
	c := a.h.Composer

	if err := a.step(ctx, "gather task info"); err != nil {
		return nil, err
	}
	pt, err := a.h.Store.GetPipeline(ctx, a.payload.TaskID)
	if err != nil {
		return nil, err
	}
	cfg := pipeline.MergeConfig(pt.Config, a.payload.ConfigOverride)
	params, err := c.ModelParams(pt.Config, a.payload.ConfigOverride)
	if err != nil {
		return nil, err
	}

	if err := a.step(ctx, "collect inputs"); err != nil {
		return nil, err
	}
	in, err := c.Collect(ctx, pt)
	if err != nil {
		return nil, err
	}

	if err := a.step(ctx, "fetch knowledge context"); err != nil {
		return nil, err
	}
	in.KnowledgeContext = c.KnowledgeContext(ctx, pt, in)

	if err := a.step(ctx, "build prompt"); err != nil {
		return nil, err
	}
	text, err := c.BuildPrompt(ctx, pt, in, cfg)
	if err != nil {
		return nil, err
	}

	if err := a.step(ctx, "call model"); err != nil {
		return nil, err
	}
	start := time.Now()
	out := a.h.completer.Complete(ctx, text, params)
	a.model, a.tokens = out.Model, out.TokensUsed
	if !out.Success {
		return nil, errors.New(out.ErrorMessage)
	}
	a.log.Debug("completion received",
		zap.String("model", out.Model), zap.Int("tokens", out.TokensUsed), zap.Duration("took", time.Since(start)))

	return task.PipelineResult{
		Result:        out.Content,
		ResultData:    pipeline.ParseResult(pt.PipelineType, out.Content),
		ExecutionTime: time.Since(a.started).Seconds(),
		Model:         out.Model,
		TokensUsed:    out.TokensUsed,
	}, nil
}
