package prompt

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource is an in-memory Source keyed by identifier.
type mapSource struct {
	templates map[string]*Template
	lookups   atomic.Int64
}

func newMapSource(pairs ...string) *mapSource {
	s := &mapSource{templates: make(map[string]*Template)}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.templates[pairs[i]] = &Template{Identifier: pairs[i], Content: pairs[i+1], IsActive: true}
	}
	return s
}

func (s *mapSource) TemplateByIdentifier(_ context.Context, id string) (*Template, error) {
	s.lookups.Add(1)
	return s.templates[id], nil
}

func TestResolveSubstitutesVariable(t *testing.T) {
	r := NewResolver(newMapSource())
	got, err := r.Resolve(context.Background(), "{{a}}", map[string]any{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestResolveLeavesMissingVariable(t *testing.T) {
	r := NewResolver(newMapSource())
	got, err := r.Resolve(context.Background(), "{{missing}}", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "{{missing}}", got)
}

func TestResolveChainAppliesInnerVariables(t *testing.T) {
	src := newMapSource("footer", "Regards, {{name}}")
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), "Hi {{name}}, {{GENERATE_FROM:footer}}", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann, [LLM_OUTPUT_FOR:footer]\nRegards, Ann", got)
}

func TestResolveNestedChainsLeftToRight(t *testing.T) {
	src := newMapSource(
		"a", "A({{GENERATE_FROM:b}})",
		"b", "B",
		"c", "C",
	)
	r := NewResolver(src, WithSubPromptRunner(stripRunner{}))

	got, err := r.Resolve(context.Background(), "{{GENERATE_FROM:a}}-{{GENERATE_FROM:c}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "A(B)-C", got)
}

func TestResolveRepeatedMarkerResolvedOnce(t *testing.T) {
	src := newMapSource("x", "X")
	r := NewResolver(src, WithSubPromptRunner(stripRunner{}))

	got, err := r.Resolve(context.Background(), "{{GENERATE_FROM:x}}/{{GENERATE_FROM:x}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "X/X", got)
	assert.EqualValues(t, 1, src.lookups.Load())
}

func TestResolveRescansSubstitutedMarkers(t *testing.T) {
	// The runner's output introduces a new marker; it must be expanded too.
	src := newMapSource("outer", "o", "inner", "i")
	runner := runnerFunc(func(id, resolved string) string {
		if id == "outer" {
			return "[{{GENERATE_FROM:inner}}]"
		}
		return resolved
	})
	r := NewResolver(src, WithSubPromptRunner(runner))

	got, err := r.Resolve(context.Background(), "{{GENERATE_FROM:outer}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "[i]", got)
}

func TestResolveTemplateNotFound(t *testing.T) {
	r := NewResolver(newMapSource())
	_, err := r.Resolve(context.Background(), "{{GENERATE_FROM:nope}}", nil)
	require.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestResolveTemplateInactive(t *testing.T) {
	src := newMapSource("off", "body")
	src.templates["off"].IsActive = false
	r := NewResolver(src)

	_, err := r.Resolve(context.Background(), "{{GENERATE_FROM:off}}", nil)
	require.ErrorIs(t, err, ErrTemplateInactive)
}

func TestResolveMutualCycleTerminates(t *testing.T) {
	src := newMapSource(
		"A", "a {{GENERATE_FROM:B}}",
		"B", "b {{GENERATE_FROM:A}}",
	)
	r := NewResolver(src)

	_, err := r.ResolveTemplate(context.Background(), "A", nil)
	require.ErrorIs(t, err, ErrChainTooDeep)
	assert.LessOrEqual(t, src.lookups.Load(), int64(DefaultMaxDepth))
}

func TestResolveSelfCycleFromRawContent(t *testing.T) {
	src := newMapSource("loop", "{{GENERATE_FROM:loop}}")
	r := NewResolver(src)

	_, err := r.Resolve(context.Background(), "{{GENERATE_FROM:loop}}", nil)
	require.ErrorIs(t, err, ErrChainTooDeep)
}

func TestResolveDepthLimit(t *testing.T) {
	// A linear chain t0 -> t1 -> ... -> t5 exceeds a depth of 3.
	src := newMapSource(
		"t0", "{{GENERATE_FROM:t1}}",
		"t1", "{{GENERATE_FROM:t2}}",
		"t2", "{{GENERATE_FROM:t3}}",
		"t3", "{{GENERATE_FROM:t4}}",
		"t4", "end",
	)
	r := NewResolver(src, WithMaxDepth(3))
	_, err := r.Resolve(context.Background(), "{{GENERATE_FROM:t0}}", nil)
	require.ErrorIs(t, err, ErrChainTooDeep)

	r = NewResolver(src, WithMaxDepth(6), WithSubPromptRunner(stripRunner{}))
	got, err := r.Resolve(context.Background(), "{{GENERATE_FROM:t0}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "end", got)
}

func TestResolveDepthZeroFailsImmediately(t *testing.T) {
	r := &Resolver{runner: PlaceholderRunner{}, maxDepth: 0}
	_, err := r.Resolve(context.Background(), "plain", nil)
	require.ErrorIs(t, err, ErrChainTooDeep)
}

func TestResolveMarkerInjectedByVariableIsBounded(t *testing.T) {
	src := newMapSource("x", "{{v}}")
	r := NewResolver(src)

	_, err := r.Resolve(context.Background(), "{{GENERATE_FROM:x}}", map[string]any{"v": "{{GENERATE_FROM:x}}"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChainTooDeep))
}

func TestResolveChainedValuesAreScannedByOuterLevel(t *testing.T) {
	src := newMapSource("inner", "diff: {{code_diff}}")
	r := NewResolver(src)
	vars := map[string]any{"code_diff": "+ name := \"{{task_name}}\"", "task_name": "SECRET"}

	got, err := r.Resolve(context.Background(), "{{GENERATE_FROM:inner}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "[LLM_OUTPUT_FOR:inner]\ndiff: + name := \"SECRET\"", got)

	flat, err := r.Resolve(context.Background(), "diff: {{code_diff}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "diff: + name := \"{{task_name}}\"", flat, "a single level substitutes once")
}

func TestResolveCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolver(newMapSource("x", "X"))
	_, err := r.Resolve(ctx, "{{GENERATE_FROM:x}}", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubstituteIsSinglePass(t *testing.T) {
	got := Substitute("{{a}} {{b}}", map[string]any{"a": "{{b}}", "b": "B"})
	assert.Equal(t, "{{b}} B", got)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(3))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"k":"v"}`, Stringify(map[string]any{"k": "v"}))
	assert.Equal(t, `["a","b"]`, Stringify([]string{"a", "b"}))
}

func TestExtractVariablesAndChains(t *testing.T) {
	content := "{{a}} {{GENERATE_FROM:x}} {{b}} {{a}} {{GENERATE_FROM:y}} {{GENERATE_FROM:x}}"
	assert.Equal(t, []string{"a", "b"}, ExtractVariables(content))
	assert.Equal(t, []string{"x", "y"}, ExtractChainedPrompts(content))
	assert.Empty(t, ExtractVariables("no placeholders"))
}

func TestValidate(t *testing.T) {
	src := newMapSource("known", "k")
	r := NewResolver(src)

	v := r.Validate(context.Background(), "{{name}} {{other}} {{GENERATE_FROM:known}}", map[string]any{"name": "Ann"})
	assert.True(t, v.Valid)
	assert.Equal(t, []string{"name", "other"}, v.VariablesFound)
	assert.Equal(t, []string{"known"}, v.ChainedPrompts)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "other")
	assert.Equal(t, "Ann {{other}} [CHAINED_PROMPT:known]", v.ResolvedPreview)

	v = r.Validate(context.Background(), "{{GENERATE_FROM:missing}} {{GENERATE_FROM:bad-id}}", nil)
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 2)
}

func TestDefaultPromptCodeReviewMarkers(t *testing.T) {
	p := DefaultPrompt("code_review", DefaultInputs{CodeDiff: "+x", FocusAreas: []string{"security"}})
	for _, key := range []string{`"summary"`, `"issues"`, `"suggestions"`} {
		assert.Contains(t, p, key)
	}
	assert.Contains(t, p, "+x")
	assert.Contains(t, p, "security")
}

func TestDefaultPromptVariants(t *testing.T) {
	in := DefaultInputs{CodeDiff: "DIFF", Requirement: "REQ"}
	assert.Contains(t, DefaultPrompt("test_generation", in), "test cases")
	assert.Contains(t, DefaultPrompt("documentation", in), "documentation")
	generic := DefaultPrompt("other", in)
	assert.Contains(t, generic, "analysis")
	assert.NotContains(t, generic, "Relevant knowledge")
}

func TestLoadTemplates(t *testing.T) {
	doc := `
templates:
  - identifier: review
    name: Review
    content: "Review {{code_diff}}"
  - identifier: footer
    content: "bye"
    is_active: false
`
	got, err := LoadTemplates(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsActive)
	assert.Equal(t, "footer", got[1].Name)
	assert.False(t, got[1].IsActive)

	_, err = LoadTemplates(strings.NewReader("templates:\n  - identifier: a\n    content: x\n  - identifier: a\n    content: y\n"))
	require.Error(t, err)

	_, err = LoadTemplates(strings.NewReader("templates:\n  - identifier: bad-id\n    content: x\n"))
	require.Error(t, err)
}

type stripRunner struct{}

func (stripRunner) RunSubPrompt(_ context.Context, _ string, resolved string) (string, error) {
	return resolved, nil
}

type runnerFunc func(id, resolved string) string

func (f runnerFunc) RunSubPrompt(_ context.Context, id, resolved string) (string, error) {
	return f(id, resolved), nil
}
