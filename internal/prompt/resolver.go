package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// chainPattern matches {{GENERATE_FROM:identifier}}.
	chainPattern = regexp.MustCompile(`\{\{GENERATE_FROM:(\w+)\}\}`)
	// anyChainPattern also matches malformed markers, for validation only.
	anyChainPattern = regexp.MustCompile(`\{\{GENERATE_FROM:([^}]*)\}\}`)
	// variablePattern matches {{name}}. The colon in chain markers keeps them out.
	variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// DefaultMaxDepth bounds chain recursion when no option overrides it.
const DefaultMaxDepth = 5

// maxExpansions caps marker substitutions at a single level. A variable value
// that itself contains a chain marker would otherwise be re-expanded forever
// at the same depth.
const maxExpansions = 64

// SubPromptRunner turns the resolved body of a chained template into the text
// that replaces its marker.
type SubPromptRunner interface {
	RunSubPrompt(ctx context.Context, identifier, resolved string) (string, error)
}

// PlaceholderRunner stands in for a model call: it tags the resolved body
// with the identifier it came from and returns it unchanged otherwise.
type PlaceholderRunner struct{}

func (PlaceholderRunner) RunSubPrompt(_ context.Context, identifier, resolved string) (string, error) {
	return "[LLM_OUTPUT_FOR:" + identifier + "]\n" + resolved, nil
}

// Resolver expands chain markers and substitutes variables.
// It holds no per-call state and is safe for concurrent use.
type Resolver struct {
	source   Source
	runner   SubPromptRunner
	maxDepth int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// WithSubPromptRunner replaces the placeholder runner.
func WithSubPromptRunner(runner SubPromptRunner) Option {
	return func(r *Resolver) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// NewResolver creates a Resolver that looks chained templates up in src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:   src,
		runner:   PlaceholderRunner{},
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxDepth returns the configured recursion bound.
func (r *Resolver) MaxDepth() int { return r.maxDepth }

// Resolve expands every chain marker in content, left to right, re-scanning
// after each substitution, then replaces {{variable}} placeholders.
// Placeholders with no matching variable are left verbatim. Each level
// substitutes its own body, so a value spliced in by a chained template is
// scanned again by the levels above it.
func (r *Resolver) Resolve(ctx context.Context, content string, vars map[string]any) (string, error) {
	return r.resolve(ctx, content, vars, 0, make(map[string]bool))
}

// ResolveTemplate resolves the body of the template with the given
// identifier. The template itself counts as in flight, so a chain leading
// back to it is reported as a cycle.
func (r *Resolver) ResolveTemplate(ctx context.Context, identifier string, vars map[string]any) (string, error) {
	tmpl, err := r.lookup(ctx, identifier)
	if err != nil {
		return "", err
	}
	return r.ResolveBody(ctx, tmpl, vars)
}

// ResolveBody resolves an already loaded template, with the template itself
// in flight. Unlike ResolveTemplate it does not check the root is active.
func (r *Resolver) ResolveBody(ctx context.Context, tmpl *Template, vars map[string]any) (string, error) {
	return r.resolve(ctx, tmpl.Content, vars, 0, map[string]bool{tmpl.Identifier: true})
}

func (r *Resolver) resolve(ctx context.Context, content string, vars map[string]any, depth int, inflight map[string]bool) (string, error) {
	if depth >= r.maxDepth {
		return "", fmt.Errorf("%w: depth %d reached limit %d", ErrChainTooDeep, depth, r.maxDepth)
	}

	for expansions := 0; ; expansions++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		loc := chainPattern.FindStringSubmatchIndex(content)
		if loc == nil {
			break
		}
		if expansions >= maxExpansions {
			return "", fmt.Errorf("%w: more than %d expansions at depth %d", ErrChainTooDeep, maxExpansions, depth)
		}
		marker := content[loc[0]:loc[1]]
		identifier := content[loc[2]:loc[3]]

		if inflight[identifier] {
			return "", fmt.Errorf("%w: cycle through %q", ErrChainTooDeep, identifier)
		}
		tmpl, err := r.lookup(ctx, identifier)
		if err != nil {
			return "", err
		}

		inflight[identifier] = true
		sub, err := r.resolve(ctx, tmpl.Content, vars, depth+1, inflight)
		delete(inflight, identifier)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", identifier, err)
		}

		out, err := r.runner.RunSubPrompt(ctx, identifier, sub)
		if err != nil {
			return "", fmt.Errorf("generate from %q: %w", identifier, err)
		}
		content = strings.ReplaceAll(content, marker, out)
	}

	return Substitute(content, vars), nil
}

func (r *Resolver) lookup(ctx context.Context, identifier string) (*Template, error) {
	if r.source == nil {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, identifier)
	}
	tmpl, err := r.source.TemplateByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("look up template %q: %w", identifier, err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, identifier)
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("%w: %q", ErrTemplateInactive, identifier)
	}
	return tmpl, nil
}

// Substitute replaces each {{name}} with the string form of vars[name] in a
// single pass. Substituted text is not scanned again.
func Substitute(content string, vars map[string]any) string {
	if len(vars) == 0 {
		return content
	}
	return variablePattern.ReplaceAllStringFunc(content, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := vars[name]; ok {
			return Stringify(v)
		}
		return m
	})
}

// Stringify renders a variable value for substitution. Strings pass through,
// scalars use their natural formatting, and anything structured is JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ExtractVariables returns the distinct {{name}} placeholders in content, in
// order of first appearance.
func ExtractVariables(content string) []string {
	return uniqueSubmatches(variablePattern, content)
}

// ExtractChainedPrompts returns the distinct identifiers referenced by chain
// markers in content, in order of first appearance.
func ExtractChainedPrompts(content string) []string {
	return uniqueSubmatches(chainPattern, content)
}

func uniqueSubmatches(re *regexp.Regexp, content string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
