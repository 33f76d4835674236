package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/AaronKronberg/OpusPipeline/internal/llm"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// MergeConfig overlays override on cfg. Neither input is modified.
func MergeConfig(cfg, override map[string]any) map[string]any {
	out := make(map[string]any, len(cfg)+len(override))
	for k, v := range cfg {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// ModelParams merges the task config with the execute-time override (the
// override wins) and maps the result to generation parameters. A
// "model_profile" key selects a configured profile first; explicit keys then
// override the profile's values.
func (c *Composer) ModelParams(cfg, override map[string]any) (llm.Params, error) {
	merged := MergeConfig(cfg, override)
	var p llm.Params

	if v, ok := merged["model_profile"]; ok {
		name, _ := v.(string)
		prof, found := c.profiles[name]
		if !found {
			return llm.Params{}, fmt.Errorf("%w: unknown model_profile %v", task.ErrInvalidInput, v)
		}
		p = prof.Params()
	}
	if s, ok := merged["model"].(string); ok && s != "" {
		p.Model = s
	}
	if s, ok := merged["system"].(string); ok && s != "" {
		p.System = s
	}
	if f, ok := Number(merged["temperature"]); ok {
		p.Temperature = &f
	}
	if f, ok := Number(merged["top_p"]); ok {
		p.TopP = &f
	}
	if f, ok := Number(merged["max_tokens"]); ok {
		p.MaxTokens = int(f)
	}
	return p, nil
}

// Number accepts the numeric shapes JSON decoding and Go callers produce.
// Config bags read back from the database hold json.Number.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
