// Package llm wraps the completion provider behind a small interface so the
// executor can be driven by a fake in tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// Params are per-call generation settings. Temperature and TopP are nil to
// use the provider default; 0 is a valid explicit value.
type Params struct {
	Model       string
	System      string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// Profile is a named set of Params from configuration.
type Profile struct {
	Model       string   `mapstructure:"model" json:"model"`
	System      string   `mapstructure:"system" json:"system,omitempty"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty"`
	TopP        *float64 `mapstructure:"top_p" json:"top_p,omitempty"`
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens,omitempty"`
}

// Params converts the profile.
func (p Profile) Params() Params {
	return Params{Model: p.Model, System: p.System, Temperature: p.Temperature, TopP: p.TopP, MaxTokens: p.MaxTokens}
}

// Completion is the outcome of one call. Provider failures are reported
// with Success false and ErrorMessage set, never as a Go error.
type Completion struct {
	Success      bool
	Content      string
	Model        string
	TokensUsed   int
	ErrorMessage string
	Duration     time.Duration
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, p Params) Completion
}

// ModelInfo describes one locally available model.
type ModelInfo struct {
	Name              string `json:"name"`
	Size              int64  `json:"size"`               // size in bytes
	ParameterSize     string `json:"parameter_size"`     // e.g. "14B", "7B"
	QuantizationLevel string `json:"quantization_level"` // e.g. "Q4_K_M"
	Family            string `json:"family"`             // e.g. "qwen2"
}

// OllamaCompleter calls a local Ollama server.
type OllamaCompleter struct {
	client       *api.Client
	defaultModel string
	timeout      time.Duration
	log          *zap.Logger
}

// NewOllamaCompleter connects to host, or to OLLAMA_HOST when host is empty.
// timeout bounds each call; zero means no limit beyond ctx.
func NewOllamaCompleter(host, defaultModel string, timeout time.Duration, log *zap.Logger) (*OllamaCompleter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var client *api.Client
	if host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		client = c
	} else {
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("ollama host %q: %w", host, err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}
	return &OllamaCompleter{client: client, defaultModel: defaultModel, timeout: timeout, log: log}, nil
}

// Complete runs a non-streaming generate call. Tokens are the prompt and
// completion eval counts added together.
func (c *OllamaCompleter) Complete(ctx context.Context, prompt string, p Params) Completion {
	model := p.Model
	if model == "" {
		model = c.defaultModel
	}
	out := Completion{Model: model}
	if model == "" {
		out.ErrorMessage = "no model configured"
		return out
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stream := false
	req := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  p.System,
		Stream:  &stream,
		Options: options(p),
	}

	start := time.Now()
	var content strings.Builder
	var final api.GenerateResponse
	err := c.client.Generate(ctx, req, func(r api.GenerateResponse) error {
		content.WriteString(r.Response)
		if r.Done {
			final = r
		}
		return nil
	})
	out.Duration = time.Since(start)
	if err != nil {
		out.ErrorMessage = describe(err)
		c.log.Warn("completion failed", zap.String("model", model), zap.Duration("duration", out.Duration), zap.Error(err))
		return out
	}

	out.Success = true
	out.Content = content.String()
	if final.Model != "" {
		out.Model = final.Model
	}
	out.TokensUsed = final.PromptEvalCount + final.EvalCount
	c.log.Debug("completion done",
		zap.String("model", out.Model),
		zap.Int("tokens", out.TokensUsed),
		zap.Duration("duration", out.Duration))
	return out
}

func options(p Params) map[string]any {
	opts := map[string]any{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "completion timed out"
	}
	var se api.StatusError
	if errors.As(err, &se) && se.ErrorMessage != "" {
		return fmt.Sprintf("ollama: %s (status %d)", se.ErrorMessage, se.StatusCode)
	}
	return "ollama: " + err.Error()
}

// ListModels returns the models installed on the server.
func (c *OllamaCompleter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{
			Name:              m.Name,
			Size:              m.Size,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
			Family:            m.Details.Family,
		})
	}
	return models, nil
}

// SubPromptRunner sends each chained template's resolved body to the model
// and splices the answer into the parent prompt.
type SubPromptRunner struct {
	Completer Completer
	Params    Params
}

func (r SubPromptRunner) RunSubPrompt(ctx context.Context, identifier, resolved string) (string, error) {
	c := r.Completer.Complete(ctx, resolved, r.Params)
	if !c.Success {
		return "", fmt.Errorf("chained template %s: %s", identifier, c.ErrorMessage)
	}
	return c.Content, nil
}
