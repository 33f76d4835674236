package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one rejected setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every rejected setting so the user can fix them
// in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d config errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ValidLogLevels lists the levels the logger accepts.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks for impossible values. It returns nil when the config is
// usable.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		add("database.path", c.Database.Path, "must be set")
	}
	if c.Redis.Addr == "" {
		add("redis.addr", c.Redis.Addr, "must be set")
	}
	if c.Redis.DB < 0 {
		add("redis.db", c.Redis.DB, "must be >= 0")
	}
	if c.Ollama.Timeout < 0 {
		add("ollama.timeout", c.Ollama.Timeout, "must be >= 0")
	}

	w := c.Worker
	if w.Concurrency < 1 {
		add("worker.concurrency", w.Concurrency, "must be >= 1")
	}
	if w.Queue == "" {
		add("worker.queue", w.Queue, "must be set")
	}
	if w.MaxRetry < 0 {
		add("worker.max_retry", w.MaxRetry, "must be >= 0")
	}
	if w.RetryBaseDelay <= 0 {
		add("worker.retry_base_delay", w.RetryBaseDelay, "must be positive")
	}
	if w.RetryMaxDelay < w.RetryBaseDelay {
		add("worker.retry_max_delay", w.RetryMaxDelay, "must be >= worker.retry_base_delay")
	}
	if w.TaskTimeout <= 0 {
		add("worker.task_timeout", w.TaskTimeout, "must be positive")
	}

	if !slices.Contains(ValidLogLevels(), c.Log.Level) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		add("log.max_size_mb", c.Log.MaxSizeMB, "must be >= 1 when log.file is set")
	}

	if c.Prompt.MaxDepth < 1 {
		add("prompt.max_depth", c.Prompt.MaxDepth, "must be >= 1")
	}
	if c.Knowledge.MaxContextLen < 1 {
		add("knowledge.max_context_len", c.Knowledge.MaxContextLen, "must be >= 1")
	}

	for name, p := range c.Models {
		field := "models." + name
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			add(field+".temperature", *p.Temperature, "must be between 0 and 2")
		}
		if p.TopP != nil && (*p.TopP <= 0 || *p.TopP > 1) {
			add(field+".top_p", *p.TopP, "must be in (0, 1]")
		}
		if p.MaxTokens < 0 {
			add(field+".max_tokens", p.MaxTokens, "must be >= 0")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
