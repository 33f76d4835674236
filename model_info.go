// model_info.go defines the list_models tool types.
package main

import "github.com/AaronKronberg/OpusPipeline/internal/llm"

// ListModelsArgs is the input for the list_models tool. No arguments needed.
type ListModelsArgs struct{}

// ListModelsOutput lists all models available in the local Ollama instance
// plus the named profiles pipelines can select with model_profile.
type ListModelsOutput struct {
	Models   []llm.ModelInfo        `json:"models"`
	Profiles map[string]llm.Profile `json:"profiles,omitempty"`
}
