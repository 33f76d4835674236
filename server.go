// server.go registers every tool on the MCP server.
package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const version = "0.1.0"

func newServer(t *tools) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "opuspipe", Version: version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_code_diff_task",
		Description: "Create a pending task that diffs two refs of a git repository.",
	}, t.createCodeDiff)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_requirement_task",
		Description: "Create a pending task that parses requirement text, or a .txt/.md file, into a structured requirement.",
	}, t.createRequirement)
	mcp.AddTool(s, &mcp.Tool{
		Name: "create_pipeline_task",
		Description: "Create a pending pipeline over a completed code diff and/or requirement. " +
			"Inputs must be completed now; they are not checked again when the pipeline runs.",
	}, t.createPipeline)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_task",
		Description: "Full records of specific tasks, results included.",
	}, t.getTask)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks of one kind, newest first, with optional filters.",
	}, t.listTasks)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "update_task",
		Description: "Change the input fields of a task that is not dispatched or running.",
	}, t.updateTask)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_task",
		Description: "Delete a task that is not dispatched or running. Pipelines that used it keep their results.",
	}, t.deleteTask)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_selectors",
		Description: "Completed code diff and requirement tasks usable as pipeline inputs.",
	}, t.listSelectors)

	mcp.AddTool(s, &mcp.Tool{
		Name: "execute_task",
		Description: "Queue a pending, failed or completed task for a run. Returns the execution to poll " +
			"with get_progress. config_override applies to this run only.",
	}, t.executeTask)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "cancel_tasks",
		Description: "Cancel unfinished tasks of one kind. A running model call is not interrupted; its result is discarded.",
	}, t.cancelTasks)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "check_tasks",
		Description: "Lightweight status poll: aggregate counts plus per-task status and elapsed seconds, no results.",
	}, t.checkTasks)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_progress",
		Description: "Progress of one execution, or of a task's latest execution.",
	}, t.getProgress)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_executions",
		Description: "Every run attempt of a task, newest first.",
	}, t.listExecutions)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_stats",
		Description: "Task counts per kind and status, with the overall success rate.",
	}, t.getStats)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_template",
		Description: "Store a prompt template. Other templates can chain to it with {{GENERATE_FROM:identifier}}.",
	}, t.createTemplate)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_templates",
		Description: "List prompt templates.",
	}, t.listTemplates)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "update_template",
		Description: "Change a template's name, content, description, category or active flag.",
	}, t.updateTemplate)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_template",
		Description: "Delete a template. Pipelines that referenced it fall back to the built-in prompt.",
	}, t.deleteTemplate)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "validate_prompt",
		Description: "Check a template body without calling a model: variables, chained templates, and a preview.",
	}, t.validatePrompt)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "resolve_prompt",
		Description: "Fully resolve a stored template or inline body. Chained templates become [LLM_OUTPUT_FOR:id] blocks, " +
			"or model answers when prompt.chain_with_model is set.",
	}, t.resolvePrompt)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_models",
		Description: "Models available in the local Ollama instance and the configured model profiles.",
	}, t.listModels)

	return s
}
