// Package main provides the post-tool-use hook entry point.
// It records file-touching tool calls with the worker so the stats API can
// report tool activity alongside attribution history.
package main

import (
	"github.com/hookmill/hookmill/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	ToolName  string      `json:"tool_name"`
	ToolInput interface{} `json:"tool_input"`
	ToolUseID string      `json:"tool_use_id"`
}

// skipTools lists tools that never touch files. Skip the HTTP call entirely
// for these to reduce overhead during heavy tool usage.
var skipTools = map[string]bool{
	"Task":            true,
	"TaskOutput":      true,
	"Glob":            true,
	"Grep":            true,
	"LS":              true,
	"ListDir":         true,
	"Read":            true,
	"KillShell":       true,
	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
	"Skill":           true,
	"SlashCommand":    true,
	"WebSearch":       true,
	"WebFetch":        true,
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) (string, error) {
	if skipTools[input.ToolName] {
		return "", nil
	}

	// Events are best-effort: a stopped worker must never break tool use.
	_, _ = hooks.POST(ctx.Port, "/api/events/tool-use", map[string]interface{}{
		"session_id": ctx.SessionID,
		"project":    ctx.Project,
		"tool_name":  input.ToolName,
		"file_path":  filePathFrom(input.ToolInput),
	})

	return "", nil
}

// filePathFrom pulls the target path out of a tool input, checking the
// field names the file tools actually use.
func filePathFrom(toolInput interface{}) string {
	m, ok := toolInput.(map[string]interface{})
	if !ok {
		return ""
	}
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
