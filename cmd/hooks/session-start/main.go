// Package main provides the session-start hook entry point.
// It ensures the worker is running and injects a digest of recent subagent
// attributions for the project into the new session's context.
package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hookmill/hookmill/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	Source string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	hooks.RunHook("SessionStart", handleSessionStart)
}

func handleSessionStart(ctx *hooks.HookContext, input *Input) (string, error) {
	port, err := hooks.EnsureWorkerRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[session-start] Warning: worker unavailable: %v\n", err)
		return "", nil
	}

	endpoint := fmt.Sprintf("/api/attributions/recent?project=%s", url.QueryEscape(ctx.Project))
	result, err := hooks.GET(port, endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[session-start] Warning: history fetch failed: %v\n", err)
		return "", nil
	}

	attData, ok := result["attributions"].([]interface{})
	if !ok || len(attData) == 0 {
		return "", nil
	}

	fmt.Fprintf(os.Stderr, "[session-start] Injecting %d recent subagent attributions\n", len(attData))

	var b strings.Builder
	b.WriteString("<hookmill-context>\n")
	fmt.Fprintf(&b, "# Recent Subagent Activity (%d runs)\n", len(attData))
	b.WriteString("Files changed by subagents in earlier sessions of this project.\n\n")

	for _, a := range attData {
		att, ok := a.(map[string]interface{})
		if !ok {
			continue
		}
		agent := getString(att, "subagent_type")
		if agent == "" {
			agent = "subagent"
		}
		fmt.Fprintf(&b, "- [%s] %s", agent, getString(att, "created_at"))
		if total, ok := att["total_file_ops"].(float64); ok && total > 0 {
			fmt.Fprintf(&b, ": %s", fileOpsLine(att))
		}
		b.WriteString("\n")
	}

	b.WriteString("</hookmill-context>\n")
	return b.String(), nil
}

// fileOpsLine renders the per-attribution file lists as a single line,
// e.g. "created a.go, b.go; edited c.go".
func fileOpsLine(att map[string]interface{}) string {
	var parts []string
	for _, op := range []string{"created", "edited", "deleted"} {
		files, ok := att["files_"+op].([]interface{})
		if !ok || len(files) == 0 {
			continue
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if s, ok := f.(string); ok && s != "" {
				names = append(names, s)
			}
		}
		if len(names) > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", op, strings.Join(names, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
