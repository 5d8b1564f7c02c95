// Package main provides the subagent-stop hook entry point.
// This hook fires when a subagent completes. It attributes the subagent's
// file operations by replaying its transcript, then forwards the record to
// the worker's history API.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hookmill/hookmill/internal/attribution"
	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/spawnctx"
	"github.com/hookmill/hookmill/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	AgentID             string `json:"agent_id"`
	AgentType           string `json:"agent_type"`
	AgentTranscriptPath string `json:"agent_transcript_path"`
	StopHookActive      bool   `json:"stop_hook_active"`
}

func main() {
	hooks.RunHook("SubagentStop", handleSubagentStop)
}

func handleSubagentStop(ctx *hooks.HookContext, input *Input) (string, error) {
	cfg := config.Get()
	store := spawnctx.NewFileStore(config.StateDir(ctx.CWD))
	engine := attribution.NewEngine(store, cfg.MatchWindow())

	record, err := engine.AgentEdits(attribution.Request{
		AgentID:              input.AgentID,
		AgentType:            input.AgentType,
		SessionID:            ctx.SessionID,
		CWD:                  ctx.CWD,
		AgentTranscriptPath:  input.AgentTranscriptPath,
		ParentTranscriptPath: ctx.TranscriptPath,
	})
	if err != nil {
		return "", fmt.Errorf("attribute subagent edits: %w", err)
	}

	fmt.Fprintf(os.Stderr, "[subagent-stop] %s\n", summarize(record))

	// History is best-effort: attribution stands on its own even when the
	// worker is down.
	if _, err := hooks.POST(ctx.Port, "/api/attributions", map[string]interface{}{
		"agent_id": input.AgentID,
		"project":  ctx.Project,
		"record":   record,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "[subagent-stop] Warning: failed to record history: %v\n", err)
	}

	return "", nil
}

// summarize renders a one-line description of the attribution for the
// stderr log, e.g. for use in commit messages by downstream hooks.
func summarize(record attribution.Record) string {
	agent := record.SubagentType
	if agent == "" {
		agent = "subagent"
	}
	if record.FileOps.Empty() {
		return fmt.Sprintf("%s completed, no files modified", agent)
	}

	var parts []string
	if n := len(record.FileOps.Created); n > 0 {
		parts = append(parts, fmt.Sprintf("created %d", n))
	}
	if n := len(record.FileOps.Edited); n > 0 {
		parts = append(parts, fmt.Sprintf("edited %d", n))
	}
	if n := len(record.FileOps.Deleted); n > 0 {
		parts = append(parts, fmt.Sprintf("deleted %d", n))
	}
	return fmt.Sprintf("%s completed: %s files", agent, strings.Join(parts, ", "))
}
