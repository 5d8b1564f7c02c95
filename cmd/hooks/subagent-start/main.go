// Package main provides the subagent-start hook entry point.
// This hook fires when a Task tool spawns a subagent; it persists the
// spawn context so the matching subagent-stop event can attribute the
// subagent's file operations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/spawnctx"
	"github.com/hookmill/hookmill/pkg/hooks"
)

// Input is the hook input from Claude Code.
type Input struct {
	hooks.BaseInput
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	Prompt    string `json:"prompt"`
}

func main() {
	hooks.RunHook("SubagentStart", handleSubagentStart)
}

func handleSubagentStart(ctx *hooks.HookContext, input *Input) (string, error) {
	if input.AgentID == "" {
		fmt.Fprintf(os.Stderr, "[subagent-start] No agent id in event, nothing to save\n")
		return "", nil
	}

	cfg := config.Get()
	store := spawnctx.NewFileStore(config.StateDir(ctx.CWD))

	store.Save(spawnctx.SpawnContext{
		ToolUseID: input.AgentID,
		AgentType: input.AgentType,
		Prompt:    input.Prompt,
		SessionID: ctx.SessionID,
		CreatedAt: time.Now().UTC(),
	})

	// Subagents that crash never send a stop event; sweep their leftovers.
	if pruned := store.Prune(cfg.ContextTTL()); pruned > 0 {
		fmt.Fprintf(os.Stderr, "[subagent-start] Pruned %d expired spawn contexts\n", pruned)
	}

	fmt.Fprintf(os.Stderr, "[subagent-start] Saved spawn context for %s (%s)\n", input.AgentID, input.AgentType)
	return "", nil
}
