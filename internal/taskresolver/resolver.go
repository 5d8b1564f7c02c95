// Package taskresolver locates the Task tool call that spawned a given
// subagent. Three strategies run in order of decreasing reliability: a
// saved spawn context is exact, tool_result correlation works for
// already-completed sessions, and a type-plus-time-window fuzzy match is
// the last resort for degraded data.
package taskresolver

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/spawnctx"
	"github.com/hookmill/hookmill/internal/transcript"
)

// TaskToolName is the tool the host uses to spawn subagents.
const TaskToolName = "Task"

// DefaultMatchWindow bounds the fuzzy-match strategy. The value is a
// heuristic: two same-typed agents started inside one window are
// indistinguishable, so the strategy refuses to choose between them.
const DefaultMatchWindow = 10 * time.Second

// Query identifies the subagent whose spawn call is wanted.
type Query struct {
	AgentID   string
	AgentType string
	StartedAt time.Time
}

// taskInput is the Task tool's input payload.
type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
}

// Strategy attempts one way of recovering a spawn context. Strategies must
// be side-effect free so they stay independently testable.
type Strategy func(parent []transcript.Entry, q Query) (spawnctx.SpawnContext, bool)

// Resolver runs its strategies in order and short-circuits on the first
// match. A later strategy never overrides an earlier one.
type Resolver struct {
	store      spawnctx.Store
	window     time.Duration
	strategies []Strategy
}

// New builds a resolver over the given store. A non-positive window falls
// back to DefaultMatchWindow.
func New(store spawnctx.Store, window time.Duration) *Resolver {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	r := &Resolver{store: store, window: window}
	r.strategies = []Strategy{
		r.savedContext,
		r.resultCorrelation,
		r.fuzzyMatch,
	}
	return r
}

// Resolve finds the spawn context for q, consulting the saved-context
// store first and falling back to transcript scans. Returns false when no
// strategy produces an unambiguous match.
func (r *Resolver) Resolve(parent []transcript.Entry, q Query) (spawnctx.SpawnContext, bool) {
	for _, strategy := range r.strategies {
		if ctx, ok := strategy(parent, q); ok {
			return ctx, true
		}
	}
	return spawnctx.SpawnContext{}, false
}

// savedContext is the only strategy with an exact join key: the Task
// tool_use id recorded at subagent-start.
func (r *Resolver) savedContext(_ []transcript.Entry, q Query) (spawnctx.SpawnContext, bool) {
	if r.store == nil || q.AgentID == "" {
		return spawnctx.SpawnContext{}, false
	}
	return r.store.Load(q.AgentID)
}

// resultCorrelation scans the parent transcript for a tool_result whose
// content embeds the target agent id, then walks back to the tool_use with
// the same id. Only useful once the subagent has completed and its result
// was recorded, e.g. when analyzing a finished session.
func (r *Resolver) resultCorrelation(parent []transcript.Entry, q Query) (spawnctx.SpawnContext, bool) {
	if q.AgentID == "" {
		return spawnctx.SpawnContext{}, false
	}

	needle := []byte(q.AgentID)
	for _, entry := range parent {
		for _, result := range entry.ToolResults() {
			if !bytes.Contains(result.Content, needle) {
				continue
			}
			use, ok := transcript.FindToolUse(parent, result.ToolUseID)
			if !ok || use.Name != TaskToolName {
				continue
			}
			return contextFromToolUse(parent, use), true
		}
	}
	return spawnctx.SpawnContext{}, false
}

// fuzzyMatch finds Task tool_use blocks of the target's declared type
// whose timestamp lies within the window of the observed start. Zero or
// multiple candidates resolve to not-found: guessing among equally
// plausible spawns would misattribute work.
func (r *Resolver) fuzzyMatch(parent []transcript.Entry, q Query) (spawnctx.SpawnContext, bool) {
	if q.AgentType == "" || q.StartedAt.IsZero() {
		return spawnctx.SpawnContext{}, false
	}

	var candidates []transcript.Block
	for _, entry := range parent {
		if entry.Timestamp.IsZero() {
			continue
		}
		delta := entry.Timestamp.Sub(q.StartedAt)
		if delta < -r.window || delta > r.window {
			continue
		}
		for _, use := range entry.ToolUses() {
			if use.Name != TaskToolName {
				continue
			}
			var input taskInput
			if err := json.Unmarshal(use.Input, &input); err != nil {
				continue
			}
			if input.SubagentType == q.AgentType {
				candidates = append(candidates, use)
			}
		}
	}

	if len(candidates) != 1 {
		if len(candidates) > 1 {
			log.Debug().
				Str("agent_type", q.AgentType).
				Int("candidates", len(candidates)).
				Msg("ambiguous fuzzy match, refusing to guess")
		}
		return spawnctx.SpawnContext{}, false
	}
	return contextFromToolUse(parent, candidates[0]), true
}

// contextFromToolUse rebuilds a spawn context from a Task tool_use found
// in the parent transcript.
func contextFromToolUse(parent []transcript.Entry, use transcript.Block) spawnctx.SpawnContext {
	var input taskInput
	_ = json.Unmarshal(use.Input, &input)

	ctx := spawnctx.SpawnContext{
		ToolUseID: use.ID,
		AgentType: input.SubagentType,
		Prompt:    input.Prompt,
	}

	// The owning entry carries the session id and spawn time.
	for _, entry := range parent {
		for _, candidate := range entry.ToolUses() {
			if candidate.ID == use.ID {
				ctx.SessionID = entry.SessionID
				ctx.CreatedAt = entry.Timestamp
				return ctx
			}
		}
	}
	return ctx
}
