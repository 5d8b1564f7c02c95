// Package attribution reconstructs which file operations a subagent
// performed, by walking its transcript and classifying every
// filesystem-affecting tool call.
package attribution

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/spawnctx"
	"github.com/hookmill/hookmill/internal/taskresolver"
	"github.com/hookmill/hookmill/internal/transcript"
)

// operation is the classification of a path after scanning.
type operation int

const (
	opCreated operation = iota
	opEdited
	opDeleted
)

// FileOperationSet holds the paths a subagent created, edited and deleted.
// The sets are disjoint: each path lands in exactly one, per the precedence
// rules in classify. Paths are sorted for deterministic output.
type FileOperationSet struct {
	Created []string `json:"created"`
	Edited  []string `json:"edited"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the subagent touched no files.
func (s FileOperationSet) Empty() bool {
	return len(s.Created) == 0 && len(s.Edited) == 0 && len(s.Deleted) == 0
}

// Total returns the number of attributed paths.
func (s FileOperationSet) Total() int {
	return len(s.Created) + len(s.Edited) + len(s.Deleted)
}

// Record is the attribution result for one subagent invocation. It is
// built on demand at subagent-stop and owned by the caller; nothing here
// is persisted by the engine itself.
type Record struct {
	SessionID      string           `json:"session_id"`
	AgentSessionID string           `json:"agent_session_id"`
	SubagentType   string           `json:"subagent_type"`
	AgentPrompt    string           `json:"agent_prompt"`
	AgentFile      string           `json:"agent_file,omitempty"`
	FileOps        FileOperationSet `json:"file_operations"`
}

// Request carries the fields the subagent-stop envelope provides.
type Request struct {
	AgentID              string
	AgentType            string
	SessionID            string
	CWD                  string
	AgentTranscriptPath  string
	ParentTranscriptPath string
	StartedAt            time.Time
}

// Engine ties the transcript parser, the task resolver and the spawn
// context store together across the start/stop lifecycle gap.
type Engine struct {
	store    spawnctx.Store
	resolver *taskresolver.Resolver
}

// NewEngine builds an engine over store. window tunes the resolver's
// fuzzy-match strategy; zero means the default.
func NewEngine(store spawnctx.Store, window time.Duration) *Engine {
	return &Engine{
		store:    store,
		resolver: taskresolver.New(store, window),
	}
}

// AgentEdits produces the attribution record for one completed subagent.
// A missing or empty transcript yields a record with empty sets: many
// subagents never touch the filesystem, so absence of data is not an
// error. On success the consumed spawn context is removed from the store
// exactly once; a retried stop event falls through to the transcript-based
// resolution strategies instead of reusing stale state.
func (e *Engine) AgentEdits(req Request) (Record, error) {
	record := Record{
		SessionID:    req.SessionID,
		SubagentType: req.AgentType,
	}

	agentEntries, err := transcript.ParseFile(req.AgentTranscriptPath)
	if err != nil {
		return record, err
	}

	startedAt := req.StartedAt
	if startedAt.IsZero() && len(agentEntries) > 0 {
		startedAt = agentEntries[0].Timestamp
	}
	if len(agentEntries) > 0 {
		record.AgentSessionID = agentEntries[0].SessionID
	}

	parentEntries, err := transcript.ParseFile(req.ParentTranscriptPath)
	if err != nil {
		return record, err
	}

	spawn, resolved := e.resolver.Resolve(parentEntries, taskresolver.Query{
		AgentID:   req.AgentID,
		AgentType: req.AgentType,
		StartedAt: startedAt,
	})
	if resolved {
		if spawn.AgentType != "" {
			record.SubagentType = spawn.AgentType
		}
		record.AgentPrompt = spawn.Prompt
		if record.SessionID == "" {
			record.SessionID = spawn.SessionID
		}
	}

	record.AgentFile = findAgentFile(req.CWD, record.SubagentType)
	record.FileOps = classify(agentEntries)

	if resolved && spawn.ToolUseID != "" && e.store != nil {
		e.store.Remove(spawn.ToolUseID)
	}

	return record, nil
}

// writeTools create a file when the path is new; editTools never upgrade
// an existing classification.
var (
	writeTools = map[string]bool{
		"Write": true,
	}
	editTools = map[string]bool{
		"Edit":         true,
		"MultiEdit":    true,
		"NotebookEdit": true,
	}
)

type fileToolInput struct {
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
	Command      string `json:"command"`
}

// classify walks the tool_use blocks in transcript order and assigns each
// touched path to exactly one category. A create sticks through later
// edits; a deletion overrides anything before it. For a path deleted and
// then written again, the last operation wins, so it comes back as
// created.
func classify(entries []transcript.Entry) FileOperationSet {
	ops := make(map[string]operation)

	for _, entry := range entries {
		if entry.Type != transcript.EntryAssistant {
			continue
		}
		for _, use := range entry.ToolUses() {
			var input fileToolInput
			if err := json.Unmarshal(use.Input, &input); err != nil {
				log.Debug().Str("tool", use.Name).Msg("unreadable tool input, skipping")
				continue
			}

			switch {
			case writeTools[use.Name]:
				if input.FilePath == "" {
					continue
				}
				prior, seen := ops[input.FilePath]
				if !seen || prior == opDeleted {
					ops[input.FilePath] = opCreated
				}
			case editTools[use.Name]:
				path := input.FilePath
				if path == "" {
					path = input.NotebookPath
				}
				if path == "" {
					continue
				}
				prior, seen := ops[path]
				if !seen || prior == opDeleted {
					ops[path] = opEdited
				}
			case use.Name == "Bash":
				for _, path := range deletedPaths(input.Command) {
					ops[path] = opDeleted
				}
			}
		}
	}

	var set FileOperationSet
	for path, op := range ops {
		switch op {
		case opCreated:
			set.Created = append(set.Created, path)
		case opEdited:
			set.Edited = append(set.Edited, path)
		case opDeleted:
			set.Deleted = append(set.Deleted, path)
		}
	}
	sort.Strings(set.Created)
	sort.Strings(set.Edited)
	sort.Strings(set.Deleted)
	return set
}

// deletedPaths extracts the paths removed by a shell command. It splits on
// shell operators and reads the arguments of rm and "git rm" segments,
// skipping flags. Globs and variable expansions are left out: the engine
// only trusts literal paths.
func deletedPaths(command string) []string {
	if command == "" || !strings.Contains(command, "rm") {
		return nil
	}

	var paths []string
	for _, segment := range splitShellSegments(command) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}

		var args []string
		switch {
		case fields[0] == "rm":
			args = fields[1:]
		case fields[0] == "git" && len(fields) > 1 && fields[1] == "rm":
			args = fields[2:]
		default:
			continue
		}

		for _, arg := range args {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			if strings.ContainsAny(arg, "*?$`") {
				continue
			}
			paths = append(paths, arg)
		}
	}
	return paths
}

// splitShellSegments breaks a command on ;, &&, || and | so each simple
// command can be inspected on its own.
func splitShellSegments(command string) []string {
	return strings.FieldsFunc(command, func(r rune) bool {
		return r == ';' || r == '&' || r == '|' || r == '\n'
	})
}

// findAgentFile returns the agent-definition doc for agentType, if one
// exists in the project or user agents directory.
func findAgentFile(cwd, agentType string) string {
	if agentType == "" {
		return ""
	}

	var candidates []string
	if cwd != "" {
		candidates = append(candidates, filepath.Join(cwd, ".claude", "agents", agentType+".md"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".claude", "agents", agentType+".md"))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
