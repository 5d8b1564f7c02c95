package attribution

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookmill/hookmill/internal/spawnctx"
	"github.com/hookmill/hookmill/internal/transcript"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func assistantToolUse(id, name, input string) string {
	return `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"` + id +
		`","name":"` + name + `","input":` + input +
		`}]},"uuid":"` + id + `","timestamp":"2026-03-01T12:00:00.000Z","sessionId":"agent-session-1"}`
}

func TestClassifyMixedOperations(t *testing.T) {
	t.Parallel()

	// write a.ts, edit a.ts, write b.ts, rm b.ts
	path := writeTranscript(t,
		assistantToolUse("t1", "Write", `{"file_path":"/a.ts","content":"x"}`),
		assistantToolUse("t2", "Edit", `{"file_path":"/a.ts","old_string":"x","new_string":"y"}`),
		assistantToolUse("t3", "Write", `{"file_path":"/b.ts","content":"x"}`),
		assistantToolUse("t4", "Bash", `{"command":"rm /b.ts"}`),
	)

	engine := NewEngine(spawnctx.NewMemStore(), 0)
	record, err := engine.AgentEdits(Request{AgentTranscriptPath: path})
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.ts"}, record.FileOps.Created)
	assert.Empty(t, record.FileOps.Edited)
	assert.Equal(t, []string{"/b.ts"}, record.FileOps.Deleted)
	assert.Equal(t, "agent-session-1", record.AgentSessionID)
}

func TestClassifyPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lines   []string
		created []string
		edited  []string
		deleted []string
	}{
		{
			name: "create then edit stays created",
			lines: []string{
				assistantToolUse("t1", "Write", `{"file_path":"/x.go"}`),
				assistantToolUse("t2", "Edit", `{"file_path":"/x.go"}`),
			},
			created: []string{"/x.go"},
		},
		{
			name: "edit then delete is deleted",
			lines: []string{
				assistantToolUse("t1", "Edit", `{"file_path":"/x.go"}`),
				assistantToolUse("t2", "Bash", `{"command":"rm -f /x.go"}`),
			},
			deleted: []string{"/x.go"},
		},
		{
			name: "edit then write stays edited",
			lines: []string{
				assistantToolUse("t1", "Edit", `{"file_path":"/x.go"}`),
				assistantToolUse("t2", "Write", `{"file_path":"/x.go"}`),
			},
			edited: []string{"/x.go"},
		},
		{
			name: "delete then write comes back as created",
			lines: []string{
				assistantToolUse("t1", "Bash", `{"command":"rm /x.go"}`),
				assistantToolUse("t2", "Write", `{"file_path":"/x.go"}`),
			},
			created: []string{"/x.go"},
		},
		{
			name: "notebook edits use notebook_path",
			lines: []string{
				assistantToolUse("t1", "NotebookEdit", `{"notebook_path":"/nb.ipynb"}`),
			},
			edited: []string{"/nb.ipynb"},
		},
		{
			name: "git rm counts as deletion",
			lines: []string{
				assistantToolUse("t1", "Bash", `{"command":"git rm /old.go && git commit -m x"}`),
			},
			deleted: []string{"/old.go"},
		},
		{
			name: "rm with glob is ignored",
			lines: []string{
				assistantToolUse("t1", "Bash", `{"command":"rm -rf build/*"}`),
			},
		},
		{
			name: "read-only tools attribute nothing",
			lines: []string{
				assistantToolUse("t1", "Read", `{"file_path":"/x.go"}`),
				assistantToolUse("t2", "Grep", `{"pattern":"x"}`),
				assistantToolUse("t3", "Bash", `{"command":"ls -la"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeTranscript(t, tt.lines...)
			engine := NewEngine(spawnctx.NewMemStore(), 0)
			record, err := engine.AgentEdits(Request{AgentTranscriptPath: path})
			require.NoError(t, err)

			assert.Equal(t, tt.created, record.FileOps.Created)
			assert.Equal(t, tt.edited, record.FileOps.Edited)
			assert.Equal(t, tt.deleted, record.FileOps.Deleted)
		})
	}
}

func TestAgentEditsMissingTranscript(t *testing.T) {
	t.Parallel()

	engine := NewEngine(spawnctx.NewMemStore(), 0)
	record, err := engine.AgentEdits(Request{
		AgentTranscriptPath: filepath.Join(t.TempDir(), "missing.jsonl"),
		SessionID:           "parent-1",
	})
	require.NoError(t, err)
	assert.True(t, record.FileOps.Empty())
	assert.Equal(t, "parent-1", record.SessionID)
}

func TestAgentEditsConsumesSpawnContextOnce(t *testing.T) {
	t.Parallel()

	store := spawnctx.NewMemStore()
	store.Save(spawnctx.SpawnContext{
		ToolUseID: "toolu_task_1",
		AgentType: "Explore",
		Prompt:    "find dead code",
		SessionID: "parent-session",
		CreatedAt: time.Now(),
	})

	path := writeTranscript(t,
		assistantToolUse("t1", "Write", `{"file_path":"/a.go"}`),
	)

	engine := NewEngine(store, 0)
	record, err := engine.AgentEdits(Request{
		AgentID:             "toolu_task_1",
		AgentTranscriptPath: path,
	})
	require.NoError(t, err)
	assert.Equal(t, "Explore", record.SubagentType)
	assert.Equal(t, "find dead code", record.AgentPrompt)
	assert.Equal(t, "parent-session", record.SessionID)

	// The context was consumed; a duplicate stop event finds nothing in
	// the store and degrades to the transcript strategies.
	_, ok := store.Load("toolu_task_1")
	assert.False(t, ok)

	again, err := engine.AgentEdits(Request{
		AgentID:             "toolu_task_1",
		AgentTranscriptPath: path,
	})
	require.NoError(t, err)
	assert.Empty(t, again.AgentPrompt)
	assert.Equal(t, []string{"/a.go"}, again.FileOps.Created)
}

func TestAgentEditsResolvesFromParentTranscript(t *testing.T) {
	t.Parallel()

	agentPath := writeTranscript(t,
		assistantToolUse("t1", "Write", `{"file_path":"/new.go"}`),
	)
	parentPath := writeTranscript(t,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_task_9","name":"Task","input":{"subagent_type":"general-purpose","prompt":"add feature"}}]},"uuid":"a-1","timestamp":"2026-03-01T11:59:58.000Z","sessionId":"parent-9"}`,
	)

	engine := NewEngine(spawnctx.NewMemStore(), 0)
	record, err := engine.AgentEdits(Request{
		AgentID:              "agent-no-saved-context",
		AgentType:            "general-purpose",
		AgentTranscriptPath:  agentPath,
		ParentTranscriptPath: parentPath,
	})
	require.NoError(t, err)

	// Fuzzy match: single Task of matching type within the window of the
	// subagent's first entry timestamp.
	assert.Equal(t, "add feature", record.AgentPrompt)
	assert.Equal(t, "parent-9", record.SessionID)
	assert.Equal(t, []string{"/new.go"}, record.FileOps.Created)
}

func TestDeletedPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command string
		want    []string
	}{
		{"rm /a.ts", []string{"/a.ts"}},
		{"rm -rf /tmp/scratch", []string{"/tmp/scratch"}},
		{"cd /repo && rm old.go new.go", []string{"old.go", "new.go"}},
		{"echo done; rm -- /a", []string{"/a"}},
		{"grep rm main.go", nil},
		{"rm $TMPFILE", nil},
		{"ls", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, deletedPaths(tt.command), "command %q", tt.command)
	}
}

func TestClassifyIgnoresUserEntries(t *testing.T) {
	t.Parallel()

	// tool_result echoes of commands in user entries must not be classified.
	entries, err := transcript.ParseReader(strings.NewReader(
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"rm /a.ts"}]},"uuid":"u-1"}` + "\n",
	))
	require.NoError(t, err)

	set := classify(entries)
	assert.True(t, set.Empty())
}
