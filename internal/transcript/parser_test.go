package transcript

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTranscript = `{"type":"user","message":{"role":"user","content":"fix the parser"},"uuid":"u-1","timestamp":"2026-03-01T09:00:00.000Z","sessionId":"session-abc","cwd":"/work/proj","gitBranch":"main"}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"On it."},{"type":"tool_use","id":"toolu_01","name":"Write","input":{"file_path":"/work/proj/a.go","content":"package a"}}]},"uuid":"a-1","timestamp":"2026-03-01T09:00:05.000Z","sessionId":"session-abc","cwd":"/work/proj","gitBranch":"main"}
{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]},"uuid":"u-2","timestamp":"2026-03-01T09:00:06.000Z","sessionId":"session-abc","cwd":"/work/proj","gitBranch":"main"}
`

func TestParseReader(t *testing.T) {
	t.Parallel()

	entries, err := ParseReader(strings.NewReader(sampleTranscript))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, EntryUser, entries[0].Type)
	assert.Equal(t, "session-abc", entries[0].SessionID)
	assert.Equal(t, "/work/proj", entries[0].CWD)
	assert.Equal(t, "fix the parser", entries[0].Text())

	assert.Equal(t, EntryAssistant, entries[1].Type)
	uses := entries[1].ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_01", uses[0].ID)
	assert.Equal(t, "Write", uses[0].Name)
	assert.Equal(t, "On it.", entries[1].Text())
	assert.False(t, entries[1].Timestamp.IsZero())

	results := entries[2].ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "toolu_01", results[0].ToolUseID)
}

func TestParseReaderTruncatedTail(t *testing.T) {
	t.Parallel()

	// Five well-formed lines plus a half-written sixth.
	var b strings.Builder
	b.WriteString(sampleTranscript)
	b.WriteString(`{"type":"user","message":{"role":"user","content":"next"},"uuid":"u-3","timestamp":"2026-03-01T09:01:00.000Z","sessionId":"session-abc"}` + "\n")
	b.WriteString(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]},"uuid":"a-2","timestamp":"2026-03-01T09:01:05.000Z","sessionId":"session-abc"}` + "\n")
	b.WriteString(`{"type":"assistant","message":{"role":"assist`)

	entries, err := ParseReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestParseReaderMalformedMiddleLine(t *testing.T) {
	t.Parallel()

	input := `{"type":"user","message":{"role":"user","content":"one"},"uuid":"u-1"}
{not json at all}
{"type":"user","message":{"role":"user","content":"two"},"uuid":"u-2"}
`
	entries, err := ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Text())
	assert.Equal(t, "two", entries[1].Text())
}

func TestParseReaderSkipsNonMessageEntries(t *testing.T) {
	t.Parallel()

	input := `{"type":"summary","summary":"short session","leafUuid":"x"}
{"type":"user","message":{"role":"user","content":"hello"},"uuid":"u-1"}
`
	entries, err := ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EntryUser, entries[0].Type)
}

func TestParseFileMissing(t *testing.T) {
	t.Parallel()

	entries, err := ParseFile(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindToolUse(t *testing.T) {
	t.Parallel()

	entries, err := ParseReader(strings.NewReader(sampleTranscript))
	require.NoError(t, err)

	use, ok := FindToolUse(entries, "toolu_01")
	require.True(t, ok)
	assert.Equal(t, "Write", use.Name)

	_, ok = FindToolUse(entries, "toolu_99")
	assert.False(t, ok)

	_, ok = FindToolUse(entries, "")
	assert.False(t, ok)
}
