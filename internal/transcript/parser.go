// Package transcript parses Claude Code JSONL session transcripts.
package transcript

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// maxLineSize caps a single transcript line. Assistant messages with large
// tool outputs routinely exceed the bufio default.
const maxLineSize = 1024 * 1024

// EntryType discriminates transcript entries.
type EntryType string

const (
	EntryUser      EntryType = "user"
	EntryAssistant EntryType = "assistant"
)

// BlockType discriminates content blocks within an entry.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one content block of a transcript entry. Exactly one shape is
// populated depending on Type: Text for text blocks, ID/Name/Input for
// tool_use blocks, ToolUseID/Content for tool_result blocks.
type Block struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Entry is one parsed line of a transcript. Entries are ordered by file
// position, which the host guarantees to be write order.
type Entry struct {
	Type      EntryType
	UUID      string
	SessionID string
	CWD       string
	GitBranch string
	Timestamp time.Time
	Blocks    []Block
}

// ToolUses returns the tool_use blocks of the entry in order.
func (e Entry) ToolUses() []Block {
	var uses []Block
	for _, b := range e.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks of the entry in order.
func (e Entry) ToolResults() []Block {
	var results []Block
	for _, b := range e.Blocks {
		if b.Type == BlockToolResult {
			results = append(results, b)
		}
	}
	return results
}

// Text concatenates the text blocks of the entry.
func (e Entry) Text() string {
	var parts []string
	for _, b := range e.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawLine struct {
	Type      string     `json:"type"`
	UUID      string     `json:"uuid"`
	Message   rawMessage `json:"message"`
	Timestamp string     `json:"timestamp"`
	SessionID string     `json:"sessionId"`
	CWD       string     `json:"cwd"`
	GitBranch string     `json:"gitBranch"`
}

// ParseFile parses a JSONL transcript at path. A missing file yields an
// empty sequence, not an error: callers treat "no transcript yet" as a
// routine state. The file is re-read on every call because the host appends
// to transcripts between hook invocations.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the hook envelope
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		log.Warn().Err(err).Str("path", path).Msg("open transcript")
		return nil, nil
	}
	defer func() {
		_ = f.Close()
	}()

	return ParseReader(f)
}

// ParseReader parses JSONL transcript data from r. Malformed lines are
// skipped, including a truncated final line from a transcript read
// mid-write, so the caller always gets every entry that was fully flushed.
func ParseReader(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, bufio.MaxScanTokenSize), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			log.Debug().Int("line", lineNo).Msg("skipping malformed transcript line")
			continue
		}

		entry, ok := buildEntry(raw)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		// An over-long or truncated tail loses only the unflushed remainder.
		log.Debug().Err(err).Int("line", lineNo).Msg("transcript scan stopped early")
	}

	return entries, nil
}

func buildEntry(raw rawLine) (Entry, bool) {
	var typ EntryType
	switch raw.Type {
	case "user":
		typ = EntryUser
	case "assistant":
		typ = EntryAssistant
	default:
		// Summary, system and future entry kinds carry nothing attributable.
		return Entry{}, false
	}

	entry := Entry{
		Type:      typ,
		UUID:      raw.UUID,
		SessionID: raw.SessionID,
		CWD:       raw.CWD,
		GitBranch: raw.GitBranch,
		Blocks:    parseBlocks(raw.Message.Content),
	}
	if ts, ok := parseTimestamp(raw.Timestamp); ok {
		entry.Timestamp = ts
	}
	return entry, true
}

// parseBlocks normalizes message content. The host writes either a bare
// string (plain user prompts) or an array of typed blocks.
func parseBlocks(content json.RawMessage) []Block {
	if len(content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		if text == "" {
			return nil
		}
		return []Block{{Type: BlockText, Text: text}}
	}

	var raws []Block
	if err := json.Unmarshal(content, &raws); err != nil {
		return nil
	}

	blocks := make([]Block, 0, len(raws))
	for _, b := range raws {
		switch b.Type {
		case BlockText, BlockToolUse, BlockToolResult:
			blocks = append(blocks, b)
		default:
			// Thinking and image blocks are not relevant to attribution.
		}
	}
	return blocks
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, true
	}
	t, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FindToolUse locates the tool_use block with the given id, scanning
// entries in order.
func FindToolUse(entries []Entry, id string) (Block, bool) {
	if id == "" {
		return Block{}, false
	}
	for _, entry := range entries {
		for _, use := range entry.ToolUses() {
			if use.ID == id {
				return use, true
			}
		}
	}
	return Block{}, false
}
