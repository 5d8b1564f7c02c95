// Package spawnctx persists subagent spawn contexts between the
// subagent-start and subagent-stop lifecycle events. The two events arrive
// in separate process invocations, so the store bridges them through a
// small on-disk JSON map keyed by the Task tool_use id.
package spawnctx

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// StateFileName is the per-project spawn context map.
const StateFileName = "spawn-contexts.json"

// SpawnContext records how a subagent was started. It is written at
// subagent-start and consumed exactly once at subagent-stop.
type SpawnContext struct {
	ToolUseID string    `json:"tool_use_id"`
	AgentType string    `json:"agent_type"`
	Prompt    string    `json:"prompt"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the save/load/remove contract. Load never mutates; Remove is
// idempotent. Implementations must treat their own failures as "no saved
// context" because the resolver has fallback strategies for exactly that.
type Store interface {
	Save(ctx SpawnContext)
	Load(toolUseID string) (SpawnContext, bool)
	Remove(toolUseID string)
}

// FileStore keeps the context map in a JSON document under an explicit
// state directory. Two subagent starts from separate hook processes can
// race on the same file; Save uses read-merge-write so the loser of such a
// race at worst drops one sibling entry, which the fuzzy-match fallback
// recovers from.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir. The directory is created
// lazily on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, StateFileName)
}

// Save merges ctx into the on-disk map. I/O failures are logged and
// swallowed: a context that could not be saved still resolves through the
// transcript-based strategies.
func (s *FileStore) Save(ctx SpawnContext) {
	if ctx.ToolUseID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		log.Warn().Err(err).Str("dir", s.dir).Msg("create spawn context dir")
		return
	}

	contexts := s.read()
	contexts[ctx.ToolUseID] = ctx
	s.write(contexts)
}

// Load returns the saved context for toolUseID, if any.
func (s *FileStore) Load(toolUseID string) (SpawnContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.read()[toolUseID]
	return ctx, ok
}

// Remove deletes the entry for toolUseID. Removing an absent key is a no-op.
func (s *FileStore) Remove(toolUseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contexts := s.read()
	if _, ok := contexts[toolUseID]; !ok {
		return
	}
	delete(contexts, toolUseID)
	s.write(contexts)
}

// Prune drops contexts older than maxAge and returns how many were removed.
// Subagents that crash before their stop event would otherwise accumulate
// forever.
func (s *FileStore) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	contexts := s.read()
	cutoff := time.Now().Add(-maxAge)

	pruned := 0
	for id, ctx := range contexts {
		if ctx.CreatedAt.Before(cutoff) {
			delete(contexts, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.write(contexts)
	}
	return pruned
}

// read loads the full map. A missing or corrupt file yields an empty map:
// the store is advisory and must never surface its own failures.
func (s *FileStore) read() map[string]SpawnContext {
	contexts := make(map[string]SpawnContext)

	data, err := os.ReadFile(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path()).Msg("read spawn contexts")
		}
		return contexts
	}

	if err := json.Unmarshal(data, &contexts); err != nil {
		log.Warn().Err(err).Str("path", s.path()).Msg("corrupt spawn context file, starting fresh")
		return make(map[string]SpawnContext)
	}
	return contexts
}

func (s *FileStore) write(contexts map[string]SpawnContext) {
	data, err := json.MarshalIndent(contexts, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("marshal spawn contexts")
		return
	}
	if err := os.WriteFile(s.path(), data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", s.path()).Msg("write spawn contexts")
	}
}

// MemStore is an in-memory Store for tests and for callers that do not
// need persistence across processes.
type MemStore struct {
	mu       sync.Mutex
	contexts map[string]SpawnContext
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{contexts: make(map[string]SpawnContext)}
}

// Save stores ctx, replacing any previous entry for the same tool_use id.
func (s *MemStore) Save(ctx SpawnContext) {
	if ctx.ToolUseID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[ctx.ToolUseID] = ctx
}

// Load returns the saved context for toolUseID, if any.
func (s *MemStore) Load(toolUseID string) (SpawnContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.contexts[toolUseID]
	return ctx, ok
}

// Remove deletes the entry for toolUseID.
func (s *MemStore) Remove(toolUseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, toolUseID)
}
