package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookmill/hookmill/internal/attribution"
)

func newTestStore(t *testing.T) *AttributionStore {
	t.Helper()

	store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewAttributionStore(store)
}

func TestInsertAndRecent(t *testing.T) {
	t.Parallel()

	attStore := newTestStore(t)
	ctx := context.Background()

	att := &StoredAttribution{
		AgentID:      "toolu_task_1",
		Project:      "hookmill",
		PromptTokens: 12,
		Record: attribution.Record{
			SessionID:      "parent-1",
			AgentSessionID: "agent-1",
			SubagentType:   "Explore",
			AgentPrompt:    "find bugs",
			FileOps: attribution.FileOperationSet{
				Created: []string{"/a.go"},
				Deleted: []string{"/b.go"},
			},
		},
	}
	require.NoError(t, attStore.Insert(ctx, att))
	assert.NotEmpty(t, att.ID)

	recent, err := attStore.Recent(ctx, "hookmill", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "toolu_task_1", recent[0].AgentID)
	assert.Equal(t, "Explore", recent[0].Record.SubagentType)
	assert.Equal(t, []string{"/a.go"}, recent[0].Record.FileOps.Created)
	assert.Equal(t, []string{"/b.go"}, recent[0].Record.FileOps.Deleted)
	assert.Equal(t, 12, recent[0].PromptTokens)
}

func TestRecentFiltersAndLimits(t *testing.T) {
	t.Parallel()

	attStore := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, project := range []string{"alpha", "alpha", "beta"} {
		require.NoError(t, attStore.Insert(ctx, &StoredAttribution{
			AgentID:   "agent-" + project,
			Project:   project,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	alpha, err := attStore.Recent(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	all, err := attStore.Recent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := attStore.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestByAgentID(t *testing.T) {
	t.Parallel()

	attStore := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, attStore.Insert(ctx, &StoredAttribution{AgentID: "agent-x"}))
	require.NoError(t, attStore.Insert(ctx, &StoredAttribution{AgentID: "agent-y"}))

	got, err := attStore.ByAgentID(ctx, "agent-x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "agent-x", got[0].AgentID)

	none, err := attStore.ByAgentID(ctx, "agent-z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestToolEvents(t *testing.T) {
	t.Parallel()

	attStore := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, attStore.InsertToolEvent(ctx, "s-1", "hookmill", "Write", "/a.go"))
	require.NoError(t, attStore.InsertToolEvent(ctx, "s-1", "hookmill", "Edit", "/a.go"))

	count, err := attStore.ToolEventCount(ctx, "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	count, err = attStore.ToolEventCount(ctx, "s-2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(StoreConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening runs RunMigrations again over an up-to-date schema.
	store, err = NewStore(StoreConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
