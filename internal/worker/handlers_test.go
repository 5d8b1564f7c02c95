package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/db/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	group, ctx := errgroup.WithContext(ctx)

	svc := &Service{
		version:      "test",
		config:       config.Default(),
		store:        store,
		attributions: sqlite.NewAttributionStore(store),
		router:       chi.NewRouter(),
		startTime:    time.Now(),
		metrics:      newMetrics(),
		ctx:          ctx,
		cancel:       cancel,
		group:        group,
	}
	svc.setupRoutes()
	return svc
}

func doJSON(t *testing.T, svc *Service, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthAndVersion(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	rec, body := doJSON(t, svc, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doJSON(t, svc, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["version"])
}

func TestRecordAndFetchAttribution(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	rec, body := doJSON(t, svc, http.MethodPost, "/api/attributions", map[string]interface{}{
		"agent_id": "toolu_task_1",
		"project":  "hookmill",
		"record": map[string]interface{}{
			"session_id":    "parent-1",
			"subagent_type": "Explore",
			"agent_prompt":  "find bugs in the resolver",
			"file_operations": map[string]interface{}{
				"created": []string{"/a.go"},
				"edited":  []string{"/b.go"},
				"deleted": []string{},
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["id"])
	assert.Positive(t, body["prompt_tokens"])

	rec, body = doJSON(t, svc, http.MethodGet, "/api/attributions/recent?project=hookmill", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	atts, ok := body["attributions"].([]interface{})
	require.True(t, ok)
	require.Len(t, atts, 1)
	first, ok := atts[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Explore", first["subagent_type"])
	assert.EqualValues(t, 2, first["total_file_ops"])

	rec, _ = doJSON(t, svc, http.MethodGet, "/api/attributions/toolu_task_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, svc, http.MethodGet, "/api/attributions/unknown-agent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordAttributionValidation(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	rec, _ := doJSON(t, svc, http.MethodPost, "/api/attributions", map[string]interface{}{
		"project": "hookmill",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolEventEndpoint(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	rec, _ := doJSON(t, svc, http.MethodPost, "/api/events/tool-use", map[string]interface{}{
		"session_id": "s-1",
		"project":    "hookmill",
		"tool_name":  "Write",
		"file_path":  "/a.go",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, svc, http.MethodPost, "/api/events/tool-use", map[string]interface{}{
		"project": "hookmill",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	count, err := svc.history().ToolEventCount(context.Background(), "s-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	rec, body := doJSON(t, svc, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["attributions"])
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	assert.Zero(t, countTokens(""))
	assert.Positive(t, countTokens("attribute subagent edits to their spawning task"))
}
