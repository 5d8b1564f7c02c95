package worker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/attribution"
	"github.com/hookmill/hookmill/internal/db/sqlite"
)

// recordRequest is the POST /api/attributions body.
type recordRequest struct {
	AgentID string             `json:"agent_id"`
	Project string             `json:"project"`
	Record  attribution.Record `json:"record"`
}

// toolEventRequest is the POST /api/events/tool-use body.
type toolEventRequest struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	ToolName  string `json:"tool_name"`
	FilePath  string `json:"file_path"`
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.history().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attributions":   count,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Service) handleRecordAttribution(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id is required"})
		return
	}

	stored := &sqlite.StoredAttribution{
		AgentID:      req.AgentID,
		Project:      req.Project,
		PromptTokens: countTokens(req.Record.AgentPrompt),
		Record:       req.Record,
	}
	if err := s.history().Insert(r.Context(), stored); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.metrics.attributionRecorded(r.Context(), req.Record.SubagentType, stored.Record.FileOps.Total())
	log.Info().
		Str("agent_id", req.AgentID).
		Str("subagent_type", req.Record.SubagentType).
		Int("files", stored.Record.FileOps.Total()).
		Msg("attribution recorded")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            stored.ID,
		"prompt_tokens": stored.PromptTokens,
	})
}

func (s *Service) handleRecentAttributions(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	limit := s.config.RecentAttributions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var v int
		if err := json.Unmarshal([]byte(raw), &v); err == nil && v > 0 {
			limit = v
		}
	}

	recent, err := s.history().Recent(r.Context(), project, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attributions": attributionPayload(recent),
	})
}

func (s *Service) handleAttributionsByAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	results, err := s.history().ByAgentID(r.Context(), agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(results) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no attributions for agent"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attributions": attributionPayload(results),
	})
}

func (s *Service) handleToolEvent(w http.ResponseWriter, r *http.Request) {
	var req toolEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and tool_name are required"})
		return
	}

	if err := s.history().InsertToolEvent(r.Context(), req.SessionID, req.Project, req.ToolName, req.FilePath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.metrics.toolEventRecorded(r.Context(), req.ToolName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// attributionPayload flattens stored attributions into the wire shape the
// hooks consume.
func attributionPayload(stored []sqlite.StoredAttribution) []map[string]interface{} {
	payload := make([]map[string]interface{}, 0, len(stored))
	for _, att := range stored {
		payload = append(payload, map[string]interface{}{
			"id":             att.ID,
			"agent_id":       att.AgentID,
			"project":        att.Project,
			"prompt_tokens":  att.PromptTokens,
			"created_at":     att.CreatedAt.Format(time.RFC3339),
			"session_id":     att.Record.SessionID,
			"subagent_type":  att.Record.SubagentType,
			"agent_prompt":   att.Record.AgentPrompt,
			"files_created":  att.Record.FileOps.Created,
			"files_edited":   att.Record.FileOps.Edited,
			"files_deleted":  att.Record.FileOps.Deleted,
			"total_file_ops": att.Record.FileOps.Total(),
		})
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.Error().Err(err).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
