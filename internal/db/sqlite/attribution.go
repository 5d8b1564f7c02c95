package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookmill/hookmill/internal/attribution"
)

// StoredAttribution is one persisted attribution record plus its history
// metadata.
type StoredAttribution struct {
	ID           string
	AgentID      string
	Project      string
	PromptTokens int
	CreatedAt    time.Time
	Record       attribution.Record
}

// AttributionStore persists attribution records and tool events.
type AttributionStore struct {
	store *Store
}

// NewAttributionStore creates an attribution store over the given database.
func NewAttributionStore(store *Store) *AttributionStore {
	return &AttributionStore{store: store}
}

// Insert persists one attribution record and its file operations. A
// generated id is assigned when the caller left it empty.
func (s *AttributionStore) Insert(ctx context.Context, att *StoredAttribution) error {
	if att == nil {
		return fmt.Errorf("insert attribution: nil attribution")
	}
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}

	tx, err := s.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert attribution: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attributions (
			id, agent_id, session_id, agent_session_id,
			subagent_type, agent_prompt, prompt_tokens, project,
			created_at, created_at_epoch
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		att.ID,
		att.AgentID,
		att.Record.SessionID,
		att.Record.AgentSessionID,
		att.Record.SubagentType,
		att.Record.AgentPrompt,
		att.PromptTokens,
		att.Project,
		att.CreatedAt.Format(time.RFC3339),
		att.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert attribution: %w", err)
	}

	insertOps := func(paths []string, operation string) error {
		for _, path := range paths {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_operations (attribution_id, path, operation) VALUES (?, ?, ?)`,
				att.ID, path, operation,
			); err != nil {
				return fmt.Errorf("insert %s file operation: %w", operation, err)
			}
		}
		return nil
	}
	if err := insertOps(att.Record.FileOps.Created, "created"); err != nil {
		return err
	}
	if err := insertOps(att.Record.FileOps.Edited, "edited"); err != nil {
		return err
	}
	if err := insertOps(att.Record.FileOps.Deleted, "deleted"); err != nil {
		return err
	}

	return tx.Commit()
}

// Recent returns the newest attributions, optionally filtered by project.
func (s *AttributionStore) Recent(ctx context.Context, project string, limit int) ([]StoredAttribution, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, agent_id, session_id, agent_session_id, subagent_type, agent_prompt, prompt_tokens, project, created_at
		FROM attributions
	`
	args := []interface{}{}
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at_epoch DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent attributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []StoredAttribution
	for rows.Next() {
		att, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent attributions: %w", err)
	}

	for i := range results {
		if err := s.loadFileOps(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ByAgentID returns all attributions recorded for one agent invocation id,
// newest first.
func (s *AttributionStore) ByAgentID(ctx context.Context, agentID string) ([]StoredAttribution, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT id, agent_id, session_id, agent_session_id, subagent_type, agent_prompt, prompt_tokens, project, created_at
		FROM attributions
		WHERE agent_id = ?
		ORDER BY created_at_epoch DESC, id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query attributions by agent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []StoredAttribution
	for rows.Next() {
		att, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributions by agent: %w", err)
	}

	for i := range results {
		if err := s.loadFileOps(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Count returns the total number of stored attributions.
func (s *AttributionStore) Count(ctx context.Context) (int64, error) {
	var count int64
	row := s.store.QueryRowContext(ctx, `SELECT COUNT(*) FROM attributions`)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count attributions: %w", err)
	}
	return count, nil
}

// InsertToolEvent records one raw file-modifying tool event.
func (s *AttributionStore) InsertToolEvent(ctx context.Context, sessionID, project, toolName, filePath string) error {
	_, err := s.store.ExecContext(ctx, `
		INSERT INTO tool_events (session_id, project, tool_name, file_path, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, project, toolName, filePath, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert tool event: %w", err)
	}
	return nil
}

// ToolEventCount returns the number of recorded tool events for a session.
func (s *AttributionStore) ToolEventCount(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	row := s.store.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count tool events: %w", err)
	}
	return count, nil
}

func scanAttribution(rows *sql.Rows) (StoredAttribution, error) {
	var att StoredAttribution
	var sessionID, agentSessionID, subagentType, agentPrompt, project sql.NullString
	var createdAt string

	if err := rows.Scan(
		&att.ID,
		&att.AgentID,
		&sessionID,
		&agentSessionID,
		&subagentType,
		&agentPrompt,
		&att.PromptTokens,
		&project,
		&createdAt,
	); err != nil {
		return att, fmt.Errorf("scan attribution: %w", err)
	}

	att.Record.SessionID = sessionID.String
	att.Record.AgentSessionID = agentSessionID.String
	att.Record.SubagentType = subagentType.String
	att.Record.AgentPrompt = agentPrompt.String
	att.Project = project.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		att.CreatedAt = t
	}
	return att, nil
}

func (s *AttributionStore) loadFileOps(ctx context.Context, att *StoredAttribution) error {
	rows, err := s.store.QueryContext(ctx, `
		SELECT path, operation FROM file_operations
		WHERE attribution_id = ?
		ORDER BY path ASC
	`, att.ID)
	if err != nil {
		return fmt.Errorf("query file operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var path, operation string
		if err := rows.Scan(&path, &operation); err != nil {
			return fmt.Errorf("scan file operation: %w", err)
		}
		switch operation {
		case "created":
			att.Record.FileOps.Created = append(att.Record.FileOps.Created, path)
		case "edited":
			att.Record.FileOps.Edited = append(att.Record.FileOps.Edited, path)
		case "deleted":
			att.Record.FileOps.Deleted = append(att.Record.FileOps.Deleted, path)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate file operations: %w", err)
	}
	return nil
}
