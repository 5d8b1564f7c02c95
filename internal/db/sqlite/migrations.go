package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the list of all database migrations in order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "attribution_history",
		SQL: `
			-- One row per resolved subagent invocation
			CREATE TABLE IF NOT EXISTS attributions (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL,
				session_id TEXT,
				agent_session_id TEXT,
				subagent_type TEXT,
				agent_prompt TEXT,
				prompt_tokens INTEGER NOT NULL DEFAULT 0,
				project TEXT,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_attributions_agent ON attributions(agent_id);
			CREATE INDEX IF NOT EXISTS idx_attributions_project ON attributions(project);
			CREATE INDEX IF NOT EXISTS idx_attributions_created ON attributions(created_at_epoch DESC);

			-- File operations attributed to an invocation
			CREATE TABLE IF NOT EXISTS file_operations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				attribution_id TEXT NOT NULL,
				path TEXT NOT NULL,
				operation TEXT NOT NULL CHECK(operation IN ('created', 'edited', 'deleted')),
				FOREIGN KEY(attribution_id) REFERENCES attributions(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_file_operations_attribution ON file_operations(attribution_id);
			CREATE INDEX IF NOT EXISTS idx_file_operations_path ON file_operations(path);
		`,
	},
	{
		Version: 2,
		Name:    "tool_events",
		SQL: `
			-- Raw file-modifying tool events forwarded by post-tool-use
			CREATE TABLE IF NOT EXISTS tool_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				project TEXT,
				tool_name TEXT NOT NULL,
				file_path TEXT,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_tool_events_session ON tool_events(session_id);
			CREATE INDEX IF NOT EXISTS idx_tool_events_created ON tool_events(created_at_epoch DESC);
		`,
	},
}

// MigrationManager handles database schema migrations.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// EnsureSchemaVersionsTable creates the schema_versions table if it doesn't exist.
func (m *MigrationManager) EnsureSchemaVersionsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY,
			version INTEGER UNIQUE NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// GetAppliedVersions returns all applied migration versions.
func (m *MigrationManager) GetAppliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_versions ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// ApplyMigration applies a single migration in a transaction.
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		migration.Version, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RunMigrations applies all pending migrations.
func (m *MigrationManager) RunMigrations() error {
	if err := m.EnsureSchemaVersionsTable(); err != nil {
		return fmt.Errorf("ensure schema_versions table: %w", err)
	}

	applied, err := m.GetAppliedVersions()
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.ApplyMigration(migration); err != nil {
			return err
		}
	}

	return nil
}
