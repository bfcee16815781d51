package sqlite

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS memories (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			context_type TEXT NOT NULL,
			content      TEXT NOT NULL,
			metadata     TEXT NOT NULL DEFAULT '{}',
			embedding    BLOB,
			importance   REAL NOT NULL DEFAULT 0.5,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
		CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance, created_at);
	`
	_, err := db.Exec(schema)
	return err
}
