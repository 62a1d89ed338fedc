package sqlite

import "github.com/xraph/sdlq/store/sqlmigrate"

// migrations are the SQLite schema steps. The column types differ from the
// PostgreSQL schema but the layout is the same.
var migrations = []sqlmigrate.Migration{
	{
		Version: 1,
		Name:    "create_letters",
		SQL: `
			CREATE TABLE IF NOT EXISTS sdlq_letters (
				id           TEXT PRIMARY KEY,
				sequence_id  TEXT    NOT NULL,
				seq_index    INTEGER NOT NULL,
				enqueued_at  TEXT    NOT NULL,
				payload      BLOB,
				payload_type TEXT    NOT NULL DEFAULT '',
				metadata     TEXT,
				cause_kind   TEXT    NOT NULL DEFAULT '',
				cause_detail TEXT    NOT NULL DEFAULT '',
				cause_chain  TEXT,
				diagnostics  TEXT,
				UNIQUE (sequence_id, seq_index)
			)`,
	},
	{
		Version: 2,
		Name:    "index_enqueued_at",
		SQL:     `CREATE INDEX IF NOT EXISTS sdlq_letters_enqueued_at ON sdlq_letters (enqueued_at)`,
	},
}
