package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS folder_state (
	folder   TEXT PRIMARY KEY,
	last_uid INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	folder                 TEXT NOT NULL,
	uid                    INTEGER NOT NULL,
	message_id             TEXT NOT NULL DEFAULT '',
	subject                TEXT NOT NULL DEFAULT '',
	from_addr              TEXT NOT NULL DEFAULT '',
	date                   TEXT NOT NULL DEFAULT '',
	fingerprint            TEXT NOT NULL DEFAULT '',
	priority               INTEGER NOT NULL DEFAULT 0,
	category               TEXT NOT NULL DEFAULT '',
	confidence             REAL NOT NULL DEFAULT 0,
	rationale              TEXT NOT NULL DEFAULT '',
	tags                   TEXT NOT NULL DEFAULT '[]',
	reply_needed           INTEGER NOT NULL DEFAULT 0,
	contains_event_request INTEGER NOT NULL DEFAULT 0,
	filing_folder          TEXT NOT NULL DEFAULT '',
	filing_status          TEXT NOT NULL DEFAULT '',
	draft_uid              INTEGER NOT NULL DEFAULT 0,
	calendar_event_id      TEXT NOT NULL DEFAULT '',
	last_error             TEXT NOT NULL DEFAULT '',
	attempts               INTEGER NOT NULL DEFAULT 0,
	updated_at             DATETIME NOT NULL,
	PRIMARY KEY (folder, uid)
);

CREATE TABLE IF NOT EXISTS task_runs (
	task_name   TEXT NOT NULL,
	bucket      TEXT NOT NULL,
	status      TEXT NOT NULL,
	executed_at DATETIME NOT NULL,
	PRIMARY KEY (task_name, bucket)
);

CREATE TABLE IF NOT EXISTS replied_moves (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	from_addr  TEXT NOT NULL DEFAULT '',
	moved_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_updated_at ON messages(updated_at);
CREATE INDEX IF NOT EXISTS idx_messages_filing_status ON messages(filing_status);
CREATE INDEX IF NOT EXISTS idx_messages_reply_needed ON messages(reply_needed);
CREATE INDEX IF NOT EXISTS idx_replied_moves_moved_at ON replied_moves(moved_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
