package cache

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

CREATE TABLE IF NOT EXISTS snapshots (
	user_id   TEXT PRIMARY KEY,
	unread    INTEGER NOT NULL DEFAULT 0,
	saved_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_items (
	user_id    TEXT NOT NULL REFERENCES snapshots(user_id) ON DELETE CASCADE,
	view       TEXT NOT NULL CHECK(view IN ('active', 'history')),
	position   INTEGER NOT NULL,
	id         INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (user_id, view, id)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_items_order
	ON snapshot_items(user_id, view, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
