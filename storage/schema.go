package storage

// Schema is created on open. The partial unique index on
// (series_id, column_date) is what makes concurrent materialization safe:
// a racing insert for the same calendar slot conflicts instead of
// duplicating the occurrence.
const schema = `
CREATE TABLE IF NOT EXISTS recurrence_series (
	id   TEXT PRIMARY KEY,
	rule TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'BRAINDUMP',
	is_completed INTEGER NOT NULL DEFAULT 0,
	ord          INTEGER NOT NULL DEFAULT 0,
	duration_min INTEGER,
	column_date  TEXT,
	start_at     TEXT,
	end_at       TEXT,
	series_id    TEXT REFERENCES recurrence_series(id),
	project_id   TEXT,
	tags         TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_series_slot
	ON tasks(series_id, column_date)
	WHERE series_id IS NOT NULL AND column_date IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_series ON tasks(series_id) WHERE series_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS user_settings (
	user_id  TEXT PRIMARY KEY,
	timezone TEXT NOT NULL DEFAULT 'UTC'
);
`
